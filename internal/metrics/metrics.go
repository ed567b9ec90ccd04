package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "clinicslots"

// Metrics holds Prometheus metrics for the slot engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// ScheduleRequests counts day schedule lookups by source (cache, computed).
	ScheduleRequests *prometheus.CounterVec

	// ComputeDuration is the time to compute a day schedule from rules.
	ComputeDuration prometheus.Histogram

	// SlotsGenerated is the total number of slots produced.
	SlotsGenerated prometheus.Counter

	// InvalidRules counts rules skipped during generation.
	InvalidRules prometheus.Counter

	// Utilization is the last computed booked share per practitioner, 0-100.
	Utilization *prometheus.GaugeVec

	// BookingEvents counts consumed booking messages by action and result.
	BookingEvents *prometheus.CounterVec

	// CacheInvalidations counts schedule cache invalidations by reason.
	CacheInvalidations *prometheus.CounterVec

	// WarmupDays counts days precomputed by the warmer.
	WarmupDays prometheus.Counter

	// RulesReloads counts rules.yaml reloads by status.
	RulesReloads *prometheus.CounterVec

	// Reports counts utilization report runs by status.
	Reports *prometheus.CounterVec
}

// New creates metrics registered with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScheduleRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "schedule_requests_total",
				Help:      "Day schedule lookups by source",
			},
			[]string{"source"},
		),

		ComputeDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "schedule_compute_duration_seconds",
				Help:      "Time to compute a day schedule",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
			},
		),

		SlotsGenerated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "slots_generated_total",
				Help:      "Total number of slots generated",
			},
		),

		InvalidRules: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "invalid_rules_total",
				Help:      "Rules skipped because they cannot produce slots",
			},
		),

		Utilization: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "utilization_rate",
				Help:      "Booked share of slots in the last computed day, percent",
			},
			[]string{"practitioner"},
		),

		BookingEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "booking_events_total",
				Help:      "Consumed booking messages by action and result",
			},
			[]string{"action", "result"},
		),

		CacheInvalidations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cache_invalidations_total",
				Help:      "Schedule cache invalidations by reason",
			},
			[]string{"reason"},
		),

		WarmupDays: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "warmup_days_total",
				Help:      "Days precomputed by the cache warmer",
			},
		),

		RulesReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rules_reloads_total",
				Help:      "Rules file reloads by status",
			},
			[]string{"status"},
		),

		Reports: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "reports_total",
				Help:      "Utilization report runs by status",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) IncScheduleRequest(source string) {
	if m == nil {
		return
	}
	m.ScheduleRequests.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveCompute(d time.Duration, slots int) {
	if m == nil {
		return
	}
	m.ComputeDuration.Observe(d.Seconds())
	m.SlotsGenerated.Add(float64(slots))
}

func (m *Metrics) IncInvalidRule() {
	if m == nil {
		return
	}
	m.InvalidRules.Inc()
}

func (m *Metrics) SetUtilization(practitionerID string, rate float64) {
	if m == nil {
		return
	}
	m.Utilization.WithLabelValues(practitionerID).Set(rate)
}

func (m *Metrics) IncBookingEvent(action, result string) {
	if m == nil {
		return
	}
	m.BookingEvents.WithLabelValues(action, result).Inc()
}

func (m *Metrics) IncCacheInvalidation(reason string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncWarmupDay() {
	if m == nil {
		return
	}
	m.WarmupDays.Inc()
}

func (m *Metrics) IncRulesReload(status string) {
	if m == nil {
		return
	}
	m.RulesReloads.WithLabelValues(status).Inc()
}

func (m *Metrics) IncReport(status string) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(status).Inc()
}
