package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"clinicslots/internal/metrics"
)

type WarmerConfig struct {
	Days          int           // days ahead, today included
	Interval      time.Duration // between passes
	RatePerSecond float64       // schedule computations per second
}

// Warmer precomputes upcoming day schedules of every active practitioner so
// reads hit the cache.
type Warmer struct {
	service *Service
	limiter *rate.Limiter
	config  WarmerConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewWarmer(service *Service, cfg WarmerConfig, m *metrics.Metrics, logger *zerolog.Logger) *Warmer {
	if cfg.Days <= 0 {
		cfg.Days = 14
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Warmer{
		service: service,
		limiter: rate.NewLimiter(limit, 1),
		config:  cfg,
		metrics: m,
		logger:  logger.With().Str("component", "warmer").Logger(),
		now:     time.Now,
	}
}

// Run warms immediately and then on every interval until ctx ends.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if n, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Int("days", n).Msg("Warm-up pass failed")
		} else {
			w.logger.Debug().Int("days", n).Msg("Warm-up pass done")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce computes the configured window for every active practitioner and
// returns the number of days computed. A failing practitioner is logged and
// skipped.
func (w *Warmer) RunOnce(ctx context.Context) (int, error) {
	practitioners, err := w.service.ActivePractitioners(ctx)
	if err != nil {
		return 0, err
	}

	today := w.service.Day(w.now())
	count := 0
	for _, p := range practitioners {
		for i := 0; i < w.config.Days; i++ {
			if err := w.limiter.Wait(ctx); err != nil {
				return count, err
			}
			if _, err := w.service.DaySchedule(ctx, p.ID, today.AddDate(0, 0, i)); err != nil {
				w.logger.Warn().Err(err).Str("practitioner", p.ID).Msg("Warm-up failed")
				break
			}
			w.metrics.IncWarmupDay()
			count++
		}
	}
	return count, nil
}
