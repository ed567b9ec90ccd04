package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"clinicslots/internal/metrics"
)

// Exporter pushes rows to an external spreadsheet.
type Exporter interface {
	Export(ctx context.Context, rows []Row) error
}

// Notifier delivers a finished workbook.
type Notifier interface {
	SendDocument(ctx context.Context, name string, data []byte, caption string) error
}

type SchedulerConfig struct {
	Spec      string // cron expression, evaluated in Location
	Days      int    // report window starting today
	OutputDir string // empty disables writing files
	Location  *time.Location
}

// Scheduler builds the utilization report on a cron schedule and hands it to
// the configured sinks. Sinks are optional.
type Scheduler struct {
	builder  *Builder
	exporter Exporter
	notifier Notifier
	config   SchedulerConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	cron *cron.Cron
}

func NewScheduler(builder *Builder, exporter Exporter, notifier Notifier, cfg SchedulerConfig, m *metrics.Metrics, logger *zerolog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	return &Scheduler{
		builder:  builder,
		exporter: exporter,
		notifier: notifier,
		config:   cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "report").Logger(),
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(cfg.Location)),
	}
}

// Start registers the job and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.config.Spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Report run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("parse report schedule %q: %w", s.config.Spec, err)
	}

	s.cron.Start()
	s.logger.Info().Str("spec", s.config.Spec).Msg("Report scheduler started")
	return nil
}

// Stop stops the runner and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce builds and delivers one report. It returns the written file path,
// empty when no output dir is configured.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	now := s.now().In(s.config.Location)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, s.config.Location)

	rows, err := s.builder.Build(ctx, today, s.config.Days)
	if err != nil {
		s.metrics.IncReport("error")
		return "", err
	}

	var buf bytes.Buffer
	if err := WriteExcel(rows, &buf); err != nil {
		s.metrics.IncReport("error")
		return "", fmt.Errorf("write workbook: %w", err)
	}

	name := fmt.Sprintf("utilization_%s.xlsx", today.Format("2006-01-02"))
	var path string
	if s.config.OutputDir != "" {
		if err := os.MkdirAll(s.config.OutputDir, 0o755); err != nil {
			s.metrics.IncReport("error")
			return "", fmt.Errorf("create report dir: %w", err)
		}
		path = filepath.Join(s.config.OutputDir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			s.metrics.IncReport("error")
			return "", fmt.Errorf("save report: %w", err)
		}
	}

	// Sink failures are logged; the report itself succeeded.
	if s.exporter != nil {
		if err := s.exporter.Export(ctx, rows); err != nil {
			s.logger.Error().Err(err).Msg("Sheets export failed")
		}
	}
	if s.notifier != nil {
		caption := fmt.Sprintf("Utilization %s, %d days", today.Format("02.01.2006"), s.config.Days)
		if err := s.notifier.SendDocument(ctx, name, buf.Bytes(), caption); err != nil {
			s.logger.Error().Err(err).Msg("Report delivery failed")
		}
	}

	s.metrics.IncReport("ok")
	s.logger.Info().Int("rows", len(rows)).Str("path", path).Msg("Report built")
	return path, nil
}
