package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchRules loads rules.yaml and calls onUpdate, then polls the file mtime and
// calls onUpdate again after every successful reload. A broken edit is logged
// and the previous rules stay in effect.
func WatchRules(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*RulesConfig)) error {
	if path == "" {
		path = "configs/rules.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadRules(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()

				cfg, err := LoadRules(path)
				if err != nil {
					if logger != nil {
						logger.Error().Err(err).Str("path", path).Msg("Failed to reload rules, keeping previous")
					}
					continue
				}
				if logger != nil {
					logger.Info().Str("path", path).Int("rules", len(cfg.Parsed)).Msg("Rules reloaded")
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
