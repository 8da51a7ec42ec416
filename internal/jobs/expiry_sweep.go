package jobs

import (
	"context"
	"time"

	"github.com/ieppc/matricula/internal/config"
	"github.com/rs/zerolog"
)

// Expirer moves overdue pending pre-registrations to expired
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// StartExpirySweepJob runs the expiry sweep on a ticker until ctx is done.
// The returned channel is closed when the job stops; it is nil when the job
// is disabled.
func StartExpirySweepJob(ctx context.Context, cfg config.RegistrationSettings, expirer Expirer, logger zerolog.Logger) <-chan struct{} {
	if !cfg.SweepEnabled {
		logger.Info().Msg("Expiry sweep job disabled")
		return nil
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				n, err := expirer.ExpireOverdue(tickCtx)
				cancel()
				if err != nil {
					logger.Error().Err(err).Msg("Expiry sweep failed")
					continue
				}
				if n > 0 {
					logger.Info().Int64("expired", n).Msg("Expiry sweep expired pre-registrations")
				}
			}
		}
	}()

	logger.Info().Dur("interval", interval).Msg("Expiry sweep job started")
	return done
}
