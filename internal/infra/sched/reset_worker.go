package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/infra/metrics"
	red "solomate-backend/internal/infra/redis"
	"solomate-backend/internal/usecase"
)

const resetLockKey = "talktime:nightly_reset"

// ResetWorker resets recurring-tier talk-time balances to their ceilings once
// per local day, shortly after midnight. The redis lock single-flights the
// reset across instances.
type ResetWorker struct {
	interval time.Duration
	lockTTL  time.Duration
	entUC    usecase.EntitlementUseCase
	locker   red.Locker
	log      *zerolog.Logger

	lastRun time.Time // midnight of the last day a reset ran
}

func NewResetWorker(interval, lockTTL time.Duration, entUC usecase.EntitlementUseCase, locker red.Locker, logger *zerolog.Logger) *ResetWorker {
	l := logger.With().Str("component", "ResetWorker").Logger()
	return &ResetWorker{
		interval: interval,
		lockTTL:  lockTTL,
		entUC:    entUC,
		locker:   locker,
		log:      &l,
	}
}

func (w *ResetWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting talk-time reset worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping talk-time reset worker")
			return ctx.Err()
		case now := <-ticker.C:
			if !w.due(now) {
				continue
			}
			w.runOnce(ctx, now)
		}
	}
}

// due reports whether a new local day has started since the last reset.
func (w *ResetWorker) due(now time.Time) bool {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return w.lastRun.Before(midnight)
}

func (w *ResetWorker) runOnce(ctx context.Context, now time.Time) {
	token, err := w.locker.TryLock(ctx, resetLockKey, w.lockTTL)
	if err != nil {
		if err == domain.ErrLockNotAcquired {
			// Another instance is on it; count today as done.
			w.lastRun = now
			return
		}
		w.log.Error().Err(err).Msg("reset lock error")
		return
	}
	defer func() {
		if uerr := w.locker.Unlock(ctx, resetLockKey, token); uerr != nil {
			w.log.Warn().Err(uerr).Msg("reset lock release failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	n, err := w.entUC.ResetNightly(runCtx)
	if err != nil {
		w.log.Error().Err(err).Msg("nightly talk-time reset failed")
		return
	}
	w.lastRun = now
	metrics.AddResets(n)
	w.log.Info().Int("count", n).Msg("talk-time balances reset")
}
