package service

import (
	"context"
	"errors"
	"time"

	"github.com/devkade/hackathon-starter/internal/logger"
	"github.com/devkade/hackathon-starter/internal/port/database"
)

// Reaper fails conversations whose sandbox has outlived the provider's
// time budget without reporting back.
type Reaper struct {
	store  database.Store
	convs  *ConversationService
	maxAge time.Duration
	now    func() time.Time
}

// NewReaper creates a reaper that expires conversations running for longer
// than maxAge (the sandbox timeout plus a grace period).
func NewReaper(store database.Store, convs *ConversationService, maxAge time.Duration) *Reaper {
	return &Reaper{store: store, convs: convs, maxAge: maxAge, now: time.Now}
}

// Sweep expires every stale running conversation and returns how many it changed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)
	stale, err := r.store.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	log := logger.FromContext(ctx)
	expired := 0
	var errs []error
	for i := range stale {
		changed, err := r.convs.Expire(ctx, stale[i].ID, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			expired++
			log.Warn("conversation expired", "conversation_id", stale[i].ID, "updated_at", stale[i].UpdatedAt)
		}
	}
	return expired, errors.Join(errs...)
}

// Run adapts Sweep to a scheduler job.
func (r *Reaper) Run(ctx context.Context) error {
	_, err := r.Sweep(ctx)
	return err
}
