package storage

import (
	"context"
	"log/slog"
	"time"

	"satchel/internal/server/database"
)

// SweepSource is the slice of the file repository the sweeper needs.
type SweepSource interface {
	GetExpiredActive(ctx context.Context) ([]*database.FileRecord, error)
	SoftDelete(ctx context.Context, id string) error
}

// Sweeper periodically reclaims expired files: the blob is removed from the
// object store first, then the metadata row is soft-deleted. It is the only
// component that performs physical blob deletion for expired records.
//
// A record is only marked deleted after its blob removal succeeded, so a
// failed removal is retried on the next pass. Both steps are idempotent,
// which makes concurrent passes safe: a second pass either no longer sees
// the record (state flipped) or re-runs two no-ops.
type Sweeper struct {
	repo     SweepSource
	store    ObjectStore
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a new expiration sweeper.
func NewSweeper(repo SweepSource, store ObjectStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("expiration sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.RunSweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.RunSweep(ctx)
			case <-ctx.Done():
				slog.Info("expiration sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// RunSweep executes one full pass. Per-record failures are logged and
// skipped; the pass always iterates to completion and never returns an
// error to its caller.
func (s *Sweeper) RunSweep(ctx context.Context) (reclaimed, failed int) {
	expired, err := s.repo.GetExpiredActive(ctx)
	if err != nil {
		slog.Error("failed to query expired files", "error", err)
		return 0, 0
	}

	if len(expired) == 0 {
		slog.Info("no expired files to reclaim")
		return 0, 0
	}

	slog.Info("reclaiming expired files", "count", len(expired))

	for _, rec := range expired {
		if err := s.store.Remove(ctx, rec.StorageKey); err != nil {
			// Leave the record active-but-expired; lookups already treat it
			// as gone and the next pass retries the removal.
			slog.Error("failed to remove blob",
				"file_id", rec.ID,
				"storage_key", rec.StorageKey,
				"error", err,
			)
			failed++
			continue
		}

		if err := s.repo.SoftDelete(ctx, rec.ID); err != nil {
			slog.Error("failed to mark file deleted",
				"file_id", rec.ID,
				"error", err,
			)
			failed++
			continue
		}

		reclaimed++
		slog.Info("reclaimed expired file",
			"file_id", rec.ID,
			"display_name", rec.DisplayName,
			"expired_at", rec.ExpiresAt,
		)
	}

	slog.Info("sweep complete",
		"reclaimed", reclaimed,
		"failed", failed,
		"total_expired", len(expired),
	)
	return reclaimed, failed
}
