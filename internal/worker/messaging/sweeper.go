// Package messagingworker holds the periodic jobs that keep outbound messages
// moving when a webhook process died mid-send or a status callback was lost.
package messagingworker

import (
	"context"
	"errors"
	"time"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/pkg/logging"
)

type pendingStore interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]messaging.Message, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, msg *messaging.Message) (carrier.SendResult, error)
}

// PendingSweeper re-dispatches outbound replies that stayed pending longer
// than the stale window, e.g. a lost queue job or a crash between persist
// and send.
type PendingSweeper struct {
	store      pendingStore
	dispatcher dispatcher
	logger     *logging.Logger
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func NewPendingSweeper(store pendingStore, d dispatcher, logger *logging.Logger) *PendingSweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &PendingSweeper{
		store:      store,
		dispatcher: d,
		logger:     logger,
		interval:   time.Minute,
		staleAfter: 2 * time.Minute,
		batch:      25,
		now:        time.Now,
	}
}

func (s *PendingSweeper) WithInterval(d time.Duration) *PendingSweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *PendingSweeper) WithStaleAfter(d time.Duration) *PendingSweeper {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

func (s *PendingSweeper) WithBatchSize(n int) *PendingSweeper {
	if n > 0 {
		s.batch = n
	}
	return s
}

func (s *PendingSweeper) Run(ctx context.Context) {
	runEvery(ctx, s.interval, s.drain)
}

func (s *PendingSweeper) drain(ctx context.Context) {
	if s.store == nil || s.dispatcher == nil {
		return
	}
	msgs, err := s.store.ListStalePending(ctx, s.now().Add(-s.staleAfter), s.batch)
	if err != nil {
		s.logger.Error("stale pending fetch failed", "error", err)
		return
	}
	for i := range msgs {
		if ctx.Err() != nil {
			return
		}
		msg := &msgs[i]
		res, err := s.dispatcher.Dispatch(ctx, msg)
		switch {
		case errors.Is(err, messaging.ErrNotPending):
			continue
		case err != nil:
			s.logger.Warn("stale pending dispatch failed", "error", err, "message_id", msg.ID)
		default:
			s.logger.Info("stale pending message dispatched", "message_id", msg.ID, "tenant_id", msg.TenantID, "outcome", res.Outcome)
		}
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
