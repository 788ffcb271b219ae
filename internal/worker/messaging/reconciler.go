package messagingworker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/pkg/logging"
)

type deliveryStore interface {
	ListAwaitingDelivery(ctx context.Context, olderThan, notBefore time.Time, limit int) ([]messaging.Message, error)
	MarkReconciled(ctx context.Context, id uuid.UUID) error
	ApplyStatusUpdate(ctx context.Context, update messaging.StatusUpdate) (bool, error)
}

type messageFetcher interface {
	FetchMessage(ctx context.Context, sid string) (*carrier.MessageRecord, error)
}

// StatusReconciler polls the carrier for sent messages that never received a
// final status callback. Updates go through the same forward-only rules as
// callbacks. Each polled message is stamped so the next pass starts with
// unchecked ones; messages older than maxAge are left alone.
type StatusReconciler struct {
	store    deliveryStore
	carrier  messageFetcher
	logger   *logging.Logger
	interval time.Duration
	after    time.Duration
	maxAge   time.Duration
	batch    int
	now      func() time.Time
}

func NewStatusReconciler(store deliveryStore, fetcher messageFetcher, logger *logging.Logger) *StatusReconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatusReconciler{
		store:    store,
		carrier:  fetcher,
		logger:   logger,
		interval: 10 * time.Minute,
		after:    15 * time.Minute,
		maxAge:   48 * time.Hour,
		batch:    50,
		now:      time.Now,
	}
}

func (r *StatusReconciler) WithInterval(d time.Duration) *StatusReconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *StatusReconciler) WithReconcileAfter(d time.Duration) *StatusReconciler {
	if d > 0 {
		r.after = d
	}
	return r
}

func (r *StatusReconciler) WithMaxAge(d time.Duration) *StatusReconciler {
	if d > 0 {
		r.maxAge = d
	}
	return r
}

func (r *StatusReconciler) WithBatchSize(n int) *StatusReconciler {
	if n > 0 {
		r.batch = n
	}
	return r
}

func (r *StatusReconciler) Run(ctx context.Context) {
	runEvery(ctx, r.interval, r.drain)
}

func (r *StatusReconciler) drain(ctx context.Context) {
	if r.store == nil || r.carrier == nil {
		return
	}
	now := r.now()
	msgs, err := r.store.ListAwaitingDelivery(ctx, now.Add(-r.after), now.Add(-r.maxAge), r.batch)
	if err != nil {
		r.logger.Error("awaiting delivery fetch failed", "error", err)
		return
	}
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		record, err := r.carrier.FetchMessage(ctx, msg.CarrierMessageID)
		if markErr := r.store.MarkReconciled(ctx, msg.ID); markErr != nil {
			r.logger.Warn("mark reconciled failed", "error", markErr, "message_id", msg.ID)
		}
		if err != nil {
			r.logger.Warn("carrier message poll failed", "error", err, "carrier_message_id", msg.CarrierMessageID)
			continue
		}
		update := statusUpdateFromRecord(msg.CarrierMessageID, record)
		applied, err := r.store.ApplyStatusUpdate(ctx, update)
		if err != nil {
			r.logger.Error("reconciled status update failed", "error", err, "carrier_message_id", msg.CarrierMessageID)
			continue
		}
		if applied {
			r.logger.Info("message status reconciled", "message_id", msg.ID, "status", record.Status)
		}
	}
}

func statusUpdateFromRecord(sid string, record *carrier.MessageRecord) messaging.StatusUpdate {
	update := messaging.StatusUpdate{CarrierMessageID: sid, CarrierStatus: record.Status}
	if record.ErrorCode != nil && *record.ErrorCode != 0 {
		update.ErrorCode = strconv.Itoa(*record.ErrorCode)
	}
	if record.ErrorMessage != nil {
		update.ErrorMessage = *record.ErrorMessage
	}
	return update
}
