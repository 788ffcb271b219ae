package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/observability/metrics"
	"github.com/assistext/assistext/internal/phone"
	"github.com/assistext/assistext/pkg/logging"
)

// ErrNotPending is returned when a message was already sent or failed.
var ErrNotPending = errors.New("messaging: message is not pending")

// ErrAlreadyClaimed is returned when another dispatcher holds an unexpired
// claim on the message. It wraps ErrNotPending so callers can drop the job.
var ErrAlreadyClaimed = fmt.Errorf("%w: claimed by another dispatcher", ErrNotPending)

// DefaultClaimLease bounds how long a claim blocks other dispatchers. It must
// outlast the carrier client's full retry budget.
const DefaultClaimLease = 2 * time.Minute

// ErrSendInterrupted means the send was cut short by cancellation; the
// message stays pending for the sweeper.
var ErrSendInterrupted = errors.New("messaging: send interrupted")

// Sender delivers one message through the carrier.
type Sender interface {
	Send(ctx context.Context, req carrier.SendRequest) carrier.SendResult
}

type dispatchStore interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	ClaimForSend(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID, carrierMessageID string, attempts int) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, attempts int) (bool, error)
}

// Dispatcher sends pending outbound messages and records the carrier outcome
// on the message row.
type Dispatcher struct {
	store   dispatchStore
	sender  Sender
	logger  *logging.Logger
	metrics *metrics.MessagingMetrics
	lease   time.Duration
}

func NewDispatcher(store dispatchStore, sender Sender, logger *logging.Logger, m *metrics.MessagingMetrics) *Dispatcher {
	if store == nil {
		panic("messaging: dispatcher store cannot be nil")
	}
	if sender == nil {
		panic("messaging: dispatcher sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{store: store, sender: sender, logger: logger, metrics: m, lease: DefaultClaimLease}
}

// WithClaimLease overrides DefaultClaimLease.
func (d *Dispatcher) WithClaimLease(lease time.Duration) *Dispatcher {
	if lease > 0 {
		d.lease = lease
	}
	return d
}

// DispatchByID loads a message and dispatches it. Used by queue consumers.
func (d *Dispatcher) DispatchByID(ctx context.Context, id uuid.UUID) (carrier.SendResult, error) {
	msg, err := d.store.GetMessage(ctx, id)
	if err != nil {
		return carrier.SendResult{}, err
	}
	return d.Dispatch(ctx, msg)
}

// Dispatch sends msg if it is still pending and this dispatcher wins the
// claim on its row. Retryable failures that exhaust the carrier client's
// attempts are recorded as failed, like fatal ones.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (carrier.SendResult, error) {
	if msg == nil || msg.Direction != DirectionOutbound {
		return carrier.SendResult{}, errors.New("messaging: dispatch requires an outbound message")
	}
	if msg.Status != StatusPending {
		return carrier.SendResult{}, ErrNotPending
	}
	claimed, err := d.store.ClaimForSend(ctx, msg.ID, d.lease)
	if err != nil {
		return carrier.SendResult{}, fmt.Errorf("messaging: claim %s: %w", msg.ID, err)
	}
	if !claimed {
		d.logger.Debug("message claimed elsewhere, skipping send", "message_id", msg.ID)
		return carrier.SendResult{}, ErrAlreadyClaimed
	}

	res := d.sender.Send(ctx, carrier.SendRequest{
		From: msg.TenantPhone,
		To:   msg.ClientPhone,
		Body: msg.Body,
	})
	d.metrics.ObserveOutbound(string(res.Outcome), res.ErrorCode)

	if ctx.Err() != nil && !res.OK() {
		d.logger.Warn("send interrupted, leaving message pending",
			"message_id", msg.ID, "tenant_id", msg.TenantID, "to", phone.Mask(msg.ClientPhone), "error", ctx.Err())
		if err := d.store.ReleaseClaim(context.WithoutCancel(ctx), msg.ID); err != nil {
			d.logger.Warn("release claim failed", "message_id", msg.ID, "error", err)
		}
		return res, ErrSendInterrupted
	}

	// Recording the outcome must survive a request context that ends right
	// after the carrier answered.
	recordCtx := context.WithoutCancel(ctx)
	if res.OK() {
		updated, err := d.store.MarkSent(recordCtx, msg.ID, res.MessageID, res.Attempts)
		if err != nil {
			return res, fmt.Errorf("messaging: record sent %s: %w", msg.ID, err)
		}
		if !updated {
			d.logger.Warn("sent message was no longer pending", "message_id", msg.ID, "carrier_message_id", res.MessageID)
		}
		d.logger.Info("reply sent",
			"message_id", msg.ID, "tenant_id", msg.TenantID, "carrier_message_id", res.MessageID, "attempts", res.Attempts)
		return res, nil
	}

	if _, err := d.store.MarkFailed(recordCtx, msg.ID, res.ErrorCode, res.ErrorMessage, res.Attempts); err != nil {
		return res, fmt.Errorf("messaging: record failure %s: %w", msg.ID, err)
	}
	d.logger.Warn("reply send failed",
		"message_id", msg.ID, "tenant_id", msg.TenantID, "to", phone.Mask(msg.ClientPhone),
		"outcome", res.Outcome, "error_code", res.ErrorCode, "error_message", res.ErrorMessage, "attempts", res.Attempts)
	return res, nil
}
