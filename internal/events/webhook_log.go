package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WebhookKind identifies which carrier callback produced a log row.
type WebhookKind string

const (
	KindInboundSMS WebhookKind = "sms"
	KindStatus     WebhookKind = "status"
)

// LogStatus is the processing outcome recorded for a callback.
type LogStatus string

const (
	LogReceived  LogStatus = "received"
	LogProcessed LogStatus = "processed"
	LogIgnored   LogStatus = "ignored"
	LogFailed    LogStatus = "failed"
)

// WebhookLog is the raw audit record of one received callback.
type WebhookLog struct {
	Kind             WebhookKind
	CarrierMessageID string
	Payload          url.Values
	SignatureValid   bool
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WebhookLogStore records received callbacks for auditing and replay detection.
type WebhookLogStore struct {
	pool rowQuerier
}

func NewWebhookLogStore(pool rowQuerier) *WebhookLogStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &WebhookLogStore{pool: pool}
}

// Record inserts a log row in the received state and returns its id.
func (s *WebhookLogStore) Record(ctx context.Context, entry WebhookLog) (uuid.UUID, error) {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: encode webhook payload: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO webhook_logs (id, kind, carrier_message_id, payload, signature_valid, processing_status)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, 'received')
	`
	if _, err := s.pool.Exec(ctx, query, id, string(entry.Kind), entry.CarrierMessageID, payload, entry.SignatureValid); err != nil {
		return uuid.Nil, fmt.Errorf("events: record webhook: %w", err)
	}
	return id, nil
}

// Finish stores the final processing outcome for a log row.
func (s *WebhookLogStore) Finish(ctx context.Context, id uuid.UUID, status LogStatus, detail string) error {
	if id == uuid.Nil {
		return nil
	}
	query := `
		UPDATE webhook_logs
		SET processing_status = $2, error = NULLIF($3, ''), processed_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, string(status), detail); err != nil {
		return fmt.Errorf("events: finish webhook log: %w", err)
	}
	return nil
}

// AlreadyProcessed checks whether a callback with this carrier message id was
// fully handled before.
func (s *WebhookLogStore) AlreadyProcessed(ctx context.Context, kind WebhookKind, carrierMessageID string) (bool, error) {
	if carrierMessageID == "" {
		return false, nil
	}
	query := `
		SELECT 1 FROM webhook_logs
		WHERE kind = $1 AND carrier_message_id = $2 AND processing_status = 'processed'
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, string(kind), carrierMessageID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}
