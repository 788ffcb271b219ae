package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrMessageNotFound is returned when a lookup matches no message.
var ErrMessageNotFound = errors.New("messaging: message not found")

const uniqueViolation = "23505"

// Clients move from new to regular after this many inbound messages.
const regularClientThreshold = 5

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists clients and messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Client is a remote number known to one tenant.
type Client struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Phone              string
	Name               string
	RelationshipStatus string
	IsBlocked          bool
	OptedOut           bool
	MessageCount       int
	FirstContactAt     time.Time
	LastInteractionAt  time.Time
}

// Blocked reports whether replies to this client are suppressed.
func (c *Client) Blocked() bool {
	return c != nil && (c.IsBlocked || c.RelationshipStatus == "blocked")
}

// Message is one stored SMS/MMS. Body never changes after insert.
type Message struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	ClientID         uuid.UUID
	ClientPhone      string
	TenantPhone      string
	Direction        Direction
	Body             string
	AIGenerated      bool
	Confidence       float64
	ReplySource      string
	CarrierMessageID string
	Status           ProcessingStatus
	ErrorCode        string
	ErrorMessage     string
	RetryCount       int
	CreatedAt        time.Time
	SentAt           *time.Time
	DeliveredAt      *time.Time
}

// InboundRecord is what the pipeline knows about a received message.
type InboundRecord struct {
	TenantID         uuid.UUID
	From             string
	To               string
	Body             string
	CarrierMessageID string
	MediaURLs        []string
}

// InboundResult reports the stored message. When Duplicate is set the carrier
// message id was already recorded, Message is the original row and Client is nil.
type InboundResult struct {
	Message   *Message
	Client    *Client
	Duplicate bool
}

// OutboundRecord describes a reply about to be (or already) sent.
type OutboundRecord struct {
	TenantID         uuid.UUID
	ClientID         uuid.UUID
	From             string
	To               string
	Body             string
	AIGenerated      bool
	Confidence       float64
	ReplySource      string
	CarrierMessageID string
	Status           ProcessingStatus
	ErrorCode        string
	ErrorMessage     string
}

const messageColumns = `
	id, tenant_id, client_id, client_phone, COALESCE(tenant_phone, ''), direction, body,
	ai_generated, confidence, COALESCE(reply_source, ''), COALESCE(carrier_message_id, ''), processing_status,
	COALESCE(error_code, ''), COALESCE(error_message, ''), retry_count,
	created_at, sent_at, delivered_at`

const clientColumns = `
	id, tenant_id, phone_e164, COALESCE(name, ''), relationship_status, is_blocked,
	opted_out, message_count, first_contact_at, last_interaction_at`

// RecordInbound stores an inbound message and creates or touches its client in
// one transaction. Replays of a known carrier message id are reported as
// duplicates without touching the client counters.
func (s *Store) RecordInbound(ctx context.Context, rec InboundRecord) (*InboundResult, error) {
	if rec.TenantID == uuid.Nil || rec.CarrierMessageID == "" || rec.From == "" {
		return nil, errors.New("messaging: tenant, carrier message id and sender are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging: begin inbound tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, err := findByCarrierID(ctx, tx, rec.TenantID, rec.CarrierMessageID)
	if err == nil {
		return &InboundResult{Message: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, ErrMessageNotFound) {
		return nil, err
	}

	client, err := upsertClient(ctx, tx, rec.TenantID, rec.From)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:               uuid.New(),
		TenantID:         rec.TenantID,
		ClientID:         client.ID,
		ClientPhone:      rec.From,
		TenantPhone:      rec.To,
		Direction:        DirectionInbound,
		Body:             rec.Body,
		CarrierMessageID: rec.CarrierMessageID,
		Status:           StatusDelivered,
	}
	if err := insertMessage(ctx, tx, msg, rec.MediaURLs); err != nil {
		if isUniqueViolation(err) {
			// A concurrent delivery of the same webhook won the race.
			_ = tx.Rollback(ctx)
			committed = true
			original, findErr := findByCarrierID(ctx, s.pool, rec.TenantID, rec.CarrierMessageID)
			if findErr != nil {
				return nil, findErr
			}
			return &InboundResult{Message: original, Duplicate: true}, nil
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("messaging: commit inbound tx: %w", err)
	}
	committed = true
	return &InboundResult{Message: msg, Client: client}, nil
}

// RecordOutbound stores a reply. A carrier message id that already exists for
// the tenant returns the existing row.
func (s *Store) RecordOutbound(ctx context.Context, rec OutboundRecord) (*Message, error) {
	if rec.TenantID == uuid.Nil || rec.ClientID == uuid.Nil {
		return nil, errors.New("messaging: tenant and client are required")
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	msg := &Message{
		ID:               uuid.New(),
		TenantID:         rec.TenantID,
		ClientID:         rec.ClientID,
		ClientPhone:      rec.To,
		TenantPhone:      rec.From,
		Direction:        DirectionOutbound,
		Body:             rec.Body,
		AIGenerated:      rec.AIGenerated,
		Confidence:       rec.Confidence,
		ReplySource:      rec.ReplySource,
		CarrierMessageID: rec.CarrierMessageID,
		Status:           rec.Status,
		ErrorCode:        rec.ErrorCode,
		ErrorMessage:     rec.ErrorMessage,
	}
	if err := insertMessage(ctx, s.pool, msg, nil); err != nil {
		if isUniqueViolation(err) && rec.CarrierMessageID != "" {
			return findByCarrierID(ctx, s.pool, rec.TenantID, rec.CarrierMessageID)
		}
		return nil, err
	}
	return msg, nil
}

// ClaimForSend takes a lease on a pending outbound message so only one
// dispatcher sends it. It returns false when the message is not pending or
// another claim is younger than lease.
func (s *Store) ClaimForSend(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	query := `
		UPDATE messages
		SET claimed_at = now()
		WHERE id = $1 AND direction = 'outbound' AND processing_status = 'pending'
			AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2))
	`
	tag, err := s.pool.Exec(ctx, query, id, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("messaging: claim for send: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseClaim clears the lease on a message that is still pending.
func (s *Store) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE messages SET claimed_at = NULL WHERE id = $1 AND processing_status = 'pending'`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("messaging: release claim: %w", err)
	}
	return nil
}

// MarkSent records a carrier acceptance for a pending outbound message.
// It returns false when the message is no longer pending.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, carrierMessageID string, attempts int) (bool, error) {
	query := `
		UPDATE messages
		SET processing_status = 'sent',
			carrier_message_id = $2,
			retry_count = retry_count + $3,
			sent_at = now()
		WHERE id = $1 AND processing_status = ANY($4)
	`
	tag, err := s.pool.Exec(ctx, query, id, carrierMessageID, attempts, Predecessors(StatusSent))
	if err != nil {
		return false, fmt.Errorf("messaging: mark sent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a terminal send failure for a pending outbound message.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string, attempts int) (bool, error) {
	query := `
		UPDATE messages
		SET processing_status = 'failed',
			error_code = $2,
			error_message = $3,
			retry_count = retry_count + $4,
			failed_at = now()
		WHERE id = $1 AND processing_status = ANY($5)
	`
	tag, err := s.pool.Exec(ctx, query, id, errorCode, errorMessage, attempts, Predecessors(StatusFailed))
	if err != nil {
		return false, fmt.Errorf("messaging: mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// StatusUpdate is a carrier delivery report.
type StatusUpdate struct {
	CarrierMessageID string
	CarrierStatus    string
	ErrorCode        string
	ErrorMessage     string
}

// ApplyStatusUpdate moves an outbound message forward according to a carrier
// report. It returns false when the status carries no transition, the message
// is unknown, or the transition would move backward. A failure reported after
// the message was already sent keeps the status but records the error.
func (s *Store) ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (bool, error) {
	next, ok := MapCarrierStatus(update.CarrierStatus)
	if !ok || update.CarrierMessageID == "" {
		return false, nil
	}
	query := `
		UPDATE messages
		SET processing_status = $2,
			error_code = COALESCE(NULLIF($3, ''), error_code),
			error_message = COALESCE(NULLIF($4, ''), error_message),
			sent_at = CASE WHEN $2 = 'sent' THEN COALESCE(sent_at, now()) ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN now() ELSE delivered_at END,
			failed_at = CASE WHEN $2 = 'failed' THEN now() ELSE failed_at END
		WHERE carrier_message_id = $1
			AND direction = 'outbound'
			AND processing_status = ANY($5)
	`
	tag, err := s.pool.Exec(ctx, query, update.CarrierMessageID, string(next), update.ErrorCode, update.ErrorMessage, Predecessors(next))
	if err != nil {
		return false, fmt.Errorf("messaging: apply status update: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if next == StatusFailed && update.ErrorCode != "" {
		noteQuery := `
			UPDATE messages
			SET error_code = $2, error_message = NULLIF($3, '')
			WHERE carrier_message_id = $1 AND direction = 'outbound' AND processing_status = 'sent'
		`
		if _, err := s.pool.Exec(ctx, noteQuery, update.CarrierMessageID, update.ErrorCode, update.ErrorMessage); err != nil {
			return false, fmt.Errorf("messaging: record late delivery error: %w", err)
		}
	}
	return false, nil
}

// SetOptOut records a STOP/START keyword for a client.
func (s *Store) SetOptOut(ctx context.Context, clientID uuid.UUID, optedOut bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE clients SET opted_out = $2 WHERE id = $1`, clientID, optedOut)
	if err != nil {
		return fmt.Errorf("messaging: set opt out: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit messages exchanged with a client, oldest first.
func (s *Store) RecentHistory(ctx context.Context, clientID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	msgs, err := s.queryMessages(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: recent history: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: get message: %w", err)
	}
	return msg, nil
}

// ListStalePending returns outbound messages still pending since before
// olderThan. Rows claimed after olderThan are skipped; their dispatcher is
// still inside its lease.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE direction = 'outbound' AND processing_status = 'pending' AND created_at < $1
			AND (claimed_at IS NULL OR claimed_at < $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	msgs, err := s.queryMessages(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: list stale pending: %w", err)
	}
	return msgs, nil
}

// ListAwaitingDelivery returns sent outbound messages with no final report,
// sent between notBefore and olderThan. Messages never checked come first,
// then the least recently checked, so rows the carrier keeps reporting as
// non-final cannot starve newer ones.
func (s *Store) ListAwaitingDelivery(ctx context.Context, olderThan, notBefore time.Time, limit int) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE direction = 'outbound' AND processing_status = 'sent'
			AND carrier_message_id IS NOT NULL AND carrier_message_id <> ''
			AND sent_at < $1 AND sent_at > $2
			AND (reconciled_at IS NULL OR reconciled_at < $1)
		ORDER BY reconciled_at ASC NULLS FIRST, sent_at ASC
		LIMIT $3
	`
	msgs, err := s.queryMessages(ctx, query, olderThan, notBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: list awaiting delivery: %w", err)
	}
	return msgs, nil
}

// MarkReconciled stamps a message as checked against the carrier.
func (s *Store) MarkReconciled(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `UPDATE messages SET reconciled_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("messaging: mark reconciled: %w", err)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func findByCarrierID(ctx context.Context, q Querier, tenantID uuid.UUID, carrierID string) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE tenant_id = $1 AND carrier_message_id = $2
	`
	msg, err := scanMessage(q.QueryRow(ctx, query, tenantID, carrierID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: find by carrier id: %w", err)
	}
	return msg, nil
}

func upsertClient(ctx context.Context, q Querier, tenantID uuid.UUID, phone string) (*Client, error) {
	query := `
		INSERT INTO clients (id, tenant_id, phone_e164, relationship_status, message_count, first_contact_at, last_interaction_at)
		VALUES ($1, $2, $3, 'new', 1, now(), now())
		ON CONFLICT (tenant_id, phone_e164) DO UPDATE
		SET message_count = clients.message_count + 1,
			last_interaction_at = now(),
			relationship_status = CASE
				WHEN clients.relationship_status = 'new' AND clients.message_count + 1 >= $4 THEN 'regular'
				ELSE clients.relationship_status
			END
		RETURNING ` + clientColumns
	var c Client
	err := q.QueryRow(ctx, query, uuid.New(), tenantID, phone, regularClientThreshold).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.RelationshipStatus, &c.IsBlocked,
		&c.OptedOut, &c.MessageCount, &c.FirstContactAt, &c.LastInteractionAt,
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: upsert client: %w", err)
	}
	return &c, nil
}

func insertMessage(ctx context.Context, q Querier, msg *Message, mediaURLs []string) error {
	query := `
		INSERT INTO messages (
			id, tenant_id, client_id, client_phone, tenant_phone, direction, body, media_urls,
			ai_generated, confidence, reply_source, carrier_message_id,
			processing_status, error_code, error_message
		)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13,NULLIF($14,''),NULLIF($15,''))
		RETURNING created_at
	`
	if mediaURLs == nil {
		mediaURLs = []string{}
	}
	err := q.QueryRow(ctx, query,
		msg.ID, msg.TenantID, msg.ClientID, msg.ClientPhone, msg.TenantPhone, string(msg.Direction), msg.Body, mediaURLs,
		msg.AIGenerated, msg.Confidence, msg.ReplySource, msg.CarrierMessageID,
		string(msg.Status), msg.ErrorCode, msg.ErrorMessage,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("messaging: insert message: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m         Message
		direction string
		status    string
	)
	if err := row.Scan(
		&m.ID, &m.TenantID, &m.ClientID, &m.ClientPhone, &m.TenantPhone, &direction, &m.Body, &m.AIGenerated, &m.Confidence,
		&m.ReplySource, &m.CarrierMessageID, &status,
		&m.ErrorCode, &m.ErrorMessage, &m.RetryCount,
		&m.CreatedAt, &m.SentAt, &m.DeliveredAt,
	); err != nil {
		return nil, err
	}
	m.Direction = Direction(direction)
	m.Status = ProcessingStatus(status)
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
