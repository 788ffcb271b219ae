package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/assistext/assistext/internal/phone"
)

// Querier is the subset of pgxpool.Pool used here.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNumberTaken is returned when a number already belongs to another tenant.
var ErrNumberTaken = errors.New("tenancy: number already assigned to another tenant")

// PostgresStore resolves tenants through the unique tenant_numbers index.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore wires a store around a pgx pool.
func NewPostgresStore(db Querier) *PostgresStore {
	if db == nil {
		panic("tenancy: querier cannot be nil")
	}
	return &PostgresStore{db: db}
}

const tenantColumns = `
	t.id, t.name, t.ai_enabled, t.auto_reply_enabled,
	COALESCE(t.auto_reply_message, ''), COALESCE(t.personality, ''),
	COALESCE(t.custom_instructions, ''), COALESCE(t.business_hours, 'null'::jsonb),
	COALESCE(t.after_hours_message, ''), t.timezone,
	t.daily_ai_reply_limit, t.five_minute_message_limit`

// ResolveByNumber implements Resolver.
func (s *PostgresStore) ResolveByNumber(ctx context.Context, number string) (*Tenant, error) {
	e164 := phone.NormalizeE164(number)
	if e164 == "" {
		return nil, ErrTenantNotFound
	}
	query := `
		SELECT ` + tenantColumns + `
		FROM tenant_numbers n
		JOIN tenants t ON t.id = n.tenant_id
		WHERE n.e164 = $1 AND t.active
	`
	tenant, err := scanTenant(s.db.QueryRow(ctx, query, e164))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy: resolve %s: %w", phone.Mask(e164), err)
	}
	tenant.Number = e164
	return tenant, nil
}

// Get loads an active tenant by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.id = $1 AND t.active`
	tenant, err := scanTenant(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy: get tenant: %w", err)
	}
	return tenant, nil
}

// AttachNumber assigns a carrier number to a tenant. Reassigning a number that
// another tenant owns fails with ErrNumberTaken.
func (s *PostgresStore) AttachNumber(ctx context.Context, tenantID uuid.UUID, number string) error {
	e164 := phone.NormalizeE164(number)
	if !phone.Valid(e164) {
		return fmt.Errorf("tenancy: invalid number %q", number)
	}
	query := `
		INSERT INTO tenant_numbers (e164, tenant_id)
		VALUES ($1, $2)
		ON CONFLICT (e164) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
		WHERE tenant_numbers.tenant_id = EXCLUDED.tenant_id
	`
	tag, err := s.db.Exec(ctx, query, e164, tenantID)
	if err != nil {
		return fmt.Errorf("tenancy: attach number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNumberTaken
	}
	return nil
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var (
		t        Tenant
		hoursRaw []byte
	)
	if err := row.Scan(
		&t.ID, &t.Name, &t.AIEnabled, &t.AutoReplyEnabled,
		&t.AutoReplyMessage, &t.Personality,
		&t.Instructions, &hoursRaw,
		&t.AfterHoursMessage, &t.Timezone,
		&t.DailyAIReplyLimit, &t.FiveMinuteMessageLimit,
	); err != nil {
		return nil, err
	}
	if len(hoursRaw) > 0 && string(hoursRaw) != "null" {
		var hours BusinessHours
		if err := json.Unmarshal(hoursRaw, &hours); err != nil {
			return nil, fmt.Errorf("decode business hours: %w", err)
		}
		t.BusinessHours = &hours
	}
	out := t.WithDefaults()
	return &out, nil
}
