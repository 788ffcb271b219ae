package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var tenantRowColumns = []string{
	"id", "name", "ai_enabled", "auto_reply_enabled", "auto_reply_message", "personality",
	"custom_instructions", "business_hours", "after_hours_message", "timezone",
	"daily_ai_reply_limit", "five_minute_message_limit",
}

func TestPostgresStoreResolveByNumber(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewPostgresStore(mock)
	id := uuid.New()
	hours := []byte(`{"monday":{"open":"09:00","close":"17:00"}}`)
	mock.ExpectQuery("FROM tenant_numbers n").
		WithArgs("+15559998888").
		WillReturnRows(pgxmock.NewRows(tenantRowColumns).
			AddRow(id, "Glow", true, true, "", "friendly", "", hours, "We're closed.", "America/Chicago", 0, 20))

	tenant, err := store.ResolveByNumber(context.Background(), "555-999-8888")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tenant.ID != id || !tenant.AIEnabled || tenant.Number != "+15559998888" {
		t.Fatalf("unexpected tenant %#v", tenant)
	}
	if tenant.BusinessHours == nil || tenant.BusinessHours.Monday == nil || tenant.BusinessHours.Monday.Open != "09:00" {
		t.Fatalf("expected business hours decoded, got %#v", tenant.BusinessHours)
	}
	if tenant.DailyAIReplyLimit != DefaultDailyAIReplyLimit || tenant.FiveMinuteMessageLimit != 20 {
		t.Fatalf("unexpected limits %d/%d", tenant.DailyAIReplyLimit, tenant.FiveMinuteMessageLimit)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreResolveNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewPostgresStore(mock)
	mock.ExpectQuery("FROM tenant_numbers n").WithArgs("+15550000000").WillReturnError(pgx.ErrNoRows)
	if _, err := store.ResolveByNumber(context.Background(), "+15550000000"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}

	mock.ExpectQuery("FROM tenant_numbers n").WithArgs("+15550000001").WillReturnError(errors.New("connection refused"))
	_, err = store.ResolveByNumber(context.Background(), "+15550000001")
	if err == nil || errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected wrapped persistence error, got %v", err)
	}
}

func TestPostgresStoreAttachNumber(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewPostgresStore(mock)
	id := uuid.New()
	mock.ExpectExec("INSERT INTO tenant_numbers").
		WithArgs("+15559998888", id).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.AttachNumber(context.Background(), id, "+15559998888"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	mock.ExpectExec("INSERT INTO tenant_numbers").
		WithArgs("+15559998888", id).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	if err := store.AttachNumber(context.Background(), id, "+15559998888"); !errors.Is(err, ErrNumberTaken) {
		t.Fatalf("expected ErrNumberTaken, got %v", err)
	}

	if err := store.AttachNumber(context.Background(), id, "12"); err == nil {
		t.Fatal("expected invalid number error")
	}
}
