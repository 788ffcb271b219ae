package events

import (
	"context"
	"net/url"
	"testing"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestWebhookLogStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewWebhookLogStore(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO webhook_logs").
		WithArgs(pgxmock.AnyArg(), "sms", "SM1", []byte(`{"Body":["hi"],"MessageSid":["SM1"]}`), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := store.Record(ctx, WebhookLog{
		Kind:             KindInboundSMS,
		CarrierMessageID: "SM1",
		Payload:          url.Values{"MessageSid": {"SM1"}, "Body": {"hi"}},
		SignatureValid:   true,
	})
	if err != nil || id == uuid.Nil {
		t.Fatalf("record: id=%s err=%v", id, err)
	}

	mock.ExpectExec("UPDATE webhook_logs").
		WithArgs(id, "processed", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Finish(ctx, id, LogProcessed, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	mock.ExpectQuery("SELECT 1 FROM webhook_logs").WithArgs("sms", "SM1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(ctx, KindInboundSMS, "SM1")
	if err != nil || !processed {
		t.Fatalf("expected processed, got %v %v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM webhook_logs").WithArgs("sms", "SM2").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(ctx, KindInboundSMS, "SM2")
	if err != nil || processed {
		t.Fatalf("expected unprocessed, got %v %v", processed, err)
	}

	if processed, err := store.AlreadyProcessed(ctx, KindInboundSMS, ""); err != nil || processed {
		t.Fatalf("empty id must short-circuit, got %v %v", processed, err)
	}

	if err := store.Finish(ctx, uuid.Nil, LogFailed, "boom"); err != nil {
		t.Fatalf("nil id finish should no-op: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
