// Package outbox hands pending replies from the webhook process to delivery
// workers through a queue. The messages table stays the source of truth: a
// job only carries the message id, and a lost job is recovered by the stale
// pending sweeper.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the transport between publisher and worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

const jobKindSend = "send_reply"

type job struct {
	Kind       string    `json:"kind"`
	MessageID  uuid.UUID `json:"message_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeJob(j job) (string, error) {
	if j.MessageID == uuid.Nil {
		return "", fmt.Errorf("outbox: message id required")
	}
	body, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("outbox: encode job: %w", err)
	}
	return string(body), nil
}

func decodeJob(body string) (job, error) {
	var j job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return job{}, fmt.Errorf("outbox: decode job: %w", err)
	}
	if j.Kind != jobKindSend || j.MessageID == uuid.Nil {
		return job{}, fmt.Errorf("outbox: unsupported job %q", j.Kind)
	}
	return j, nil
}
