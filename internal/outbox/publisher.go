package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher enqueues pending outbound messages for delivery.
type Publisher struct {
	queue Queue
	now   func() time.Time
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("outbox: queue cannot be nil")
	}
	return &Publisher{queue: queue, now: time.Now}
}

// Enqueue schedules delivery of the given outbound message.
func (p *Publisher) Enqueue(ctx context.Context, messageID uuid.UUID) error {
	body, err := encodeJob(job{Kind: jobKindSend, MessageID: messageID, EnqueuedAt: p.now().UTC()})
	if err != nil {
		return err
	}
	return p.queue.Send(ctx, body)
}
