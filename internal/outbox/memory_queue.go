package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue backed by a buffered channel. Used when API and
// worker share a process (USE_MEMORY_QUEUE=true) and in tests. Jobs are lost
// on restart; the stale pending sweeper picks up their messages.
type MemoryQueue struct {
	ch chan Message
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan Message, buffer)}
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := Message{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds
// elapses. waitSeconds <= 0 waits for ctx only.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

// Delete is a no-op; received messages are already gone.
func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}

// Len reports buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) collect(first Message, max int) []Message {
	messages := make([]Message, 0, max)
	messages = append(messages, first)
	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return messages
		}
	}
	return messages
}
