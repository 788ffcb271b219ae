package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/messaging"
	"github.com/assistext/assistext/pkg/logging"
)

type dispatcher interface {
	DispatchByID(ctx context.Context, id uuid.UUID) (carrier.SendResult, error)
}

// Worker consumes send jobs and hands them to the dispatcher.
type Worker struct {
	queue      Queue
	dispatcher dispatcher
	logger     *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	maxReceiveBackoff    = 5 * time.Second
)

type WorkerOption func(*workerConfig)

func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		cfg.receiveWaitSecs = min(seconds, maxWaitSeconds)
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		cfg.receiveBatchSize = min(size, maxReceiveBatchSize)
	}
}

func NewWorker(queue Queue, d dispatcher, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("outbox: queue cannot be nil")
	}
	if d == nil {
		panic("outbox: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, dispatcher: d, logger: logger, cfg: cfg}
}

// Start launches the configured number of consumers. They exit when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("outbox worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("outbox worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive send jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage dispatches one job. The queue entry is deleted once the
// message reached a terminal decision; on anything else it is left for
// redelivery after the visibility timeout.
func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	j, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable send job", "error", err, "queue_message_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}
	logger := w.logger.With("message_id", j.MessageID, "queue_message_id", msg.ID)

	res, err := w.dispatcher.DispatchByID(ctx, j.MessageID)
	switch {
	case err == nil:
		logger.Info("send job processed", "outcome", res.Outcome, "attempts", res.Attempts, "queued_for", time.Since(j.EnqueuedAt).String())
	case errors.Is(err, messaging.ErrNotPending), errors.Is(err, messaging.ErrMessageNotFound):
		logger.Info("send job skipped", "reason", err.Error())
	default:
		logger.Warn("send job will be retried", "error", err)
		return
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete send job", "error", err)
	}
}
