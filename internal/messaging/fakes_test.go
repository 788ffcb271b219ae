package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/events"
	"github.com/assistext/assistext/internal/reply"
)

// memStore is an in-memory ConversationStore with the same idempotency and
// monotonic-status rules as Store.
type memStore struct {
	mu       sync.Mutex
	clients  map[string]*Client
	messages []*Message
	claims   map[uuid.UUID]time.Time
	failNext error
}

func newMemStore() *memStore {
	return &memStore{clients: map[string]*Client{}, claims: map[uuid.UUID]time.Time{}}
}

func (s *memStore) takeErr() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *memStore) RecordInbound(_ context.Context, rec InboundRecord) (*InboundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	for _, m := range s.messages {
		if m.TenantID == rec.TenantID && m.CarrierMessageID == rec.CarrierMessageID {
			return &InboundResult{Message: m, Duplicate: true}, nil
		}
	}
	key := rec.TenantID.String() + rec.From
	c, ok := s.clients[key]
	if !ok {
		c = &Client{ID: uuid.New(), TenantID: rec.TenantID, Phone: rec.From, RelationshipStatus: "new"}
		s.clients[key] = c
	}
	c.MessageCount++
	msg := &Message{
		ID:               uuid.New(),
		TenantID:         rec.TenantID,
		ClientID:         c.ID,
		ClientPhone:      rec.From,
		TenantPhone:      rec.To,
		Direction:        DirectionInbound,
		Body:             rec.Body,
		CarrierMessageID: rec.CarrierMessageID,
		Status:           StatusDelivered,
		CreatedAt:        time.Now(),
	}
	s.messages = append(s.messages, msg)
	snapshot := *c
	return &InboundResult{Message: msg, Client: &snapshot}, nil
}

func (s *memStore) RecordOutbound(_ context.Context, rec OutboundRecord) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	msg := &Message{
		ID:          uuid.New(),
		TenantID:    rec.TenantID,
		ClientID:    rec.ClientID,
		ClientPhone: rec.To,
		TenantPhone: rec.From,
		Direction:   DirectionOutbound,
		Body:        rec.Body,
		AIGenerated: rec.AIGenerated,
		Confidence:  rec.Confidence,
		ReplySource: rec.ReplySource,
		Status:      rec.Status,
		CreatedAt:   time.Now(),
	}
	s.messages = append(s.messages, msg)
	out := *msg
	return &out, nil
}

func (s *memStore) ApplyStatusUpdate(_ context.Context, update StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := MapCarrierStatus(update.CarrierStatus)
	if !ok {
		return false, nil
	}
	for _, m := range s.messages {
		if m.Direction != DirectionOutbound || m.CarrierMessageID != update.CarrierMessageID {
			continue
		}
		if !CanTransition(m.Status, next) {
			return false, nil
		}
		m.Status = next
		if update.ErrorCode != "" {
			m.ErrorCode = update.ErrorCode
		}
		return true, nil
	}
	return false, nil
}

func (s *memStore) SetOptOut(_ context.Context, clientID uuid.UUID, optedOut bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.ID == clientID {
			c.OptedOut = optedOut
			return nil
		}
	}
	return errors.New("client not found")
}

func (s *memStore) RecentHistory(_ context.Context, clientID uuid.UUID, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ClientID == clientID {
			out = append(out, *m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) GetMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			out := *m
			return &out, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (s *memStore) ClaimForSend(_ context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID != id || m.Direction != DirectionOutbound || m.Status != StatusPending {
			continue
		}
		if at, ok := s.claims[id]; ok && time.Since(at) < lease {
			return false, nil
		}
		s.claims[id] = time.Now()
		return true, nil
	}
	return false, nil
}

func (s *memStore) ReleaseClaim(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, id)
	return nil
}

func (s *memStore) claimed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claims[id]
	return ok
}

func (s *memStore) MarkSent(_ context.Context, id uuid.UUID, carrierMessageID string, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id && CanTransition(m.Status, StatusSent) {
			m.Status = StatusSent
			m.CarrierMessageID = carrierMessageID
			m.RetryCount += attempts
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID, errorCode, errorMessage string, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id && CanTransition(m.Status, StatusFailed) {
			m.Status = StatusFailed
			m.ErrorCode = errorCode
			m.ErrorMessage = errorMessage
			m.RetryCount += attempts
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) byDirection(d Direction) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.Direction == d {
			out = append(out, *m)
		}
	}
	return out
}

func (s *memStore) client(tenantID uuid.UUID, phone string) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[tenantID.String()+phone]
}

// fakeSender returns queued results in order, then the last one forever.
type fakeSender struct {
	mu       sync.Mutex
	results  []carrier.SendResult
	requests []carrier.SendRequest
	hook     func(ctx context.Context)
}

func (f *fakeSender) Send(ctx context.Context, req carrier.SendRequest) carrier.SendResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	res := carrier.SendResult{Outcome: carrier.OutcomeSent, MessageID: "SMout" + uuid.NewString()[:8], Attempts: 1}
	if len(f.results) > 0 {
		res = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return res
}

func (f *fakeSender) sent() []carrier.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]carrier.SendRequest(nil), f.requests...)
}

type fakeLLM struct {
	text  string
	err   error
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, _ reply.LLMRequest) (reply.LLMResponse, error) {
	f.calls++
	if f.err != nil {
		return reply.LLMResponse{}, f.err
	}
	return reply.LLMResponse{Text: f.text}, nil
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, reply.Request) (reply.Reply, error) {
	panic("generator exploded")
}

type fakeQueue struct {
	ids []uuid.UUID
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type memWebhookLog struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*loggedWebhook
}

type loggedWebhook struct {
	entry  events.WebhookLog
	status events.LogStatus
	detail string
}

func newMemWebhookLog() *memWebhookLog {
	return &memWebhookLog{entries: map[uuid.UUID]*loggedWebhook{}}
}

func (l *memWebhookLog) Record(_ context.Context, entry events.WebhookLog) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	l.entries[id] = &loggedWebhook{entry: entry, status: events.LogReceived}
	return id, nil
}

func (l *memWebhookLog) Finish(_ context.Context, id uuid.UUID, status events.LogStatus, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		e.status, e.detail = status, detail
	}
	return nil
}

func (l *memWebhookLog) AlreadyProcessed(_ context.Context, kind events.WebhookKind, sid string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.entry.Kind == kind && e.entry.CarrierMessageID == sid && e.status == events.LogProcessed {
			return true, nil
		}
	}
	return false, nil
}

func (l *memWebhookLog) statuses() []events.LogStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.LogStatus
	for _, e := range l.entries {
		out = append(out, e.status)
	}
	return out
}
