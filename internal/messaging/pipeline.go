package messaging

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/carrier"
	"github.com/assistext/assistext/internal/compliance"
	"github.com/assistext/assistext/internal/events"
	"github.com/assistext/assistext/internal/observability/metrics"
	"github.com/assistext/assistext/internal/phone"
	"github.com/assistext/assistext/internal/reply"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

// Stage is a step of inbound webhook processing. Every path ends in
// StageAcknowledged.
type Stage string

const (
	StageReceived       Stage = "RECEIVED"
	StageVerified       Stage = "VERIFIED"
	StageTenantResolved Stage = "TENANT_RESOLVED"
	StageReplyGenerated Stage = "REPLY_GENERATED"
	StageSent           Stage = "SENT"
	StageAcknowledged   Stage = "ACKNOWLEDGED"
)

// Outcomes reported in Result.Outcome.
const (
	OutcomeReplied          = "replied"
	OutcomeQueued           = "queued"
	OutcomeNoReply          = "no_reply"
	OutcomeDuplicate        = "duplicate"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeInvalidPayload   = "invalid_payload"
	OutcomeUnknownTenant    = "unknown_tenant"
	OutcomePersistenceError = "persistence_error"
	OutcomeSendFailed       = "send_failed"
	OutcomeSendInterrupted  = "send_interrupted"
	OutcomeStatusApplied    = "applied"
	OutcomeStatusIgnored    = "ignored"
)

// SendMode selects whether replies are sent inside the webhook request or
// handed to the outbox queue.
type SendMode string

const (
	SendModeSync  SendMode = "sync"
	SendModeQueue SendMode = "queue"
)

// WebhookRequest is a carrier callback as seen by the pipeline.
type WebhookRequest struct {
	URL       string
	Form      url.Values
	Signature string
}

// Result describes how a callback was handled. Err is set only for
// persistence failures.
type Result struct {
	Trace     []Stage
	Outcome   string
	Reason    string
	TenantID  uuid.UUID
	InboundID uuid.UUID
	ReplyID   uuid.UUID
	Reply     reply.Reply
	Send      *carrier.SendResult
	Err       error
}

// Stage returns the last stage reached.
func (r Result) Stage() Stage {
	if len(r.Trace) == 0 {
		return ""
	}
	return r.Trace[len(r.Trace)-1]
}

func (r *Result) advance(s Stage) { r.Trace = append(r.Trace, s) }

// ReplyGenerator produces reply text for an inbound message.
type ReplyGenerator interface {
	Generate(ctx context.Context, req reply.Request) (reply.Reply, error)
}

// ConversationStore is the persistence the pipeline needs.
type ConversationStore interface {
	RecordInbound(ctx context.Context, rec InboundRecord) (*InboundResult, error)
	RecordOutbound(ctx context.Context, rec OutboundRecord) (*Message, error)
	ApplyStatusUpdate(ctx context.Context, update StatusUpdate) (bool, error)
	SetOptOut(ctx context.Context, clientID uuid.UUID, optedOut bool) error
	RecentHistory(ctx context.Context, clientID uuid.UUID, limit int) ([]Message, error)
}

// WebhookLogger audits callbacks. Optional.
type WebhookLogger interface {
	Record(ctx context.Context, entry events.WebhookLog) (uuid.UUID, error)
	Finish(ctx context.Context, id uuid.UUID, status events.LogStatus, detail string) error
	AlreadyProcessed(ctx context.Context, kind events.WebhookKind, carrierMessageID string) (bool, error)
}

// Enqueuer hands a pending outbound message to the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, messageID uuid.UUID) error
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Verifier     *Verifier
	Tenants      tenancy.Resolver
	Replies      ReplyGenerator
	Store        ConversationStore
	Dispatcher   *Dispatcher
	Queue        Enqueuer
	WebhookLog   WebhookLogger
	Mode         SendMode
	HistoryTurns int
	Logger       *logging.Logger
	Metrics      *metrics.MessagingMetrics
}

// Pipeline runs the inbound-message state machine and applies delivery
// status callbacks.
type Pipeline struct {
	verifier     *Verifier
	tenants      tenancy.Resolver
	replies      ReplyGenerator
	store        ConversationStore
	dispatcher   *Dispatcher
	queue        Enqueuer
	webhookLog   WebhookLogger
	detector     *compliance.Detector
	mode         SendMode
	historyTurns int
	logger       *logging.Logger
	metrics      *metrics.MessagingMetrics
	now          func() time.Time
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Verifier == nil || cfg.Tenants == nil || cfg.Replies == nil || cfg.Store == nil {
		panic("messaging: pipeline requires verifier, tenants, replies and store")
	}
	if cfg.Mode == "" {
		cfg.Mode = SendModeSync
	}
	if cfg.Mode == SendModeSync && cfg.Dispatcher == nil {
		panic("messaging: sync mode requires a dispatcher")
	}
	if cfg.Mode == SendModeQueue && cfg.Queue == nil {
		panic("messaging: queue mode requires a queue")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Pipeline{
		verifier:     cfg.Verifier,
		tenants:      cfg.Tenants,
		replies:      cfg.Replies,
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		queue:        cfg.Queue,
		webhookLog:   cfg.WebhookLog,
		detector:     compliance.NewDetector(),
		mode:         cfg.Mode,
		historyTurns: cfg.HistoryTurns,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// HandleInbound processes an inbound SMS callback. It never panics on bad
// input and always ends acknowledged; failures are described by the result.
func (p *Pipeline) HandleInbound(ctx context.Context, req WebhookRequest) (res Result) {
	start := p.now()
	res.advance(StageReceived)
	logID := uuid.Nil
	defer func() {
		res.advance(StageAcknowledged)
		p.metrics.ObserveWebhook(string(events.KindInboundSMS), res.Outcome)
		p.metrics.ObserveWebhookLatency(string(events.KindInboundSMS), time.Since(start).Seconds())
		p.finishLog(ctx, logID, res)
	}()

	sigValid := p.verifier.Verify(req.URL, req.Form, req.Signature)
	if !sigValid {
		p.logger.Warn("rejected inbound webhook with invalid signature",
			"security", true, "url", req.URL, "has_signature", req.Signature != "")
		logID = p.recordLog(ctx, events.KindInboundSMS, req, "", false)
		res.Outcome = OutcomeInvalidSignature
		return res
	}
	res.advance(StageVerified)

	inbound, err := ParseInboundWebhook(req.Form)
	if err != nil {
		p.logger.Warn("invalid inbound payload", "error", err)
		logID = p.recordLog(ctx, events.KindInboundSMS, req, "", true)
		res.Outcome, res.Reason = OutcomeInvalidPayload, err.Error()
		return res
	}
	if p.webhookLog != nil {
		seen, err := p.webhookLog.AlreadyProcessed(ctx, events.KindInboundSMS, inbound.MessageSID)
		if err != nil {
			p.logger.Warn("webhook log lookup failed", "error", err, "message_sid", inbound.MessageSID)
		} else if seen {
			p.logger.Info("duplicate inbound webhook", "message_sid", inbound.MessageSID)
			res.Outcome = OutcomeDuplicate
			return res
		}
	}
	logID = p.recordLog(ctx, events.KindInboundSMS, req, inbound.MessageSID, true)

	tenant, err := p.tenants.ResolveByNumber(ctx, inbound.To)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			p.logger.Warn("inbound message for unassigned number",
				"to", inbound.To, "message_sid", inbound.MessageSID)
			res.Outcome = OutcomeUnknownTenant
			return res
		}
		return p.persistenceFailure(res, "resolve tenant", err, "to", inbound.To)
	}
	res.TenantID = tenant.ID
	res.advance(StageTenantResolved)
	logger := p.logger.With("tenant_id", tenant.ID, "message_sid", inbound.MessageSID, "from", phone.Mask(inbound.From))

	recorded, err := p.store.RecordInbound(ctx, InboundRecord{
		TenantID:         tenant.ID,
		From:             inbound.From,
		To:               inbound.To,
		Body:             inbound.Body,
		CarrierMessageID: inbound.MessageSID,
		MediaURLs:        inbound.MediaURLs,
	})
	if err != nil {
		return p.persistenceFailure(res, "record inbound", err, "tenant_id", tenant.ID)
	}
	res.InboundID = recorded.Message.ID
	if recorded.Duplicate {
		logger.Info("inbound message already recorded")
		res.Outcome = OutcomeDuplicate
		return res
	}
	client := recorded.Client

	p.applyOptOut(ctx, logger, client, inbound.Body)

	out, err := p.replies.Generate(ctx, reply.Request{
		Tenant:     *tenant,
		Body:       inbound.Body,
		OptedOut:   client.OptedOut,
		Blocked:    client.Blocked(),
		History:    p.history(ctx, logger, client.ID, recorded.Message.ID),
		ReceivedAt: start,
	})
	if err != nil {
		logger.Error("reply generation aborted", "error", err)
		res.Outcome, res.Reason = OutcomeNoReply, err.Error()
		return res
	}
	res.Reply = out
	res.advance(StageReplyGenerated)
	p.metrics.ObserveReply(out.Source, out.FallbackReason)
	if out.IsEmpty() {
		logger.Info("no reply for inbound message", "reason", out.FallbackReason)
		res.Outcome, res.Reason = OutcomeNoReply, out.FallbackReason
		return res
	}

	outbound, err := p.store.RecordOutbound(ctx, OutboundRecord{
		TenantID:    tenant.ID,
		ClientID:    client.ID,
		From:        inbound.To,
		To:          inbound.From,
		Body:        out.Text,
		AIGenerated: out.AIGenerated,
		Confidence:  out.Confidence,
		ReplySource: out.Source,
		Status:      StatusPending,
	})
	if err != nil {
		return p.persistenceFailure(res, "record outbound", err, "tenant_id", tenant.ID)
	}
	res.ReplyID = outbound.ID

	if p.mode == SendModeQueue {
		if err := p.queue.Enqueue(ctx, outbound.ID); err != nil {
			// The row stays pending; the stale sweeper picks it up.
			logger.Error("enqueue reply failed", "error", err, "reply_id", outbound.ID)
			res.Outcome, res.Reason = OutcomeQueued, "enqueue_failed"
			return res
		}
		res.Outcome = OutcomeQueued
		return res
	}

	sendRes, err := p.dispatcher.Dispatch(ctx, outbound)
	res.Send = &sendRes
	switch {
	case errors.Is(err, ErrSendInterrupted):
		res.Outcome, res.Reason = OutcomeSendInterrupted, sendRes.ErrorMessage
		return res
	case err != nil:
		return p.persistenceFailure(res, "record send outcome", err, "reply_id", outbound.ID)
	case !sendRes.OK():
		res.Outcome, res.Reason = OutcomeSendFailed, sendRes.ErrorCode
		return res
	}
	res.advance(StageSent)
	res.Outcome = OutcomeReplied
	return res
}

// HandleStatus applies a delivery status callback.
func (p *Pipeline) HandleStatus(ctx context.Context, req WebhookRequest) (res Result) {
	start := p.now()
	res.advance(StageReceived)
	logID := uuid.Nil
	defer func() {
		res.advance(StageAcknowledged)
		p.metrics.ObserveWebhook(string(events.KindStatus), res.Outcome)
		p.metrics.ObserveWebhookLatency(string(events.KindStatus), time.Since(start).Seconds())
		p.finishLog(ctx, logID, res)
	}()

	if !p.verifier.Verify(req.URL, req.Form, req.Signature) {
		p.logger.Warn("rejected status callback with invalid signature",
			"security", true, "url", req.URL, "has_signature", req.Signature != "")
		logID = p.recordLog(ctx, events.KindStatus, req, "", false)
		res.Outcome = OutcomeInvalidSignature
		return res
	}
	res.advance(StageVerified)

	cb, err := ParseStatusCallback(req.Form)
	if err != nil {
		p.logger.Warn("invalid status callback", "error", err)
		logID = p.recordLog(ctx, events.KindStatus, req, "", true)
		res.Outcome, res.Reason = OutcomeInvalidPayload, err.Error()
		return res
	}
	logID = p.recordLog(ctx, events.KindStatus, req, cb.MessageSID, true)

	applied, err := p.store.ApplyStatusUpdate(ctx, StatusUpdate{
		CarrierMessageID: cb.MessageSID,
		CarrierStatus:    cb.MessageStatus,
		ErrorCode:        cb.ErrorCode,
		ErrorMessage:     cb.ErrorMessage,
	})
	if err != nil {
		return p.persistenceFailure(res, "apply status update", err, "message_sid", cb.MessageSID)
	}
	p.metrics.ObserveStatus(cb.MessageStatus, applied)
	if !applied {
		p.logger.Debug("status callback ignored", "message_sid", cb.MessageSID, "status", cb.MessageStatus)
		res.Outcome, res.Reason = OutcomeStatusIgnored, cb.MessageStatus
		return res
	}
	p.logger.Info("delivery status applied", "message_sid", cb.MessageSID, "status", cb.MessageStatus, "error_code", cb.ErrorCode)
	res.Outcome = OutcomeStatusApplied
	return res
}

func (p *Pipeline) persistenceFailure(res Result, op string, err error, args ...any) Result {
	p.logger.Error("webhook persistence failure", append([]any{"op", op, "error", err}, args...)...)
	res.Outcome, res.Reason, res.Err = OutcomePersistenceError, op, err
	return res
}

// applyOptOut keeps clients.opted_out in step with STOP/START keywords.
func (p *Pipeline) applyOptOut(ctx context.Context, logger *logging.Logger, client *Client, body string) {
	var optedOut bool
	switch {
	case !client.OptedOut && p.detector.IsStop(body):
		optedOut = true
	case reply.IsOptIn(p.detector, reply.RuleInput{Body: body, OptedOut: client.OptedOut}) && client.OptedOut:
		optedOut = false
	default:
		return
	}
	if err := p.store.SetOptOut(ctx, client.ID, optedOut); err != nil {
		logger.Error("failed to record opt-out change", "error", err, "opted_out", optedOut)
		return
	}
	logger.Info("client opt-out changed", "client_id", client.ID, "opted_out", optedOut)
}

func (p *Pipeline) history(ctx context.Context, logger *logging.Logger, clientID, current uuid.UUID) []reply.ChatMessage {
	if p.historyTurns <= 0 {
		return nil
	}
	msgs, err := p.store.RecentHistory(ctx, clientID, p.historyTurns+1)
	if err != nil {
		logger.Warn("conversation history unavailable", "error", err)
		return nil
	}
	out := make([]reply.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == current || m.Status == StatusFailed {
			continue
		}
		role := reply.ChatRoleUser
		if m.Direction == DirectionOutbound {
			role = reply.ChatRoleAssistant
		}
		out = append(out, reply.ChatMessage{Role: role, Content: m.Body})
	}
	return out
}

func (p *Pipeline) recordLog(ctx context.Context, kind events.WebhookKind, req WebhookRequest, sid string, valid bool) uuid.UUID {
	if p.webhookLog == nil {
		return uuid.Nil
	}
	id, err := p.webhookLog.Record(ctx, events.WebhookLog{
		Kind:             kind,
		CarrierMessageID: sid,
		Payload:          req.Form,
		SignatureValid:   valid,
	})
	if err != nil {
		p.logger.Warn("webhook log write failed", "error", err, "kind", kind)
		return uuid.Nil
	}
	return id
}

func (p *Pipeline) finishLog(ctx context.Context, id uuid.UUID, res Result) {
	if p.webhookLog == nil || id == uuid.Nil {
		return
	}
	status := events.LogProcessed
	switch res.Outcome {
	case OutcomeInvalidSignature, OutcomeInvalidPayload, OutcomeUnknownTenant, OutcomeDuplicate, OutcomeStatusIgnored:
		status = events.LogIgnored
	case OutcomePersistenceError, OutcomeSendInterrupted:
		status = events.LogFailed
	}
	detail := res.Outcome
	if res.Reason != "" {
		detail += ": " + res.Reason
	}
	if err := p.webhookLog.Finish(context.WithoutCancel(ctx), id, status, detail); err != nil {
		p.logger.Warn("webhook log update failed", "error", err, "log_id", id)
	}
}
