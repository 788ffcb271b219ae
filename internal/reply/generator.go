// Package reply produces SMS reply text: tenant static replies, compliance
// keyword answers, LLM completions, and the ordered rule fallback.
package reply

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/assistext/assistext/internal/compliance"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

var replyTracer = otel.Tracer("assistext.internal.reply")

// Reply sources, persisted on the outbound message.
const (
	SourceAI          = "ai"
	SourceAutoReply   = "auto_reply"
	SourceAfterHours  = "after_hours"
	SourceCompliance  = "compliance"
	SourceRateLimited = "rate_limited"
	SourceFallback    = "fallback"
)

// Reasons for not using the LLM.
const (
	ReasonBlocked           = "client_blocked"
	ReasonAutoReplyDisabled = "auto_reply_disabled"
	ReasonOptedOut          = "client_opted_out"
	ReasonAIDisabled        = "ai_disabled"
	ReasonAfterHours        = "after_hours"
	ReasonLimiterError      = "rate_limiter_unavailable"
	ReasonLLMUnconfigured   = "llm_not_configured"
	ReasonLLMTimeout        = "llm_timeout"
	ReasonLLMError          = "llm_error"
	ReasonBreakerOpen       = "llm_breaker_open"
	ReasonLLMEmpty          = "llm_empty_output"
)

const aiConfidence = 0.8

// Config tunes the LLM call.
type Config struct {
	Model        string
	Timeout      time.Duration
	MaxTokens    int32
	Temperature  float32
	HistoryTurns int
	MaxChars     int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 150
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	return c
}

// Request is one inbound message to answer.
type Request struct {
	Tenant     tenancy.Tenant
	Body       string
	OptedOut   bool
	Blocked    bool
	History    []ChatMessage
	ReceivedAt time.Time
}

// Reply is the generated answer. An empty Text is the "no reply" sentinel;
// FallbackReason then says why.
type Reply struct {
	Text           string
	Source         string
	Rule           string
	AIGenerated    bool
	Confidence     float64
	FallbackReason string
}

// IsEmpty reports whether nothing should be sent.
func (r Reply) IsEmpty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Generator decides how to answer an inbound message.
type Generator struct {
	llm      LLMClient
	limiter  Limiter
	rules    *RuleResponder
	detector *compliance.Detector
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithRules replaces the default rule list.
func WithRules(rules ...Rule) GeneratorOption {
	return func(g *Generator) { g.rules = NewRuleResponder(rules...) }
}

// WithClock overrides time.Now for business-hours checks.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator builds a generator. llm may be nil (rules only). A nil limiter
// denies every AI call, so replies degrade to the rate-limited fallback.
func NewGenerator(llm LLMClient, limiter Limiter, cfg Config, logger *logging.Logger, opts ...GeneratorOption) *Generator {
	if logger == nil {
		logger = logging.Default()
	}
	g := &Generator{
		llm:      llm,
		limiter:  limiter,
		rules:    NewRuleResponder(),
		detector: compliance.NewDetector(),
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the reply for req. It only errors when ctx is already done;
// every downstream failure degrades to a rule-based reply.
func (g *Generator) Generate(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	ctx, span := replyTracer.Start(ctx, "reply.generate")
	defer span.End()

	t := req.Tenant.WithDefaults()
	span.SetAttributes(attribute.String("assistext.tenant_id", t.ID.String()))

	out := g.decide(ctx, t, req)
	span.SetAttributes(
		attribute.String("reply.source", out.Source),
		attribute.String("reply.fallback_reason", out.FallbackReason),
		attribute.Bool("reply.empty", out.IsEmpty()),
	)
	return out, nil
}

func (g *Generator) decide(ctx context.Context, t tenancy.Tenant, req Request) Reply {
	in := RuleInput{Body: req.Body, OptedOut: req.OptedOut}
	optIn := IsOptIn(g.detector, in)

	switch {
	case req.Blocked:
		return Reply{FallbackReason: ReasonBlocked}
	case !t.AutoReplyEnabled:
		return Reply{FallbackReason: ReasonAutoReplyDisabled}
	case req.OptedOut && !optIn:
		return Reply{FallbackReason: ReasonOptedOut}
	}

	// Compliance keywords outrank the tenant's own replies.
	if g.detector.IsStop(req.Body) {
		return Reply{Text: OptOutText, Source: SourceCompliance, Rule: RuleOptOut, Confidence: 1}
	}
	if optIn {
		return Reply{Text: OptInText, Source: SourceCompliance, Rule: RuleOptIn, Confidence: 1}
	}

	if !t.AIEnabled {
		if msg := strings.TrimSpace(t.AutoReplyMessage); msg != "" {
			return Reply{Text: msg, Source: SourceAutoReply, Confidence: 1, FallbackReason: ReasonAIDisabled}
		}
		return Reply{FallbackReason: ReasonAIDisabled}
	}

	at := req.ReceivedAt
	if at.IsZero() {
		at = g.now()
	}
	if msg := strings.TrimSpace(t.AfterHoursMessage); msg != "" && !t.IsOpenAt(at) {
		return Reply{Text: t.AfterHoursMessage, Source: SourceAfterHours, Confidence: 1, FallbackReason: ReasonAfterHours}
	}

	if g.limiter == nil {
		return Reply{Text: RateLimitedText, Source: SourceRateLimited, FallbackReason: ReasonLimiterError}
	}
	decision, err := g.limiter.Allow(ctx, t.ID, t.Limits())
	if err != nil {
		g.logger.Error("rate limiter unavailable", "tenant_id", t.ID, "error", err)
		return Reply{Text: RateLimitedText, Source: SourceRateLimited, FallbackReason: ReasonLimiterError}
	}
	if !decision.Allowed {
		g.logger.Warn("tenant rate limit exceeded", "tenant_id", t.ID, "limit", decision.Reason, "count", decision.Count, "max", decision.Limit)
		return Reply{Text: RateLimitedText, Source: SourceRateLimited, FallbackReason: decision.Reason}
	}

	text, reason := g.complete(ctx, t, req)
	if reason == "" {
		return Reply{Text: text, Source: SourceAI, AIGenerated: true, Confidence: aiConfidence}
	}
	rule, fallback := g.rules.Respond(in)
	return Reply{Text: fallback, Source: SourceFallback, Rule: rule, Confidence: 0.5, FallbackReason: reason}
}

// complete calls the LLM under the hard timeout. A non-empty reason means the
// output must not be used.
func (g *Generator) complete(ctx context.Context, t tenancy.Tenant, req Request) (string, string) {
	if g.llm == nil {
		return "", ReasonLLMUnconfigured
	}
	ctx, span := replyTracer.Start(ctx, "reply.llm", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.llm.Complete(callCtx, LLMRequest{
		Model:       g.cfg.Model,
		System:      BuildSystemPrompt(t, g.cfg.MaxChars),
		Messages:    BuildMessages(req.History, req.Body, g.cfg.HistoryTurns),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		reason := ReasonLLMError
		switch {
		case errors.Is(err, ErrBreakerOpen):
			reason = ReasonBreakerOpen
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			reason = ReasonLLMTimeout
		}
		g.logger.Warn("llm call failed, using fallback", "tenant_id", t.ID, "reason", reason, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return "", reason
	}

	text := CleanReply(resp.Text, g.cfg.MaxChars)
	if text == "" {
		g.logger.Warn("llm returned unusable output, using fallback", "tenant_id", t.ID, "stop_reason", resp.StopReason)
		return "", ReasonLLMEmpty
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", int(resp.Usage.InputTokens)),
		attribute.Int("llm.output_tokens", int(resp.Usage.OutputTokens)),
		attribute.Int64("llm.elapsed_ms", elapsed.Milliseconds()),
	)
	g.logger.Debug("llm reply generated", "tenant_id", t.ID, "elapsed_ms", elapsed.Milliseconds(), "chars", len(text))
	return text, ""
}
