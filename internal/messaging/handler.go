package messaging

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/assistext/assistext/pkg/logging"
)

var webhookTracer = otel.Tracer("assistext.internal.messaging.webhook")

const (
	maxWebhookBody = 64 << 10
	// processTimeout bounds work done on behalf of one callback. The carrier
	// gives up on the HTTP request well before this, but the pipeline keeps
	// going so a reply is never lost to a client disconnect.
	processTimeout = 25 * time.Second
)

type webhookProcessor interface {
	HandleInbound(ctx context.Context, req WebhookRequest) Result
	HandleStatus(ctx context.Context, req WebhookRequest) Result
}

// Handler serves the carrier webhook endpoints.
type Handler struct {
	pipeline      webhookProcessor
	publicBaseURL string
	logger        *logging.Logger
}

// NewHandler creates a webhook handler. publicBaseURL, when set, replaces
// the scheme and host of the request when rebuilding the signed URL.
func NewHandler(pipeline webhookProcessor, publicBaseURL string, logger *logging.Logger) *Handler {
	if pipeline == nil {
		panic("messaging: pipeline cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		pipeline:      pipeline,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
	}
}

// InboundSMS handles POST /webhooks/sms.
func (h *Handler) InboundSMS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "messaging.webhook.inbound", h.pipeline.HandleInbound)
}

// StatusCallback handles POST /webhooks/status.
func (h *Handler) StatusCallback(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "messaging.webhook.status", h.pipeline.HandleStatus)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, spanName string, process func(context.Context, WebhookRequest) Result) {
	ctx, span := webhookTracer.Start(r.Context(), spanName, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	// The carrier gets its 200 no matter what happens below.
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while handling webhook",
				"panic", fmt.Sprint(rec), "path", r.URL.Path, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
		}
		writeAck(w)
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unreadable webhook body", "error", err, "path", r.URL.Path)
		span.RecordError(err)
		return
	}

	req := WebhookRequest{
		URL:       h.signedURL(r),
		Form:      r.PostForm,
		Signature: SignatureFromRequest(r),
	}

	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()
	res := process(procCtx, req)

	span.SetAttributes(
		attribute.String("assistext.webhook.outcome", res.Outcome),
		attribute.String("assistext.webhook.stage", string(res.Stage())),
	)
	if res.TenantID != uuid.Nil {
		span.SetAttributes(attribute.String("assistext.tenant_id", res.TenantID.String()))
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Outcome)
	}
}

func (h *Handler) signedURL(r *http.Request) string {
	if h.publicBaseURL != "" && r.URL != nil {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
