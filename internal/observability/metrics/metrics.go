package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for the webhook pipeline.
// All methods are safe on a nil receiver.
type MessagingMetrics struct {
	webhookTotal   *prometheus.CounterVec
	replyTotal     *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	statusTotal    *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistext",
			Subsystem: "messaging",
			Name:      "webhook_total",
			Help:      "Carrier webhooks by kind and pipeline outcome",
		}, []string{"kind", "outcome"}),
		replyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistext",
			Subsystem: "messaging",
			Name:      "reply_total",
			Help:      "Generated replies by source and fallback reason",
		}, []string{"source", "reason"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistext",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Carrier send outcomes",
		}, []string{"outcome", "error_code"}),
		statusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistext",
			Subsystem: "messaging",
			Name:      "status_update_total",
			Help:      "Delivery status callbacks by carrier status and whether they applied",
		}, []string{"carrier_status", "applied"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assistext",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.replyTotal, m.outboundTotal, m.statusTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveWebhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *MessagingMetrics) ObserveReply(source, reason string) {
	if m == nil {
		return
	}
	m.replyTotal.WithLabelValues(source, reason).Inc()
}

// ObserveOutbound counts a send. errorCode is empty for accepted sends.
func (m *MessagingMetrics) ObserveOutbound(outcome, errorCode string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(outcome, errorCode).Inc()
}

func (m *MessagingMetrics) ObserveStatus(carrierStatus string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.statusTotal.WithLabelValues(carrierStatus, label).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}
