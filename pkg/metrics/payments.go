package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// PaymentMetrics records payment order, verification, webhook and gateway activity.
// A nil *PaymentMetrics is valid and records nothing.
type PaymentMetrics struct {
	orders            *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	signatureFailures *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	gatewayDuration   *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_orders_total",
		Help: "Payment order creation attempts by result.",
	}, []string{"result"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Client payment confirmations by result.",
	}, []string{"result"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Gateway webhook deliveries by event type and result.",
	}, []string{"event", "result"})
	signatureFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_signature_failures_total",
		Help: "Rejected HMAC signatures by source.",
	}, []string{"source"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliations_total",
		Help: "Payments recreated because the ledger had no record, by source.",
	}, []string{"source"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})
	reg.MustRegister(orders, verifications, webhookEvents, signatureFailures, reconciliations, gatewayDuration)
	return &PaymentMetrics{
		orders:            orders,
		verifications:     verifications,
		webhookEvents:     webhookEvents,
		signatureFailures: signatureFailures,
		reconciliations:   reconciliations,
		gatewayDuration:   gatewayDuration,
	}
}

func (m *PaymentMetrics) IncOrder(result string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncVerification(result string) {
	if m == nil || m.verifications == nil {
		return
	}
	m.verifications.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncWebhookEvent(event, result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncSignatureFailure(source string) {
	if m == nil || m.signatureFailures == nil {
		return
	}
	m.signatureFailures.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *PaymentMetrics) IncReconciliation(source string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(source)).Inc()
}

// ObserveGateway records the duration of one gateway call.
func (m *PaymentMetrics) ObserveGateway(operation, result string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
