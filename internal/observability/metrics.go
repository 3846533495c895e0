package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	StatusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_status_events_total", Help: "Delivery status reconciliation outcomes"},
		[]string{"result"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_webhook_events_total", Help: "Webhook deliveries by kind and vendor status"},
		[]string{"kind", "status"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_dispatch_total", Help: "Outbound send outcomes"},
		[]string{"channel", "result"},
	)
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "wamsg_dispatch_latency_seconds", Help: "Outbound send latency"},
	)
	ButtonClicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_button_clicks_total", Help: "Button click callbacks"},
		[]string{"result"},
	)
	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_inbound_messages_total", Help: "Inbound message callbacks"},
		[]string{"result"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "wamsg_enqueue_total", Help: "Status event enqueue results"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, StatusEvents, WebhookEvents, Dispatches, DispatchLatency, ButtonClicks, InboundMessages, Enqueues)
}
