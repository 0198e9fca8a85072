package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Recorder exports service counters to Prometheus. It satisfies services.Metrics.
type Recorder struct {
	gatherer prometheus.Gatherer

	cartCommands       *prometheus.CounterVec
	ordersPlaced       *prometheus.CounterVec
	ordersRejected     *prometheus.CounterVec
	orderTransitions   *prometheus.CounterVec
	returnTransitions  *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	sequenceFallbacks  *prometheus.CounterVec
	outboxTasks        *prometheus.CounterVec
	eventsDropped      prometheus.Counter
	oidcVerifications  *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
	outboxPending      *prometheus.GaugeVec
}

// New registers the storefront collectors on a dedicated registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(registry)
}

// NewWithRegistry registers the collectors on the supplied registry.
func NewWithRegistry(registry *prometheus.Registry) *Recorder {
	factory := promauto.With(registry)
	return &Recorder{
		gatherer: registry,
		cartCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_commands_total",
			Help:      "Cart commands applied, by command and whether the cart changed.",
		}, []string{"command", "changed"}),
		ordersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders persisted, by whether stock was decremented at placement.",
		}, []string{"inventory_updated"}),
		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Order placements refused before persistence.",
		}, []string{"reason"}),
		orderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions applied, by target status.",
		}, []string{"status"}),
		returnTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "return_transitions_total",
			Help:      "Return request transitions applied, by target status.",
		}, []string{"status"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts, by kind and result.",
		}, []string{"kind", "result"}),
		sequenceFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_fallbacks_total",
			Help:      "Sequence numbers issued from the clock after the counter transaction failed.",
		}, []string{"namespace"}),
		outboxTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_tasks_total",
			Help:      "Outbox tasks processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_stream_dropped_total",
			Help:      "Events skipped because a subscriber buffer was full.",
		}),
		oidcVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oidc_verifications_total",
			Help:      "Internal endpoint OIDC verifications, by result and reason.",
		}, []string{"result", "reason"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpRequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		outboxPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_tasks",
			Help:      "Outbox tasks by status, sampled after each drain.",
		}, []string{"status"}),
	}
}

func (r *Recorder) CartCommand(name string, changed bool) {
	r.cartCommands.WithLabelValues(name, strconv.FormatBool(changed)).Inc()
}

func (r *Recorder) OrderPlaced(inventoryUpdated bool) {
	r.ordersPlaced.WithLabelValues(strconv.FormatBool(inventoryUpdated)).Inc()
}

func (r *Recorder) OrderRejected(reason string) {
	r.ordersRejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) OrderTransition(status string) {
	r.orderTransitions.WithLabelValues(status).Inc()
}

func (r *Recorder) ReturnTransition(status string) {
	r.returnTransitions.WithLabelValues(status).Inc()
}

func (r *Recorder) NotificationSent(kind string, success bool) {
	result := "sent"
	if !success {
		result = "failed"
	}
	r.notifications.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) SequenceFallback(ns string) {
	r.sequenceFallbacks.WithLabelValues(ns).Inc()
}

func (r *Recorder) OutboxProcessed(kind string, outcome string) {
	r.outboxTasks.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) EventDropped() {
	r.eventsDropped.Inc()
}

// OutboxBacklog records the number of tasks currently in each status.
func (r *Recorder) OutboxBacklog(counts map[string]int) {
	for status, count := range counts {
		r.outboxPending.WithLabelValues(status).Set(float64(count))
	}
}

// OIDCVerification matches auth.VerificationRecorder.
func (r *Recorder) OIDCVerification(success bool, reason string) {
	result := "success"
	if !success {
		result = "failure"
	}
	r.oidcVerifications.WithLabelValues(result, reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled with the chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.httpRequestSeconds.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
