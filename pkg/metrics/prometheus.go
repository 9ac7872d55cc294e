package metrics

import (
	"admin_service/internal/domain"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type MetricsCollector struct {
	registry           *prometheus.Registry
	requestsSubmitted  *prometheus.CounterVec
	statusTransitions  *prometheus.CounterVec
	rpcCalls           *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
	sessions           prometheus.Gauge
	subscribers        *prometheus.GaugeVec
	broadcastFailures  *prometheus.CounterVec
	recoveryOperations *prometheus.CounterVec
	logger             *zap.Logger
}

func NewMetricsCollector(logger *zap.Logger) *MetricsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	collector := &MetricsCollector{
		registry: registry,
		requestsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_modification_requests_submitted_total",
			Help: "Account modification requests submitted, by type and initial status",
		}, []string{"type", "status"}),
		statusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_modification_request_updates_total",
			Help: "Status updates appended to account modification requests",
		}, []string{"status"}),
		rpcCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_rpc_calls_total",
			Help: "RPC calls handled, by method and outcome code",
		}, []string{"method", "code"}),
		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_rpc_duration_seconds",
			Help:    "Time taken to handle an RPC call",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "admin_rpc_sessions",
			Help: "Currently open RPC sessions",
		}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "admin_subscribers",
			Help: "Live subscriptions, by registry",
		}, []string{"registry"}),
		broadcastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_broadcast_failures_total",
			Help: "Subscribers dropped after a failed push, by registry",
		}, []string{"registry"}),
		recoveryOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_client_recoveries_total",
			Help: "Client subscription recoveries, by outcome",
		}, []string{"outcome"}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RequestSubmitted(requestType domain.RequestType, status domain.RequestStatus) {
	m.requestsSubmitted.WithLabelValues(requestType.String(), status.String()).Inc()
}

func (m *MetricsCollector) RequestUpdated(status domain.RequestStatus) {
	m.statusTransitions.WithLabelValues(status.String()).Inc()
}

func (m *MetricsCollector) RecordCall(method, code string, duration time.Duration) {
	m.rpcCalls.WithLabelValues(method, code).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *MetricsCollector) SessionOpened() {
	m.sessions.Inc()
}

func (m *MetricsCollector) SessionClosed() {
	m.sessions.Dec()
}

func (m *MetricsCollector) SubscribersChanged(registry string, delta int) {
	m.subscribers.WithLabelValues(registry).Add(float64(delta))
}

func (m *MetricsCollector) BroadcastFailed(registry string) {
	m.broadcastFailures.WithLabelValues(registry).Inc()
}

func (m *MetricsCollector) RecoveryCompleted(success bool) {
	outcome := "recovered"
	if !success {
		outcome = "broken"
	}
	m.recoveryOperations.WithLabelValues(outcome).Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
