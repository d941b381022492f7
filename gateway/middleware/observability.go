package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"stakestream/observability/metrics"
)

// RequestIDHeader carries the generated request identifier back to the
// caller and into log lines.
const RequestIDHeader = "X-Request-Id"

var (
	httpOnce      sync.Once
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
)

func httpCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	httpOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed by the gateway.",
		}, []string{"route", "method", "status"})
		httpDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"})
		prometheus.MustRegister(httpRequests, httpDurations)
	})
	return httpRequests, httpDurations
}

// Observability tags every request with an ID, records request metrics and
// emits one structured log line per request.
type Observability struct {
	logger    *slog.Logger
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func NewObservability(logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	requests, durations := httpCollectors()
	return &Observability{logger: logger, requests: requests, durations: durations}
}

// Middleware returns a handler wrapper instrumenting the named route.
func (o *Observability) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			o.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
			o.durations.WithLabelValues(route, r.Method).Observe(duration.Seconds())
			if recorder.status >= http.StatusBadRequest {
				metrics.Rewards().RecordRejected(route)
			}
			o.logger.Info("request",
				"request_id", requestID,
				"route", route,
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", float64(duration.Microseconds())/1000.0,
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
