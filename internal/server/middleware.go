package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/gpuslot/internal/logging"
)

// RequestMetrics counts status-server traffic per route
type RequestMetrics struct {
	requests *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewRequestMetrics creates and registers the request collectors on reg
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	rm := &RequestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuslot_http_requests_total",
			Help: "Status server requests",
		}, []string{"method", "route", "status"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuslot_http_response_bytes_total",
			Help: "Bytes sent by the status server",
		}, []string{"method", "route"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpuslot_http_request_duration_seconds",
			Help:    "Status server request latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method", "route"}),
	}
	reg.MustRegister(rm.requests, rm.bytes, rm.latency)
	return rm
}

// Middleware records route, status and size of every request. Routes are
// labelled by template so job ids don't explode cardinality.
func (rm *RequestMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rm.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		rm.bytes.WithLabelValues(r.Method, route).Add(float64(rw.bytesWritten))
		rm.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// AccessLog logs each request at DEBUG
func AccessLog(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Debug("http request", logging.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": rw.statusCode,
				"bytes":  rw.bytesWritten,
			})
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
