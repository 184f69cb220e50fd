package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const program = "webhdfs_sandbox"

var (
	labelNames = []string{"node", "method", "op", "status"}

	requestDurations = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: program,
			Name:      "request_duration_seconds",
			Help:      "Time spent answering requests.",
		},
		labelNames,
	)
	requestBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: program,
			Name:      "request_bytes_total",
			Help:      "Total volume of request payloads received in bytes.",
		},
		labelNames,
	)
	responseBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: program,
			Name:      "response_bytes_total",
			Help:      "Total volume of response payloads emitted in bytes.",
		},
		labelNames,
	)
)

func registerMetrics() {
	prometheus.MustRegister(requestDurations, requestBytes, responseBytes)
}

func metrics(node string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			start = time.Now()
			rd    = &readerDelegator{ReadCloser: r.Body}
			rc    = &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		)
		r.Body = rd

		next.ServeHTTP(rc, r)

		labels := prometheus.Labels{
			"node":   node,
			"method": strings.ToLower(r.Method),
			"op":     strings.ToUpper(r.URL.Query().Get("op")),
			"status": strconv.Itoa(rc.status),
		}
		requestBytes.With(labels).Add(float64(rd.bytesRead))
		requestDurations.With(labels).Observe(time.Since(start).Seconds())
		responseBytes.With(labels).Add(float64(rc.size))
	})
}

type readerDelegator struct {
	io.ReadCloser
	bytesRead int
}

func (r *readerDelegator) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += n
	return n, err
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
