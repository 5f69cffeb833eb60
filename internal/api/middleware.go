package api

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"routeday/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// LogMiddleware logs each request and records HTTP metrics. Paths are
// collapsed to their route shape so per-date URLs do not explode metric
// cardinality.
func LogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		path := metricPath(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}

func metricPath(p string) string {
	if rest := strings.TrimPrefix(p, "/v1/plans/"); rest != p && rest != "" {
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 {
			return "/v1/plans/{date}/" + parts[1]
		}
		return "/v1/plans/{date}"
	}
	if rest := strings.TrimPrefix(p, "/v1/candidates/"); rest != p && rest != "" {
		return "/v1/candidates/{id}"
	}
	return p
}
