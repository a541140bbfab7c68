package api

import (
    "bufio"
    "context"
    "errors"
    "log"
    "net"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"

    "fleetsim/internal/metrics"
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

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("hijack not supported")
    }
    return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        reqID := r.Header.Get("X-Request-Id")
        if reqID == "" {
            reqID = uuid.New().String()
        }
        w.Header().Set("X-Request-Id", reqID)
        r = r.WithContext(context.WithValue(r.Context(), metrics.RequestIDKey, reqID))

        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)

        path := metricPath(r.URL.Path)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
        log.Printf("req_id=%s %s %s %s status=%d dur=%v", reqID, r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
    })
}

// metricPath collapses session ids so the path label stays bounded.
func metricPath(p string) string {
    rest, ok := strings.CutPrefix(p, "/v1/simulations/")
    if !ok || rest == "" {
        return p
    }
    parts := strings.SplitN(rest, "/", 2)
    if len(parts) == 1 {
        return "/v1/simulations/{id}"
    }
    return "/v1/simulations/{id}/" + parts[1]
}
