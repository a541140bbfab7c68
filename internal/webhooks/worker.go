// Package webhooks delivers simulation events to subscriber URLs with
// HMAC signatures and exponential backoff.
package webhooks

import (
    "bytes"
    "context"
    "log"
    "net/http"
    "time"

    "fleetsim/internal/metrics"
)

type Worker struct {
    Outbox      *Outbox
    HTTP        *http.Client
    Stop        chan struct{}
    MaxAttempts int
    Interval    time.Duration
}

func NewWorker(o *Outbox, maxAttempts int) *Worker {
    if maxAttempts <= 0 { maxAttempts = 10 }
    return &Worker{Outbox: o, HTTP: &http.Client{Timeout: 5 * time.Second}, Stop: make(chan struct{}), MaxAttempts: maxAttempts, Interval: time.Second}
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(w.Interval)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items := w.Outbox.Due(time.Now(), 50)
    for _, it := range items {
        success := false
        next := time.Now().Add(nextBackoff(it.Attempts))
        req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
        if err != nil {
            log.Printf("webhooks: bad url=%s err=%v", it.URL, err)
            w.Outbox.Fail(it.ID)
            continue
        }
        req.Header.Set("Content-Type", "application/json")
        req.Header.Set(EventTypeHeader, it.EventType)
        if it.Secret != "" {
            req.Header.Set(SignatureHeader, SignHMAC(it.Secret, it.Payload))
        }
        resp, err := w.HTTP.Do(req)
        code := 0
        if err == nil && resp != nil {
            code = resp.StatusCode
            if resp.Body != nil { _ = resp.Body.Close() }
            if code >= 200 && code < 300 { success = true }
        }
        lastErr := ""
        if !success && err != nil { lastErr = err.Error() }
        if !success && it.Attempts+1 >= w.MaxAttempts {
            metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
            log.Printf("webhooks: giving up id=%s url=%s attempts=%d code=%d err=%s", it.ID, it.URL, it.Attempts+1, code, lastErr)
            w.Outbox.Fail(it.ID)
            continue
        }
        if success {
            metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
        } else {
            metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
        }
        w.Outbox.Mark(it.ID, success, next, lastErr, code)
    }
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
