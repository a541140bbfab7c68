package metrics

import (
	"context"
	"log"
	"time"
)

type ctxKey string

// RequestIDKey carries the request id used in log lines.
const RequestIDKey ctxKey = "req_id"

// Time logs the duration of an operation and its error, if any.
//
//	defer metrics.Time(ctx, "matrix.build")(&err)
func Time(ctx context.Context, name string) func(errp *error) {
	start := time.Now()
	reqID, _ := ctx.Value(RequestIDKey).(string)

	return func(errp *error) {
		dur := time.Since(start)
		if errp != nil && *errp != nil {
			log.Printf("req_id=%s op=%s dur=%dms err=%v", reqID, name, dur.Milliseconds(), *errp)
			return
		}
		log.Printf("req_id=%s op=%s dur=%dms", reqID, name, dur.Milliseconds())
	}
}

// ObserveOptimize records an optimizer run in OptimizeDuration.
func ObserveOptimize(algorithm string, start time.Time) {
	OptimizeDuration.WithLabelValues(algorithm).Observe(time.Since(start).Seconds())
}
