package metrics

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterDefaultIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()
	MatrixBuilds.WithLabelValues("haversine").Inc()
	mfs, err := Registry.Gather()
	if err != nil { t.Fatalf("gather: %v", err) }
	var got float64
	for _, mf := range mfs {
		if mf.GetName() != "matrix_builds_total" { continue }
		for _, m := range mf.GetMetric() {
			got += m.GetCounter().GetValue()
		}
	}
	if got < 1 { t.Fatalf("matrix_builds_total not exported, value %v", got) }
}

func TestTimeHandlesErrorAndNil(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	err := errors.New("boom")
	Time(ctx, "op")(&err)
	Time(ctx, "op")(nil)
}
