package metrics

import (
	"context"
	"time"
)

// RecordEvent reports a custom event to the application in ctx, if any.
func RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	if nr, ok := fromContext(ctx); ok {
		nr.RecordCustomEvent(name, attributes)
	}
}

// RecordCount reports count under name.
func RecordCount(ctx context.Context, name string, count uint64) {
	if nr, ok := fromContext(ctx); ok {
		nr.RecordCustomMetric(name, float64(count))
	}
}

// RecordDuration reports d in milliseconds under name.
func RecordDuration(ctx context.Context, name string, d time.Duration) {
	if nr, ok := fromContext(ctx); ok {
		nr.RecordCustomMetric(name, float64(d.Milliseconds()))
	}
}
