package metrics

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicContextKey is the context key for the *newrelic.Application
type NewRelicContextKey struct{}

// NewContext returns a copy of ctx carrying the New Relic application. A nil
// app leaves ctx untouched, which disables New Relic reporting.
func NewContext(ctx context.Context, app *newrelic.Application) context.Context {
	if app == nil {
		return ctx
	}
	return context.WithValue(ctx, NewRelicContextKey{}, app)
}

func fromContext(ctx context.Context) (*newrelic.Application, bool) {
	nr, ok := ctx.Value(NewRelicContextKey{}).(*newrelic.Application)
	return nr, ok && nr != nil
}

// StartTransaction starts a New Relic transaction for a unit of background
// work and attaches it to the returned context. The returned function ends
// the transaction.
func StartTransaction(ctx context.Context, name string) (context.Context, func()) {
	nr, ok := fromContext(ctx)
	if !ok {
		return ctx, func() {}
	}

	txn := nr.StartTransaction(name)
	return newrelic.NewContext(ctx, txn), txn.End
}
