package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/medrex/rx-ledger/pkg/monitoring"
)

// traceQuery opens a database span. The returned func ends it, marking the
// span failed unless err is nil or a plain miss.
func traceQuery(ctx context.Context, tracing *monitoring.TracingManager, operation, table string) (context.Context, func(err error)) {
	ctx, span := tracing.StartDatabaseSpan(ctx, operation, table)
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			tracing.RecordError(span, err)
		}
		span.End()
	}
}
