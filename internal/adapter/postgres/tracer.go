package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/errify/internal/adapter/metrics"
)

// queryTracer records query latency and failures keyed by statement verb.
type queryTracer struct {
	metrics *metrics.DBMetrics
}

var _ pgx.QueryTracer = (*queryTracer)(nil)

type queryStartKey struct{}

type queryStart struct {
	at   time.Time
	verb string
}

func newQueryTracer(m *metrics.DBMetrics) *queryTracer {
	return &queryTracer{metrics: m}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), verb: statementVerb(data.SQL)})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	t.metrics.QueryDuration.WithLabelValues(start.verb).Observe(time.Since(start.at).Seconds())
	if data.Err != nil {
		t.metrics.Errors.WithLabelValues(start.verb).Inc()
	}
}

// statementVerb keeps label cardinality bounded: only the leading keyword
// of the statement is used.
func statementVerb(sql string) string {
	for line := range strings.Lines(sql) {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "--") {
			continue
		}
		return strings.ToUpper(fields[0])
	}
	return "UNKNOWN"
}
