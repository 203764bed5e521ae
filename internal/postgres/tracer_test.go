package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	q, total, errs := s.Snapshot()
	if q != 3 {
		t.Errorf("QueryCount = %d, want 3", q)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}

	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithOperation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   string
		want string
	}{
		{"set", "CreateIncident", "CreateIncident"},
		{"empty keeps context", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := WithOperation(context.Background(), tt.op)
			if got := operationFromContext(ctx); got != tt.want {
				t.Errorf("operationFromContext = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTriggerFromContext(t *testing.T) {
	t.Parallel()

	if got := triggerFromContext(WithTrigger(context.Background(), "sweep")); got != "sweep" {
		t.Errorf("explicit trigger = %q, want sweep", got)
	}
	if got := triggerFromContext(WithTrigger(context.Background(), "")); got != "" {
		t.Errorf("empty trigger = %q, want empty", got)
	}

	// falls back to the chi route pattern
	r := chi.NewRouter()
	var seen string
	r.Get("/api/v1/incidents/{id}", func(_ http.ResponseWriter, req *http.Request) {
		seen = triggerFromContext(req.Context())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/incidents/abc", nil))
	if seen != "/api/v1/incidents/{id}" {
		t.Errorf("route trigger = %q, want pattern", seen)
	}
}

type recordingTracer struct {
	started, ended int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.started++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	r.ended++
}

func TestLoggingTracer_ObservesAndDelegates(t *testing.T) {
	// mutates the global observer
	defer SetQueryObserver(nil)

	type obs struct{ op, trigger, outcome string }
	var got []obs
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, trigger, outcome string, _ time.Duration) {
		got = append(got, obs{op, trigger, outcome})
	}))

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner)

	ctx := NewReqDBStatsContext(context.Background())
	ctx = WithTrigger(WithOperation(ctx, "InsertLink"), "scheduler")

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	qctx = tr.TraceQueryStart(WithOperation(context.Background(), ""), nil, pgx.TraceQueryStartData{SQL: "INSERT"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: &pgconn.PgError{Code: "23505"}})

	if inner.started != 2 || inner.ended != 2 {
		t.Errorf("inner tracer calls = %d/%d, want 2/2", inner.started, inner.ended)
	}
	want := []obs{{"InsertLink", "scheduler", "ok"}, {"unknown", "unknown", "error"}}
	if len(got) != len(want) {
		t.Fatalf("observations = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("obs[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	stats, _ := ReqDBStatsFromContext(ctx)
	if q, _, errs := stats.Snapshot(); q != 1 || errs != 0 {
		t.Errorf("stats = %d queries %d errors, want 1/0", q, errs)
	}
}

func TestWrapQueryTracer_NilInner(t *testing.T) {
	t.Parallel()

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
}

func TestNewPool_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "postgres://user@localhost:notaport/db"); err == nil {
		t.Fatal("expected error")
	}
}
