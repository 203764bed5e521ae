package main

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/postgres"
)

// job is a periodic background task driven by the binary.
type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// startJob runs j.fn every j.interval until ctx is cancelled. A run in
// progress finishes before the loop exits. The returned channel is closed
// once the loop has stopped. A non-positive interval disables the job and
// returns an already-closed channel.
func startJob(ctx context.Context, L log.Logger, j job) <-chan struct{} {
	done := make(chan struct{})
	if j.interval <= 0 {
		L.Info(ctx, "scheduled job disabled", "job", j.name)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		t := time.NewTicker(j.interval)
		defer t.Stop()

		L.Info(ctx, "scheduled job started", "job", j.name, "interval", j.interval.String())
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				runJob(ctx, L, j)
			}
		}
	}()
	return done
}

func runJob(ctx context.Context, L log.Logger, j job) {
	jctx := postgres.NewReqDBStatsContext(postgres.WithTrigger(ctx, j.name))
	start := time.Now()

	err := j.fn(jctx)

	fields := []any{"job", j.name, "duration", time.Since(start).Seconds()}
	if stats, ok := postgres.ReqDBStatsFromContext(jctx); ok {
		q, total, errs := stats.Snapshot()
		fields = append(fields, "db_queries", q, "db_duration", total.Seconds(), "db_errors", errs)
	}
	if err != nil {
		L.Error(ctx, err, "scheduled job failed", fields...)
		return
	}
	L.Info(ctx, "scheduled job complete", fields...)
}
