// Respond turns threat detections into tracked incidents with generated
// playbooks, SLA clocks and audit timelines.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	rc "github.com/linnemanlabs/respond/internal/cfg"
	"github.com/linnemanlabs/respond/internal/incident"
	"github.com/linnemanlabs/respond/internal/incident/memstore"
	"github.com/linnemanlabs/respond/internal/incident/pgstore"
	"github.com/linnemanlabs/respond/internal/incident/redisseq"
	"github.com/linnemanlabs/respond/internal/llm/claude"
	"github.com/linnemanlabs/respond/internal/notify"
	"github.com/linnemanlabs/respond/internal/notify/pubsub"
	"github.com/linnemanlabs/respond/internal/notify/slack"
	"github.com/linnemanlabs/respond/internal/notify/webhook"
	"github.com/linnemanlabs/respond/internal/postgres"
	"github.com/linnemanlabs/respond/internal/respondapi"
)

const appName = "respond"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    rc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first, env vars below only fill what flags left unset
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "RESPOND_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	policy, err := rc.LoadPolicy(appCfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"policy_file", appCfg.PolicyFile,
		"severity_threshold", policy.SeverityThreshold,
		"confidence_threshold", policy.ConfidenceThreshold,
		"eligibility_window", policy.EligibilityWindow.String(),
		"dedup_window", policy.DedupWindow.String(),
		"concurrency", policy.Concurrency,
		"sla_sweep_interval_seconds", appCfg.SweepIntervalSeconds,
		"automation_interval_seconds", appCfg.RunIntervalSeconds,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Record store
	var (
		store   incident.Store
		pgStore *pgstore.Store
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err = pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Incident number allocation: redis when shared across instances,
	// otherwise the store's own counter.
	var seq incident.Sequencer
	if appCfg.RedisAddr != "" {
		rs, err := redisseq.New(ctx, redisseq.Config{
			Addr:     appCfg.RedisAddr,
			Password: appCfg.RedisPassword,
			DB:       appCfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis sequencer: %w", err)
		}
		defer func() { _ = rs.Close() }()
		if pgStore != nil {
			highest, err := pgStore.MaxIncidentNumber(ctx)
			if err != nil {
				return fmt.Errorf("read highest incident number: %w", err)
			}
			if _, err := rs.EnsureAtLeast(ctx, highest); err != nil {
				return fmt.Errorf("seed redis sequencer: %w", err)
			}
		}
		seq = rs
		L.Info(ctx, "using redis incident number allocation", "addr", appCfg.RedisAddr)
	}

	// Playbook drafter
	var provider incident.Provider
	if appCfg.ClaudeAPIKey != "" {
		provider = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)
	} else {
		L.Warn(ctx, "no claude api key configured, playbooks will be empty")
	}

	incidentMetrics := incident.NewMetrics(m.Registry())

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "respond_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "trigger", "outcome"})
	notifyDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "respond_notification_channel_duration_seconds",
		Help:    "Delivery time per notification channel, including retries.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
	}, []string{"channel", "result"})
	m.Registry().MustRegister(dbQueryDuration, notifyDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, trigger, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, trigger, outcome).Observe(dur.Seconds())
		},
	))

	// Notification channels
	channels := []notify.Channel{}
	if appCfg.SlackWebhookURL != "" {
		channels = append(channels, notify.Channel{Name: "slack", Notifier: slack.New(appCfg.SlackWebhookURL, L)})
	}
	if appCfg.WebhookURL != "" {
		channels = append(channels, notify.Channel{Name: "webhook", Notifier: webhook.New(webhook.Config{
			URL:    appCfg.WebhookURL,
			Source: appCfg.WebhookSource,
		}, L)})
	}
	if appCfg.PubSubTopic != "" {
		ps, err := pubsub.New(ctx, appCfg.PubSubProject, appCfg.PubSubTopic, L)
		if err != nil {
			return fmt.Errorf("pubsub notifier: %w", err)
		}
		defer func() { _ = ps.Close() }()
		channels = append(channels, notify.Channel{Name: "pubsub", Notifier: ps})
	}
	var notifier incident.Notifier
	if len(channels) > 0 {
		notifier = notify.NewFanout(L, func(channel string, ok bool, dur time.Duration) {
			result := "success"
			if !ok {
				result = "error"
			}
			notifyDuration.WithLabelValues(channel, result).Observe(dur.Seconds())
		}, channels...)
		for _, c := range channels {
			L.Info(ctx, "notifier enabled", "type", c.Name)
		}
	} else {
		L.Warn(ctx, "no notification channels configured")
	}

	svc := incident.NewService(store, seq, provider, notifier,
		policy.EngineConfig(time.Duration(appCfg.PlaybookTimeoutSeconds)*time.Second),
		L, incidentMetrics.Hooks())

	// Background jobs keep running through the drain period and are stopped
	// with the other components.
	jobCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer stopJobs()
	jobsDone := []<-chan struct{}{
		startJob(jobCtx, L, job{
			name:     "sla-sweep",
			interval: time.Duration(appCfg.SweepIntervalSeconds) * time.Second,
			fn: func(ctx context.Context) error {
				n, err := svc.SweepBreaches(ctx)
				if n > 0 {
					L.Warn(ctx, "sla breaches flagged", "count", n)
				}
				return err
			},
		}),
		startJob(jobCtx, L, job{
			name:     "automation-run",
			interval: time.Duration(appCfg.RunIntervalSeconds) * time.Second,
			fn: func(ctx context.Context) error {
				report, err := svc.Run(ctx, incident.Criteria{})
				if err != nil {
					return err
				}
				L.Info(ctx, "scheduled automation run",
					"created", len(report.Created),
					"linked", len(report.Linked),
					"skipped", len(report.Skipped),
				)
				return nil
			},
		}),
	}
	stopScheduler := func(ctx context.Context) error {
		stopJobs()
		for _, done := range jobsDone {
			select {
			case <-done:
			case <-ctx.Done():
				return fmt.Errorf("scheduled jobs still running: %w", ctx.Err())
			}
		}
		return nil
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Label DB queries issued by API requests with the HTTP method.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithTrigger(req.Context(), "http."+req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	respondapi.New(L, svc).RegisterRoutes(r)

	// middleware stack for main listener, outermost sees the raw request first
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"scheduler", stopScheduler},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
