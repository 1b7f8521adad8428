// Command querycore starts the query execution core: the binary-protocol
// server that runs Priority Spatial Search, the Document Assembler &
// Ranker, and Keyword Augmentation against the Block Cache and Word
// Division streams.
//
// Usage:
//
//	go run ./cmd/querycore [-config configs/development.yaml] <server-type-id>
//
// The positional server-type id is opaque to the core; it is accepted for
// parity with the name-service registration the original search cluster
// performs and is otherwise unused here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distsearch/query-core/internal/admission"
	"github.com/distsearch/query-core/internal/auditlog"
	"github.com/distsearch/query-core/internal/events"
	"github.com/distsearch/query-core/internal/orchestrator"
	"github.com/distsearch/query-core/internal/resultcache"
	"github.com/distsearch/query-core/internal/store/cache"
	"github.com/distsearch/query-core/internal/wire"
	"github.com/distsearch/query-core/internal/worddiv"
	"github.com/distsearch/query-core/pkg/config"
	"github.com/distsearch/query-core/pkg/health"
	"github.com/distsearch/query-core/pkg/kafka"
	"github.com/distsearch/query-core/pkg/logger"
	"github.com/distsearch/query-core/pkg/metrics"
	"github.com/distsearch/query-core/pkg/middleware"
	"github.com/distsearch/query-core/pkg/postgres"
	pkgredis "github.com/distsearch/query-core/pkg/redis"
	"github.com/distsearch/query-core/pkg/resilience"
)

// admitWindow is the token-bucket refill window for per-client admission
// control on the wire protocol listener.
const admitWindow = time.Second

// admitLimit is the per-client connection budget within admitWindow.
const admitLimit = 50

// healthCheckTimeout bounds each individual dependency ping run by the
// admin server's readiness handler, so one slow backend can't stall the
// whole /health/ready response past the handler's own deadline.
const healthCheckTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	serverTypeID := "unspecified"
	if flag.NArg() > 0 {
		serverTypeID = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting query execution core", "server_type_id", serverTypeID, "addr", cfg.Server.Addr)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsShutdown := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			metricsShutdown(shutdownCtx)
		}()
		slog.Info("prometheus metrics enabled", "port", cfg.Metrics.Port)
	}

	blockCache := cache.New(cfg.Cache.MaxByteNum, cfg.Cache.HashHeaderKB, m)
	manager := worddiv.NewManager(cfg.Block.DataDir, blockCache)
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Error("failed to close word division manager", "error", err)
		}
	}()
	slog.Info("word division manager initialized", "data_dir", cfg.Block.DataDir)

	var pgClient *postgres.Client
	pgClient, err = postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, query audit logging disabled", "error", err)
		pgClient = nil
	} else {
		defer pgClient.Close()
	}
	auditLog := auditlog.New(pgClient)

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}
	resultCache := resultcache.New(redisClient, cfg.Redis.CacheTTL, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	collector := events.NewCollector(analyticsProducer, 10000)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("query analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	invalidateConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, events.InvalidateHandler(blockCache))
	go func() {
		if err := invalidateConsumer.Start(ctx); err != nil {
			slog.Error("cache-invalidate consumer stopped with error", "error", err)
		}
	}()
	indexCompleteConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, events.InvalidateHandler(blockCache))
	go func() {
		if err := indexCompleteConsumer.Start(ctx); err != nil {
			slog.Error("index-complete consumer stopped with error", "error", err)
		}
	}()

	orch := orchestrator.New(cfg, manager, blockCache, m)
	admitLimiter := admission.New(admitWindow)
	handler := queryHandler(orch, resultCache, auditLog, collector)

	wireServer := wire.NewServer(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, handler, admitLimiter, admitLimit, m)

	checker := health.NewChecker()
	checker.Register("block_cache", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if pgClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		err := resilience.WithTimeout(ctx, healthCheckTimeout, "postgres_ping", func(pingCtx context.Context) error {
			return pgClient.DB.PingContext(pingCtx)
		})
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		err := resilience.WithTimeout(ctx, healthCheckTimeout, "redis_ping", func(pingCtx context.Context) error {
			return redisClient.Ping(pingCtx)
		})
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	adminServer := startAdminServer(cfg, m, checker)
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
	}()

	slog.Info("query execution core listening", "addr", cfg.Server.Addr)
	if err := wireServer.Serve(ctx); err != nil {
		slog.Error("wire server failed to serve", "error", err)
		os.Exit(1)
	}

	slog.Info("query execution core stopped")
}

// queryHandler composes the result cache, the Query Orchestrator, the audit
// log, and the analytics collector into the wire.Handler the binary
// protocol server dispatches each request to.
func queryHandler(orch *orchestrator.Orchestrator, resultCache *resultcache.Cache, auditLog *auditlog.Log, collector *events.Collector) wire.Handler {
	return func(ctx context.Context, clientID string, req *wire.Request) (int32, []wire.ResponseDoc, error) {
		start := time.Now()
		key := resultcache.Key(clientID, req.Terms)

		result, err := resultCache.GetOrCompute(ctx, key, func() (resultcache.Result, error) {
			maxWordDivNum, docs, err := orch.Execute(ctx, clientID, req)
			if err != nil {
				return resultcache.Result{}, err
			}
			return resultcache.Result{MaxWordDivNum: maxWordDivNum, Docs: docs}, nil
		})

		duration := time.Since(start)
		now := time.Now()
		auditLog.Record(ctx, auditlog.Entry{
			ClientID:      clientID,
			TermCount:     len(req.Terms),
			MaxWordDivNum: result.MaxWordDivNum,
			DocCount:      len(result.Docs),
			Duration:      duration,
			ExecutedAt:    now,
			Err:           err,
		})
		if err != nil {
			return 0, nil, err
		}

		collector.Track(events.QueryExecuted{
			ClientID:      clientID,
			TermCount:     len(req.Terms),
			MaxWordDivNum: result.MaxWordDivNum,
			DocCount:      len(result.Docs),
			DurationMs:    duration.Milliseconds(),
			ExecutedAt:    now,
		})
		return result.MaxWordDivNum, result.Docs, nil
	}
}

// startAdminServer exposes liveness/readiness probes on cfg.Server.AdminPort.
// Prometheus metrics are served on their own port by metrics.StartServer.
func startAdminServer(cfg *config.Config, m *metrics.Metrics, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:      chain,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("admin server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()
	return server
}
