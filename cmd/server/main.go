// Adapted from the teacher's cmd/server/main.go: same bootstrap shape
// (load config, connect database, build the Gin router, register graceful
// shutdown) with the GraphQL/WebSocket/FCM/RBAC wiring replaced by this
// service's CacheCore/WorkerCore/NotifyCore/SweeperCore wiring.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/extractors"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/fingerprint"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/httpapi"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/notifycore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/queries"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/sweepercore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/workercore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/config"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/database"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// version is injected at build time via:
//
//	go build -ldflags "-X main.version=1.2.3"
var version = "dev"

func main() {
	log := logging.New(logging.DefaultConfig())
	log.Info("starting server", logging.String("version", version))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", err)
	}

	gin.SetMode(cfg.Server.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", err)
	}

	// Service startup must not run migrations. Execute migrations explicitly
	// via the dedicated migration entrypoint: go run ./cmd/migrate
	if err := database.Health(context.Background(), db); err != nil {
		log.Fatal("database health check failed, run migrations first with `go run ./cmd/migrate`", err)
	}

	healthChecker := database.NewHealthChecker(database.DefaultHealthCheckerConfig(), log)
	healthChecker.RegisterConnection("postgres", db)
	healthChecker.Start()
	defer healthChecker.Stop()

	redisClient := redis.NewClient(mustParseRedisURL(cfg.KVStore.URL, log))
	store := kvstore.NewRedisStore(redisClient, log)

	worker, err := workercore.New(cfg.Cache.InProcessCacheSize, store, cfg.Worker.HeavyAdmissionLimit, log)
	if err != nil {
		log.Fatal("failed to initialize worker core", err)
	}

	queryMetrics := database.NewQueryMetrics(log)

	playerServerResolver := fingerprint.NewPlayerServerResolver(db, worker, cfg.Cache.FingerprintTTL)
	mapServerResolver := fingerprint.NewMapServerResolver(db, worker, cfg.Cache.FingerprintTTL)

	playerServerExtractor := extractors.MustNewPlayerServerExtractor("server", "player", playerServerResolver)
	mapServerExtractor := extractors.MustNewMapServerExtractor("server", "map", mapServerResolver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startNotifyListener(ctx, cfg, log)
	startSweepers(ctx, db, store, queryMetrics, log, cfg)

	router := httpapi.NewRouter(httpapi.Dependencies{
		DB:                    db,
		KV:                    store,
		Worker:                worker,
		Log:                   log,
		Metrics:               queryMetrics,
		PlayerServerExtractor: playerServerExtractor,
		MapServerExtractor:    mapServerExtractor,
		Version:               version,
	})

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("listening", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server stopped unexpectedly", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", err)
	}
}

func mustParseRedisURL(url string, log logging.Logger) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatal("invalid kv_store.url", err)
	}
	return opts
}

func notifyFanOutTargets(templates []string) []notifycore.FanOutTarget {
	targets := make([]notifycore.FanOutTarget, 0, len(templates))
	for i, tmpl := range templates {
		targets = append(targets, notifycore.FanOutTarget{Name: "target-" + strconv.Itoa(i), URLTemplate: tmpl})
	}
	return targets
}

func startNotifyListener(ctx context.Context, cfg *config.Config, log logging.Logger) {
	listener := notifycore.NewListener(notifycore.Config{
		ConnString:           cfg.Database.DSN(),
		SelfCallBaseURL:      cfg.Notify.SelfCallBaseURL,
		EntityActivityFanOut: notifyFanOutTargets(cfg.Notify.EntityActivityFanOut),
		RotationEndedFanOut:  notifyFanOutTargets(cfg.Notify.RotationEndedFanOut),
	}, log)

	go listener.Run(ctx)
}

func startSweepers(ctx context.Context, db *gorm.DB, store kvstore.Store, metrics *database.QueryMetrics, log logging.Logger, cfg *config.Config) {
	runner := sweepercore.NewRunner(store, log)
	runner.Start(ctx,
		sweepercore.Sweeper{
			Name:     "rotation-cache-warm",
			Interval: cfg.Sweeper.RotationInterval,
			GateKey:  "sweeper:rotation-cache-warm",
			Run: func(ctx context.Context) error {
				q := &queries.RecentParticipantsQuery{DB: db, Metrics: metrics, Window: time.Hour}
				_, err := q.Compute(ctx)
				return err
			},
		},
		sweepercore.Sweeper{
			Name:     "recent-participants-warm",
			Interval: cfg.Sweeper.RecentParticipantInterval,
			GateKey:  "sweeper:recent-participants-warm",
			Run: func(ctx context.Context) error {
				q := &queries.RecentParticipantsQuery{DB: db, Metrics: metrics, Window: 24 * time.Hour}
				_, err := q.Compute(ctx)
				return err
			},
		},
	)
}
