package setup

import (
	"context"
	"log"
	"time"

	"github.com/trackwatch/trackwatch/internal/api/auth"
	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/api/live"
	"github.com/trackwatch/trackwatch/internal/api/oauth"
	"github.com/trackwatch/trackwatch/internal/database"
	"github.com/trackwatch/trackwatch/internal/driver"
	"github.com/trackwatch/trackwatch/internal/jobs"
	"github.com/trackwatch/trackwatch/internal/mailer"
	"github.com/trackwatch/trackwatch/internal/notify"
	"github.com/trackwatch/trackwatch/internal/redis"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"github.com/trackwatch/trackwatch/internal/tracker"
	"go.uber.org/zap"
)

// App bundles all core dependencies and services. Each field is a subsystem
// initialized once and shared by the commands.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           database.Client
	RedisManager *redis.Manager

	CrawlService *jobs.Service
	CrawlRunner  *jobs.Runner
	Tracker      *tracker.Engine
	Driver       *driver.Engine
	Orchestrator *notify.Orchestrator
	Sender       *notify.Sender
}

// InitializeApp bootstraps all application dependencies in order, so each
// component has what it needs by the time it is constructed.
func InitializeApp(ctx context.Context) (*App, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Debug.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &cfg.PostgreSQL, logger, true)
	if err != nil {
		return nil, err
	}

	redisManager := redis.NewManager(&cfg.Redis, logger)

	snapshotClient, err := redisManager.GetClient(redis.SnapshotDBIndex)
	if err != nil {
		return nil, err
	}

	ratelimitClient, err := redisManager.GetClient(redis.RatelimitDBIndex)
	if err != nil {
		return nil, err
	}

	repo := db.Model()

	// Credentialed clients for the two provider namespaces
	tokenCache := auth.NewCache(repo.Token(), logger)
	liveProvider := auth.NewLiveProvider(&cfg.Live)
	oauthProvider := auth.NewOAuthProvider(&cfg.OAuth)

	liveRequester := auth.NewClient(
		tokenCache, liveProvider, time.Duration(cfg.Live.RequestTimeout)*time.Millisecond, logger,
	)
	oauthRequester := auth.NewClient(
		tokenCache, oauthProvider, time.Duration(cfg.OAuth.RequestTimeout)*time.Millisecond, logger,
	)

	leaderboards := live.NewClient(liveRequester, &cfg.Live, logger)
	names := oauth.NewResolver(oauthRequester, &cfg.OAuth, logger)
	catalog := exchange.NewClient(&cfg.Exchange, logger)

	snapshots := tracker.NewSnapshotCache(snapshotClient, logger)

	trackerEngine := tracker.NewEngine(
		repo.Alert(), repo.Baseline(), catalog, leaderboards, snapshots, &cfg.Tracker, logger,
	)
	driverEngine := driver.NewEngine(repo.Driver(), leaderboards, snapshots, cfg.Tracker.TopN, logger)

	runner := jobs.NewRunner(
		repo.Job(), repo.Alert(), catalog, leaderboards, names, trackerEngine, &cfg.Tracker, logger,
	)
	limiter := jobs.NewLimiter(
		ratelimitClient, time.Duration(cfg.Crawl.LimiterWindow)*time.Second, cfg.Crawl.LimiterMax, logger,
	)
	crawlService := jobs.NewService(repo.Job(), limiter, runner, &cfg.Crawl, logger)

	mail := mailer.NewBrevo(&cfg.Mailer, logger)
	orchestrator := notify.NewOrchestrator(
		repo.Alert(), trackerEngine, driverEngine, repo.Outbox(), repo.History(), logger,
	)
	sender := notify.NewSender(repo.Outbox(), mail, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		RedisManager: redisManager,
		CrawlService: crawlService,
		CrawlRunner:  runner,
		Tracker:      trackerEngine,
		Driver:       driverEngine,
		Orchestrator: orchestrator,
		Sender:       sender,
	}, nil
}

// Cleanup shuts components down in reverse initialization order. Cleanup
// errors are logged, not fatal, so every component gets its attempt.
func (a *App) Cleanup() {
	if err := a.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := a.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	a.RedisManager.Close()
}
