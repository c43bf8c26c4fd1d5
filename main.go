package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"affiliate-leaderboard/cache"
	"affiliate-leaderboard/config"
	"affiliate-leaderboard/events"
	"affiliate-leaderboard/handlers"
	"affiliate-leaderboard/middleware"
	"affiliate-leaderboard/models"
	"affiliate-leaderboard/services"
	"affiliate-leaderboard/utils"
	"affiliate-leaderboard/workers"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	cfg.SetupLogging()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	if err := db.AutoMigrate(&models.ReferralRecord{}, &models.SyncRun{}); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clients []workers.FeedClient
	var sources []string
	for _, p := range cfg.EnabledPartners() {
		client, err := workers.NewHTTPFeedClient(p, cfg.FeedTimeout)
		if err != nil {
			log.Fatalf("failed to build %s feed client: %v", p.Name, err)
		}
		clients = append(clients, client)
		sources = append(sources, p.Name)
	}
	if len(clients) == 0 {
		log.Warn("⚠️  No partner API keys configured, leaderboards will stay empty")
	}

	var lbCache services.LeaderboardCache
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("⚠️  Redis unavailable, serving leaderboards from the database only")
		} else {
			defer rdb.Close()
			lbCache = cache.NewRedisLeaderboardCache(rdb, cfg.CacheTTL)
		}
	}

	referralStore := services.NewReferralStore(db)
	runStore := services.NewSyncRunStore(db)
	leaderboard := services.NewLeaderboardService(referralStore, lbCache, cfg.LeaderboardLimit, sources...)
	reconciler := services.NewReconciler(referralStore, cfg.SyncConcurrency)

	scheduler := services.NewSyncScheduler(services.SchedulerConfig{
		Interval: cfg.SyncInterval,
		Cron:     cfg.SyncCron,
		Lookback: cfg.SyncLookback,
	}, reconciler, runStore, clients...)

	// Cache invalidation must run before the snapshot hook reads the board.
	scheduler.AddHook(leaderboard)
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewSyncEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatal("failed to create kafka publisher: ", err)
		}
		defer publisher.Close()
		scheduler.AddHook(services.NewEventHook(publisher))
	}
	if cfg.R2Enabled() {
		archive, err := utils.NewR2SnapshotArchive(ctx, cfg.R2AccountID, cfg.R2AccessKey, cfg.R2AccessSecret, cfg.R2Bucket)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		scheduler.AddHook(services.NewSnapshotHook(leaderboard, archive))
	}

	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start sync scheduler: ", err)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	})
	app.Use(middleware.RequestLogger())
	handlers.SetupLeaderboardRoutes(app, leaderboard, scheduler, runStore)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("Server error: %v", err)
		}
	}()

	log.Infof("✅ Server running on http://localhost:%s", cfg.Port)
	log.Infof("✅ Sync running for sources: %v", sources)

	<-ctx.Done()
	log.Info("Shutting down server...")
	if err := scheduler.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown")
	}
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
}
