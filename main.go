package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"pitchmail/config"
	controller "pitchmail/controllers"
	"pitchmail/crm"
	"pitchmail/middleware"
	"pitchmail/notifier"
	"pitchmail/routes"
	"pitchmail/store"
	"pitchmail/store/memstore"
	"pitchmail/utils"
	"pitchmail/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	utils.SetupLogger(cfg.LogLevel, cfg.Environment)

	flush, err := utils.InitSentry(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.WithError(err).Warn("Sentry disabled")
	}
	defer flush()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	secrets, err := utils.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}

	rdb := config.NewRedisClient(cfg.Redis)
	var limiterStorage fiber.Storage
	if rdb != nil {
		defer rdb.Close()
		limiterStorage = middleware.NewRedisStorage(rdb)
	}

	events := notifier.Notifier(notifier.Nop{})
	if cfg.AMQPURL != "" {
		amqpClient, err := notifier.DialAMQP(cfg.AMQPURL)
		if err != nil {
			log.WithError(err).Warn("AMQP unavailable, engagement events will not be published")
		} else {
			defer amqpClient.Close()
			events = notifier.NewEventNotifier(amqpClient)
		}
	}

	router := &worker.SourceRouter{Local: &worker.LocalSource{Store: st}}
	if cfg.Zoho.Enabled() {
		router.Remote = &worker.RemoteSource{Client: newCRMClient(cfg, st, rdb)}
	}

	progress := worker.NewProgressHub(64)
	dispatcher := worker.NewDispatcher(st, router, utils.NewSMTPMailer(cfg.SendMaxAttempts), secrets)
	dispatcher.Notifier = events
	dispatcher.Progress = progress
	dispatcher.TrackingBaseURL = cfg.TrackingBaseURL
	dispatcher.BccDisplayAddress = cfg.BccDisplayAddress
	dispatcher.Timeout = cfg.UpstreamTimeout
	dispatcher.SourceTimeout = cfg.SourceTimeout

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := worker.NewSequenceScheduler(st, dispatcher, cfg.SchedulerInterval)
	schedulerDone := make(chan struct{})
	if cfg.SchedulerEnabled {
		go func() {
			defer close(schedulerDone)
			scheduler.Start(ctx)
		}()
	} else {
		close(schedulerDone)
		log.Info("Scheduler disabled")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: cfg.Environment == "production"})
	app.Use(recover.New())
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Handlers{
		Tracking:       controller.NewTrackingController(st, events, cfg.ClickDwellWindow, cfg.AuditPageSize),
		Sequence:       controller.NewSequenceController(st, dispatcher, cfg.AuditPageSize),
		Progress:       progress,
		RateLimit:      cfg.APIRateLimit,
		LimiterStorage: limiterStorage,
	})

	go func() {
		log.Infof("🚀 Server starting on port %s", cfg.ServerPort)
		if err := app.Listen(":" + cfg.ServerPort); err != nil {
			log.Errorf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		log.Warn("Dispatch workers still running at shutdown")
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DBDriver == "memory" {
		log.Warn("Using in-memory store, data is lost on restart")
		return memstore.New(), nil
	}
	db, err := config.ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(db), nil
}

func newCRMClient(cfg *config.Config, st store.Store, rdb *redis.Client) *crm.Client {
	var cache crm.TokenCache = &crm.StoreTokenCache{Store: st}
	if rdb != nil {
		cache = crm.NewRedisTokenCache(rdb)
	}
	return crm.NewClient(crm.Config{
		ClientID:     cfg.Zoho.ClientID,
		ClientSecret: cfg.Zoho.ClientSecret,
		RefreshToken: cfg.Zoho.RefreshToken,
		APIBaseURL:   cfg.Zoho.APIBaseURL,
		TokenURL:     cfg.Zoho.TokenURL,
		PageSize:     cfg.Zoho.PageSize,
		Timeout:      cfg.UpstreamTimeout,
	}, cache)
}
