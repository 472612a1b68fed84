package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"job-alert-relay/internal/channel"
	"job-alert-relay/internal/config"
	"job-alert-relay/internal/database"
	"job-alert-relay/internal/delivery"
	"job-alert-relay/internal/detection"
	"job-alert-relay/internal/handler"
	"job-alert-relay/internal/metrics"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
	"job-alert-relay/internal/repository"
	"job-alert-relay/internal/router"
	"job-alert-relay/internal/scheduler"
	"job-alert-relay/internal/source"
	"job-alert-relay/internal/store"
)

// App holds the wired service
type App struct {
	Config      *config.Config
	Store       store.Store
	Coordinator *delivery.Coordinator
	Runner      *detection.Runner
	Scheduler   *scheduler.Scheduler
	Router      *gin.Engine

	db *gorm.DB
}

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Job Alert Relay")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("Unknown log level %q, using info", cfg.Log.Level)
	}

	a, err := Build(context.Background(), cfg, prometheus.DefaultRegisterer, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Scheduler disabled, runs are manual only")
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout+5*time.Second)
	defer cancel()

	if a.Scheduler.IsRunning() {
		if err := a.Scheduler.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// Build wires every component from cfg. reg receives the metrics and, when
// it is also a Gatherer, backs /metrics. A nil st opens the configured store.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, st store.Store) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Database.Enabled {
		db, err := database.InitDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = db
	}

	if st == nil {
		var err error
		st, err = openStore(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Store = st

	src, err := openSource(cfg, a.db)
	if err != nil {
		a.Close()
		return nil, err
	}

	senders, err := buildSenders(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.NewMetrics(reg)
	renderer := render.New(render.Options{
		Brand:          cfg.Render.Brand,
		Hashtags:       cfg.Render.Hashtags,
		DescriptionMax: cfg.Render.DescriptionMax,
	})
	a.Coordinator = delivery.NewCoordinator(renderer, senders, delivery.Options{
		SendTimeout: cfg.Delivery.SendTimeout,
		Recorder:    m,
	})

	runnerOpts := detection.Options{
		Lookback:     cfg.Source.Lookback,
		FetchTimeout: cfg.Source.Timeout,
		Metrics:      m,
	}
	var audit handler.AuditReader
	if a.db != nil {
		repo := repository.New(a.db)
		runnerOpts.Audit = repo
		audit = repo
	}
	a.Runner = detection.NewRunner(src, st, a.Coordinator, runnerOpts)

	a.Scheduler = scheduler.NewScheduler(a.Runner, scheduler.Options{
		Interval:        cfg.Scheduler.Interval,
		QueueSize:       cfg.Scheduler.QueueSize,
		ShutdownTimeout: cfg.Scheduler.ShutdownTimeout,
		TaskHistory:     cfg.Scheduler.TaskHistory,
		Metrics:         m,
	})

	gatherer, _ := reg.(prometheus.Gatherer)
	h := handler.NewHandlers(a.Scheduler, st, a.Runner, a.Coordinator, audit, gatherer)
	a.Router = router.SetupRouter(h)

	logrus.WithFields(logrus.Fields{
		"store":      cfg.Store.Driver,
		"source":     cfg.Source.Driver,
		"channels":   a.Coordinator.Channels(),
		"configured": a.Coordinator.Configured(),
	}).Info("Application wired")
	return a, nil
}

// Close releases the store and database connections
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logrus.Errorf("Failed to close store: %v", err)
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	opts := store.Options{
		Namespace: cfg.Store.Namespace,
		Retention: cfg.Store.Retention,
		Timeout:   cfg.Store.Timeout,
	}
	switch cfg.Store.Driver {
	case "memory":
		logrus.Warn("Using in-memory idempotency store, receipts will not survive a restart")
		return store.NewMemoryStore(opts), nil
	default:
		client, err := store.ConnectRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store.NewRedisStore(client, opts), nil
	}
}

func openSource(cfg *config.Config, db *gorm.DB) (source.RecordSource, error) {
	opts := source.Options{
		Table:        cfg.Source.Table,
		SiteURL:      cfg.Source.SiteURL,
		ImageBaseURL: cfg.Source.ImageBaseURL,
		Timeout:      cfg.Source.Timeout,
	}
	switch cfg.Source.Driver {
	case "mysql":
		if db == nil {
			return nil, fmt.Errorf("the mysql source requires the database")
		}
		return source.NewMySQLSource(db, opts), nil
	default:
		return source.NewSupabaseSource(cfg.Source.SupabaseURL, cfg.Source.SupabaseKey, opts, nil), nil
	}
}

// buildSenders returns the senders in configured delivery order
func buildSenders(ctx context.Context, cfg *config.Config) ([]channel.Sender, error) {
	timeout := cfg.Delivery.SendTimeout
	senders := make([]channel.Sender, 0, len(cfg.Delivery.Order))

	for _, name := range cfg.Delivery.Order {
		var s channel.Sender
		switch model.ChannelID(strings.ToLower(strings.TrimSpace(name))) {
		case model.ChannelTelegram:
			tg, err := channel.NewTelegramSender(cfg.Channels.Telegram, timeout)
			if err != nil {
				return nil, err
			}
			s = tg
		case model.ChannelWhatsApp:
			s = channel.NewWhatsAppSender(cfg.Channels.WhatsApp, timeout)
		case model.ChannelFacebook:
			s = channel.NewFacebookSender(cfg.Channels.Facebook, timeout)
		case model.ChannelEmail:
			email, err := channel.NewEmailSender(ctx, cfg.Channels.Email)
			if err != nil {
				return nil, err
			}
			s = email
		default:
			return nil, fmt.Errorf("unknown delivery channel %q", name)
		}
		if !s.IsConfigured() {
			logrus.Warnf("Channel %s is not configured and will be reported as unavailable", s.ID())
		}
		senders = append(senders, s)
	}
	return senders, nil
}
