package main

// @title Creator Ledger API
// @version 1.0
// @description Creator commission ledger and payout workflow.

// @BasePath /api/v1

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/joho/godotenv"
	"github.com/jordanlanch/creatorledger/config"
	"github.com/jordanlanch/creatorledger/pkg/api/handlers"
	"github.com/jordanlanch/creatorledger/pkg/cache"
	"github.com/jordanlanch/creatorledger/pkg/commission"
	"github.com/jordanlanch/creatorledger/pkg/database"
	"github.com/jordanlanch/creatorledger/pkg/email"
	"github.com/jordanlanch/creatorledger/pkg/jobs"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/metrics"
	custommiddleware "github.com/jordanlanch/creatorledger/pkg/middleware"
	"github.com/jordanlanch/creatorledger/pkg/payout"
	"github.com/jordanlanch/creatorledger/pkg/settlement"
	"github.com/jordanlanch/creatorledger/pkg/statement"
	"github.com/jordanlanch/creatorledger/pkg/store/locking"
	"github.com/jordanlanch/creatorledger/pkg/store/memory"
	"github.com/jordanlanch/creatorledger/pkg/store/sqlstore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	appLog := logger.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	appLog.Info("Configuration loaded", "environment", cfg.APIEnvironment)

	rules, err := cfg.Ledger()
	if err != nil {
		log.Fatalf("❌ Invalid ledger configuration: %v", err)
	}

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			AttachStacktrace: true,
		})
		if err != nil {
			appLog.Warn("Failed to initialize Sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	prometheusMetrics := metrics.New(prometheus.DefaultRegisterer)

	// Ledger store
	var (
		store    ledger.Store
		dbPinger handlers.Pinger
		db       *database.Client
	)
	if cfg.DatabaseURL == "memory" {
		appLog.Warn("Using in-memory ledger store, balances are lost on restart")
		store = memory.New(memory.WithLockTimeout(cfg.LockTimeout))
	} else {
		db, err = database.NewClientWithPool(cfg.DatabaseURL, database.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		}, &database.SSLConfig{
			Mode:         cfg.DBSSLMode,
			CertPath:     cfg.DBSSLCertPath,
			KeyPath:      cfg.DBSSLKeyPath,
			RootCertPath: cfg.DBSSLRootCertPath,
		})
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer db.Close()

		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := sqlstore.Migrate(ctx, db.Driver)
			cancel()
			if err != nil {
				log.Fatalf("❌ Failed to migrate ledger schema: %v", err)
			}
		}

		store = sqlstore.New(db.Driver,
			sqlstore.WithMaxRetries(cfg.TxMaxRetries),
			sqlstore.WithRetryBackoff(cfg.TxRetryBackoff),
			sqlstore.WithTxTimeout(cfg.LockTimeout),
		)
		dbPinger = db
	}

	// Redis is optional: it adds cross-process creator locks and the summary cache
	var (
		summaryCache *cache.SummaryCache
		cachePinger  handlers.Pinger
	)
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewClient(cfg.RedisURL, appLog)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		locker := cache.NewLocker(redisClient, cfg.LockLease, cfg.LockInterval)
		store = locking.New(store, locker, cfg.LockWait)
		summaryCache = cache.NewSummaryCache(redisClient, cfg.SummaryTTL).WithRecorder(prometheusMetrics)
		cachePinger = redisClient
	}

	mailer := email.NewService(cfg.EmailFrom, cfg.EmailFromName, cfg.SendGridAPIKey)
	notifier := email.NewNotifier(mailer, cfg.AdminEmail, appLog)

	observers := ledger.Observers{prometheusMetrics, notifier}
	if summaryCache != nil {
		observers = append(observers, summaryCache)
	}

	var settler payout.Settler
	if cfg.StripeSecretKey != "" {
		settler = settlement.NewStripeSettler(settlement.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			Currency:  cfg.StripeCurrency,
		}, appLog)
	}

	var summaryStore ledger.SummaryCache
	if summaryCache != nil {
		summaryStore = summaryCache
	}

	engine := commission.NewEngine(store, rules.CommissionTable, rules.MaxBonusRatePercent, observers, appLog)
	payouts := payout.NewService(store, rules.MinimumPayout, settler, observers, appLog)
	summaries := ledger.NewService(store, rules.CommissionTable, rules.ProgressionTable, summaryStore, appLog)

	archive, err := newArchive(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize statement archive: %v", err)
	}
	statements := statement.NewService(payouts, archive, appLog)

	// Background jobs
	var daily jobs.DailyStatements
	if archive != nil {
		daily = statements
	}
	cronManager := jobs.NewCronManager(
		jobs.NewQueueMonitor(payouts, prometheusMetrics, cfg.StaleAfter, appLog),
		daily,
		appLog,
	)
	if err := cronManager.SetupJobs(jobs.Schedules{
		QueueMonitor: cfg.QueueMonitorSchedule,
		Statement:    cfg.StatementSchedule,
	}); err != nil {
		log.Fatalf("❌ Failed to setup cron jobs: %v", err)
	}
	cronManager.Start()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	rateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	go rateLimiter.Cleanup(bgCtx, time.Minute, 10*time.Minute)

	if db != nil {
		go reportDBConnections(bgCtx, db, prometheusMetrics)
	}

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			appLog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(middleware.Gzip())
	e.Use(rateLimiter.RateLimitMiddleware())

	healthHandler := handlers.NewHealthHandler(dbPinger, cachePinger)
	commissionHandler := handlers.NewCommissionHandler(engine, prometheusMetrics)
	accountHandler := handlers.NewAccountHandler(summaries)
	payoutHandler := handlers.NewPayoutHandler(payouts, statements, prometheusMetrics)

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":        "Creator Ledger API",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})
	e.GET("/health", healthHandler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.POST("/commissions", commissionHandler.PostCommission)

	creators := v1.Group("/creators/:creator_id")
	{
		creators.GET("/account", accountHandler.GetSummary)
		creators.GET("/payouts", payoutHandler.ListForCreator)
		creators.POST("/payouts", payoutHandler.Submit)
	}
	v1.GET("/payouts/:id", payoutHandler.Get)

	adminGroup := v1.Group("/admin", custommiddleware.RequireOperator())
	{
		adminGroup.GET("/payouts/queue", payoutHandler.Queue)
		adminGroup.GET("/payouts/queue/export", payoutHandler.ExportQueue)
		adminGroup.POST("/payouts/:id/decision", payoutHandler.Decide)
		adminGroup.POST("/payouts/:id/settle", payoutHandler.Settle)
	}

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	appLog.Info("Creator Ledger API starting",
		"address", address,
		"minimum_payout", rules.MinimumPayout.String(),
		"redis", cfg.RedisURL != "",
		"stripe", settler != nil,
	)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		appLog.Error("Server forced to shutdown", "error", err)
	}
	cronManager.Stop(ctx)
	stopBackground()
	notifier.Wait()

	appLog.Info("Server gracefully stopped")
}

func newArchive(cfg *config.Config) (statement.Archive, error) {
	switch cfg.StorageType {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		archive, err := statement.NewS3Archive(ctx, statement.S3Config{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return archive, nil
	case "none", "":
		return nil, nil
	default:
		archive, err := statement.NewLocalArchive(cfg.StorageLocalPath)
		if err != nil {
			return nil, err
		}
		return archive, nil
	}
}

func reportDBConnections(ctx context.Context, db *database.Client, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateDBConnections(float64(db.Stats().OpenConnections))
		}
	}
}
