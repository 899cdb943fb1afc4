package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	reconapp "github.com/payops/recon/internal/application/recon"
	recondomain "github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/cache"
	"github.com/payops/recon/internal/infrastructure/config"
	"github.com/payops/recon/internal/infrastructure/event"
	"github.com/payops/recon/internal/infrastructure/logger"
	"github.com/payops/recon/internal/infrastructure/migration"
	"github.com/payops/recon/internal/infrastructure/persistence"
	"github.com/payops/recon/internal/infrastructure/scheduler"
	"github.com/payops/recon/internal/infrastructure/sources"
	"github.com/payops/recon/internal/infrastructure/storage"
	"github.com/payops/recon/internal/infrastructure/telemetry"
	"github.com/payops/recon/internal/interfaces/http/handler"
	"github.com/payops/recon/internal/interfaces/http/middleware"
	"github.com/payops/recon/internal/interfaces/http/router"
)

//	@title			Pay-Ops Reconciliation API
//	@version		1.0
//	@description	Four-way payment reconciliation service: remittance emails, invoices, inbound funding receipts and outbound payments, keyed by NVC code.

//	@contact.name	Pay-Ops Engineering

//	@host		localhost:8080
//	@BasePath	/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting reconciliation service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("driver", cfg.Database.Driver),
	)

	ctx := context.Background()

	// Telemetry providers. Failures here degrade to no-op providers so the
	// reconciliation engine keeps running without a collector.
	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Warn("Tracer provider unavailable, continuing without traces", zap.Error(err))
		tracerProvider = nil
	}
	if tracerProvider != nil {
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				log.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfigFromTelemetry(cfg.Telemetry), log)
	if err != nil {
		log.Warn("Meter provider unavailable, continuing without metrics", zap.Error(err))
		meterProvider = nil
	}
	if meterProvider != nil {
		defer func() {
			if err := meterProvider.Shutdown(context.Background()); err != nil {
				log.Error("Error shutting down meter provider", zap.Error(err))
			}
		}()
	}

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfigFromTelemetry(cfg.Telemetry), log)
	if err != nil {
		log.Warn("Log export unavailable, continuing with local logs only", zap.Error(err))
		loggerProvider = nil
	}
	if loggerProvider != nil {
		defer func() {
			if err := loggerProvider.Shutdown(context.Background()); err != nil {
				log.Error("Error shutting down logger provider", zap.Error(err))
			}
		}()
		if loggerProvider.IsEnabled() {
			otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
				ServiceName:    cfg.Telemetry.ServiceName,
				LoggerProvider: loggerProvider,
			})
			log = telemetry.NewBridgedLogger(log.Core(), otelCore)
		}
	}

	// Continuous profiling. Must start before span profiles are enabled on
	// the tracer.
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfigFromConfig(cfg.Profiler), log)
	if err != nil {
		log.Warn("Profiler unavailable, continuing without profiles", zap.Error(err))
		profiler = nil
	}
	if profiler != nil {
		defer func() {
			if err := profiler.Stop(); err != nil {
				log.Error("Error stopping profiler", zap.Error(err))
			}
		}()
		if profiler.IsEnabled() && tracerProvider != nil {
			if err := tracerProvider.EnableSpanProfiles(); err != nil {
				log.Warn("Span profiles unavailable", zap.Error(err))
			}
		}
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize the reconciliation store connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to reconciliation store", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Reconciliation store connected")

	// Apply pending migrations at startup when configured. The migrate CLI
	// covers everything beyond plain "up".
	if cfg.Database.AutoMigrate {
		if err := applyMigrations(cfg, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Database observability: query tracing and pool/query metrics
	if cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfigFromTelemetry(cfg.Telemetry), log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Database tracing unavailable", zap.Error(err))
		}
	}
	if meterProvider != nil {
		if _, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfigFromTelemetry(cfg.Telemetry), log); err != nil {
			log.Warn("Database metrics unavailable", zap.Error(err))
		}
	}

	// Initialize repositories
	repos := persistence.NewRepositorySet(db.DB)
	uow := persistence.NewGormUnitOfWork(db.DB)

	// Matcher and classification settings
	aliasMap, err := cfg.Matcher.AliasMap()
	if err != nil {
		log.Fatal("Invalid agency alias configuration", zap.Error(err))
	}
	matcherCfg := recondomain.MatcherConfig{
		AmountTolerance:  decimal.NewFromFloat(cfg.Matcher.AmountTolerance),
		DateWindowDays:   cfg.Matcher.DateWindowDays,
		AutoThreshold:    cfg.Matcher.AutoMatchConfidence,
		SuggestThreshold: cfg.Matcher.SuggestConfidence,
		Aliases:          recondomain.AliasTable(aliasMap),
	}
	rules := recondomain.ClassificationRules{
		AmountTolerance: decimal.NewFromFloat(cfg.Matcher.AmountTolerance),
	}

	// Initialize event bus
	eventBus := event.NewInMemoryEventBus(log)

	// Reconciliation business metrics, fed by domain events and a periodic
	// state snapshot
	var reconMetrics *telemetry.ReconMetrics
	if meterProvider != nil {
		reconMetrics, err = telemetry.NewReconMetrics(telemetry.ReconMetricsConfig{
			Meter:         meterProvider.Meter("recon"),
			Logger:        log,
			StateProvider: telemetry.NewGormReconStateProvider(db.DB),
		})
		if err != nil {
			log.Warn("Reconciliation metrics unavailable", zap.Error(err))
		}
	}
	if reconMetrics != nil {
		eventBus.Subscribe(telemetry.NewMetricsSubscriber(reconMetrics))
		reconMetrics.StartPeriodicCollection(ctx, 5*time.Minute)
		defer reconMetrics.Stop()
	}

	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Read cache for the overview and summary endpoints
	var readCache reconapp.ReadCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisReadCache(&cfg.Redis, log)
		if err != nil {
			log.Warn("Redis unavailable, falling back to uncached reads", zap.Error(err))
			readCache = cache.NewNoopReadCache()
		} else {
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Error("Error closing redis", zap.Error(err))
				}
			}()
			readCache = redisCache
		}
	} else {
		readCache = cache.NewNoopReadCache()
	}

	// Attachment archive for remittance email attachments
	var archive reconapp.AttachmentStorage
	if cfg.Storage.Enabled {
		s3Archive, err := storage.NewS3AttachmentArchive(&cfg.Storage)
		if err != nil {
			log.Fatal("Failed to initialize attachment archive", zap.Error(err))
		}
		archive = s3Archive
		log.Info("Attachment archive enabled")
	} else {
		archive = storage.NewStubAttachmentArchive()
	}

	// Source adapters. Each source is optional; a disabled source skips
	// its sync steps and leaves the cached rows as they were.
	syncOpts := []reconapp.SyncServiceOption{
		reconapp.WithEventPublisher(eventBus),
		reconapp.WithReadCache(readCache),
	}
	if cfg.MailStore.Enabled {
		mailClient := sources.NewMailStoreClient(&cfg.MailStore, log)
		syncOpts = append(syncOpts, reconapp.WithEmailSource(mailClient, cfg.MailStore.DaysBack))
		log.Info("Mail-store source enabled", zap.Strings("sources", cfg.MailStore.Sources))
	}
	if cfg.OpsDB.Enabled {
		opsSource, err := sources.NewOpsDBSource(&cfg.OpsDB, log)
		if err != nil {
			log.Fatal("Failed to connect to operations database", zap.Error(err))
		}
		defer func() {
			if err := opsSource.Close(); err != nil {
				log.Error("Error closing operations database", zap.Error(err))
			}
		}()
		syncOpts = append(syncOpts, reconapp.WithInvoiceSource(opsSource, cfg.OpsDB.DaysBack))
		log.Info("Operations database source enabled", zap.Strings("tenants", cfg.OpsDB.Tenants))
	}
	if cfg.Processor.Enabled {
		processorClient := sources.NewProcessorClient(&cfg.Processor, log)
		syncOpts = append(syncOpts, reconapp.WithPaymentSource(processorClient))
		log.Info("Payment processor source enabled", zap.Strings("accounts", cfg.Processor.AccountIDs))
	}

	// Application services
	syncService := reconapp.NewSyncService(uow, repos, matcherCfg, rules, log, syncOpts...)
	recordService := reconapp.NewRecordService(repos.Records, uow, rules, eventBus, log)
	receivedPaymentService := reconapp.NewReceivedPaymentService(
		repos.ReceivedPayments, repos.Records, uow, rules, matcherCfg, eventBus, log)
	emailService := reconapp.NewEmailService(repos.Emails, repos.Records, archive)
	payrunService := reconapp.NewPayrunService(repos.Payruns, repos.Invoices, repos.Payments)
	overviewService := reconapp.NewOverviewService(
		repos.Records, repos.Emails, repos.ReceivedPayments, repos.SyncState,
		readCache, runtimeSettings(cfg, len(aliasMap)), log)

	// Sync scheduler. The interval loop is config-gated; manual triggers
	// through the API work either way.
	schedulerOpts := []scheduler.SchedulerOption{}
	if reconMetrics != nil {
		schedulerOpts = append(schedulerOpts, scheduler.WithCycleMetrics(reconMetrics))
	}
	syncScheduler, err := scheduler.NewSyncScheduler(scheduler.SyncSchedulerConfig{
		Enabled:  cfg.Sync.Enabled,
		Interval: cfg.Sync.Interval(),
	}, syncService, log, schedulerOpts...)
	if err != nil {
		log.Fatal("Failed to create sync scheduler", zap.Error(err))
	}
	if err := syncScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := syncScheduler.Stop(stopCtx); err != nil {
			log.Error("Error stopping sync scheduler", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	recordHandler := handler.NewRecordHandler(recordService)
	receivedPaymentHandler := handler.NewReceivedPaymentHandler(receivedPaymentService)
	emailHandler := handler.NewEmailHandler(emailService)
	payrunHandler := handler.NewPayrunHandler(payrunService)
	overviewHandler := handler.NewOverviewHandler(overviewService)
	syncHandler := handler.NewSyncHandler(syncScheduler, overviewService)
	systemHandler := handler.NewSystemHandler()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Tracing/Metrics/Profiling - Per-request observability
	// 5. Security - Add security headers
	// 6. CORS - Handle cross-origin requests
	// 7. BodyLimit - Limit request body size
	// 8. RateLimit - Apply rate limiting (if enabled)
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log, "/health", "/system/ping"))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	if meterProvider != nil {
		engine.Use(middleware.HTTPMetricsWithMeter(meterProvider.Meter("recon/http"), cfg.Telemetry.Enabled))
	}
	if profiler != nil && profiler.IsEnabled() {
		engine.Use(middleware.Profiling())
	}
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Rate limiting (if enabled)
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", systemHandler.Health)

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	reconRoutes := router.NewDomainGroup("recon", "/recon")
	reconRoutes.
		GET("/records", recordHandler.List).
		GET("/records/:nvc", recordHandler.Get).
		GET("/queue", recordHandler.Queue).
		GET("/summary", recordHandler.Summary).
		GET("/suggestions/:nvc", recordHandler.Suggestions).
		POST("/associate", recordHandler.Associate).
		POST("/flag", recordHandler.Flag)

	receivedPaymentRoutes := router.NewDomainGroup("received-payments", "/received-payments")
	receivedPaymentRoutes.
		GET("", receivedPaymentHandler.List).
		GET("/summary", receivedPaymentHandler.Summary).
		GET("/:id", receivedPaymentHandler.Get).
		GET("/:id/suggestions", receivedPaymentHandler.Suggestions).
		POST("/:id/match", receivedPaymentHandler.Match).
		POST("/:id/unmatch", receivedPaymentHandler.Unmatch)

	emailRoutes := router.NewDomainGroup("emails", "/emails")
	emailRoutes.
		GET("", emailHandler.List).
		GET("/stats", emailHandler.Stats).
		GET("/:id", emailHandler.Get).
		GET("/:id/attachments/:filename/url", emailHandler.AttachmentURL)

	// Cached operations-database and processor views
	opsRoutes := router.NewDomainGroup("ops", "")
	opsRoutes.
		GET("/payruns", payrunHandler.ListPayruns).
		GET("/invoices/cached", payrunHandler.ListInvoices).
		GET("/payments", payrunHandler.ListPayments).
		GET("/payments/lookup", payrunHandler.LookupPayments).
		GET("/tenants", recordHandler.Tenants)

	overviewRoutes := router.NewDomainGroup("overview", "")
	overviewRoutes.
		GET("/overview", overviewHandler.Overview).
		GET("/search/cross", overviewHandler.CrossSearch).
		GET("/config", overviewHandler.Config)

	syncRoutes := router.NewDomainGroup("sync", "/sync")
	syncRoutes.
		GET("/status", syncHandler.Status).
		POST("/trigger", syncHandler.Trigger)

	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.
		GET("/info", systemHandler.GetSystemInfo).
		GET("/ping", systemHandler.Ping)

	r.Register(reconRoutes).
		Register(receivedPaymentRoutes).
		Register(emailRoutes).
		Register(opsRoutes).
		Register(overviewRoutes).
		Register(syncRoutes).
		Register(systemRoutes)

	// Setup routes
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// applyMigrations runs all pending migrations against the reconciliation
// store using a plain database/sql handle; golang-migrate manages its own
// schema version table.
func applyMigrations(cfg *config.Config, log *zap.Logger) error {
	sqlDriver := "postgres"
	if cfg.Database.Driver == "sqlite" {
		sqlDriver = "sqlite3"
	}
	db, err := sql.Open(sqlDriver, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := migration.New(db, cfg.Database.Driver, cfg.Database.MigrationsPath, log)
	if err != nil {
		return err
	}
	defer m.Close()

	return m.Up()
}

// runtimeSettings builds the non-secret configuration echo served by the
// config endpoint.
func runtimeSettings(cfg *config.Config, aliasCount int) reconapp.RuntimeSettings {
	return reconapp.RuntimeSettings{
		Environment:         cfg.App.Env,
		Driver:              cfg.Database.Driver,
		AmountTolerance:     cfg.Matcher.AmountTolerance,
		DateWindowDays:      cfg.Matcher.DateWindowDays,
		AutoMatchConfidence: cfg.Matcher.AutoMatchConfidence,
		SuggestConfidence:   cfg.Matcher.SuggestConfidence,
		SyncEnabled:         cfg.Sync.Enabled,
		SyncIntervalSeconds: cfg.Sync.IntervalSeconds,
		EmailSources:        cfg.MailStore.Sources,
		EmailDaysBack:       cfg.MailStore.DaysBack,
		InvoiceDaysBack:     cfg.OpsDB.DaysBack,
		AgencyAliases:       aliasCount,
	}
}
