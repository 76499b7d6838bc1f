package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/analytics"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/campaigns"
	"github.com/synaptica-ai/recruit/pkg/common/config"
	"github.com/synaptica-ai/recruit/pkg/common/database"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/documents"
	"github.com/synaptica-ai/recruit/pkg/export"
	"github.com/synaptica-ai/recruit/pkg/gateway/auth"
	"github.com/synaptica-ai/recruit/pkg/gateway/middleware"
	"github.com/synaptica-ai/recruit/pkg/gateway/routes"
	"github.com/synaptica-ai/recruit/pkg/observability/metrics"
	"github.com/synaptica-ai/recruit/pkg/patients"
	"github.com/synaptica-ai/recruit/pkg/redact"
	"github.com/synaptica-ai/recruit/pkg/scheduling"
	"github.com/synaptica-ai/recruit/pkg/screening"
	"github.com/synaptica-ai/recruit/pkg/studies"
	"github.com/synaptica-ai/recruit/pkg/terminology"
	"github.com/synaptica-ai/recruit/pkg/voice"
)

func main() {
	logger.InitService("recruitment-api")
	cfg := config.Load()
	ctx := context.Background()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.ClosePostgres()

	studyRepo := studies.NewRepository(db)
	patientRepo := patients.NewRepository(db)
	campaignRepo := campaigns.NewRepository(db)
	visitRepo := scheduling.NewRepository(db)
	auditRepo := audit.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"studies":    studyRepo.AutoMigrate,
		"patients":   patientRepo.AutoMigrate,
		"campaigns":  campaignRepo.AutoMigrate,
		"scheduling": visitRepo.AutoMigrate,
		"audit":      auditRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("schema", name).Fatal("Failed to migrate schema")
		}
	}

	redisClient := database.GetRedis(cfg)
	defer database.CloseRedis()

	var events kafka.Publisher = kafka.NopPublisher{}
	if cfg.EventsEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer producer.Close()
		events = producer
	} else {
		logger.Log.Warn("Event publishing disabled")
	}
	events = metrics.CountingPublisher{Next: events}

	docs, err := documents.New(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize protocol storage")
	}
	catalog, err := terminology.Load(cfg.TerminologyPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load terminology catalog")
	}
	baseRules, err := screening.LoadRules(cfg.ScreeningRulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load screening rules")
	}
	redactionRules, err := redact.LoadRules(cfg.RedactionRulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load redaction rules")
	}
	redactor, err := redact.NewRedactor(redactionRules)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to compile redaction rules")
	}
	schedulingOpts, err := scheduling.OptionsFromConfig(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid scheduling configuration")
	}

	tokens, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("JWT_SECRET must be configured")
	}
	oidcAuth, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
	if err != nil {
		logger.Log.WithError(err).Warn("OIDC login not configured, only bearer tokens accepted")
	}

	funnelCache := analytics.NewCache(redisClient, cfg.AnalyticsCacheTTL)
	studySvc := studies.NewService(studyRepo, docs, auditRepo, baseRules.WithRatio(cfg.PotentialMatchRatio))
	patientSvc := patients.NewService(patientRepo, studySvc, catalog, auditRepo, events).WithCache(funnelCache)
	campaignSvc := campaigns.NewService(campaignRepo, studySvc, patientSvc, voice.NewClient(voice.OptionsFromConfig(cfg)), redactor, auditRepo, events)
	schedulingSvc := scheduling.NewService(visitRepo, studySvc, patientSvc, auditRepo, events, schedulingOpts)
	analyticsSvc := analytics.NewService(patientSvc, studySvc, funnelCache)
	exportSvc := export.NewService(patientSvc, studySvc, auditRepo)

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(cfg.CORSOrigins...))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	routes.NewHealthHandler(map[string]routes.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}).Register(router)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	routes.NewAuthHandler(oidcAuth, tokens).Register(router)

	campaignHandler := campaigns.NewHandler(campaignSvc, cfg.VoiceWebhookSecret)
	campaignHandler.RegisterWebhooks(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Authenticate(tokens, auth.RoleCoordinator, auth.RoleAdmin))
	studies.NewHandler(studySvc).Register(api)
	patients.NewHandler(patientSvc).Register(api)
	campaignHandler.Register(api)
	scheduling.NewHandler(schedulingSvc).Register(api)
	analytics.NewHandler(analyticsSvc).Register(api)
	export.NewHandler(exportSvc).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"storage": cfg.StorageType,
			"events":  cfg.EventsEnabled,
		}).Info("Recruitment API started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Recruitment API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Recruitment API stopped")
}
