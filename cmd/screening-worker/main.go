package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/analytics"
	"github.com/synaptica-ai/recruit/pkg/audit"
	"github.com/synaptica-ai/recruit/pkg/common/config"
	"github.com/synaptica-ai/recruit/pkg/common/database"
	"github.com/synaptica-ai/recruit/pkg/common/kafka"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	"github.com/synaptica-ai/recruit/pkg/documents"
	"github.com/synaptica-ai/recruit/pkg/gateway/routes"
	"github.com/synaptica-ai/recruit/pkg/observability/metrics"
	"github.com/synaptica-ai/recruit/pkg/patients"
	"github.com/synaptica-ai/recruit/pkg/screening"
	"github.com/synaptica-ai/recruit/pkg/studies"
	"github.com/synaptica-ai/recruit/pkg/terminology"
)

const workerPort = "8081"

func main() {
	logger.InitService("screening-worker")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.ClosePostgres()

	redisClient := database.GetRedis(cfg)
	defer database.CloseRedis()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
	defer producer.Close()
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaWorkerTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	auditRepo := audit.NewRepository(db)
	studySvc := studies.NewService(studies.NewRepository(db), docs, auditRepo, baseRules.WithRatio(cfg.PotentialMatchRatio))
	patientSvc := patients.NewService(
		patients.NewRepository(db),
		studySvc,
		catalog,
		auditRepo,
		metrics.CountingPublisher{Next: producer},
	).WithCache(analytics.NewCache(redisClient, cfg.AnalyticsCacheTTL))

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"topic": cfg.KafkaWorkerTopic,
			"group": cfg.KafkaGroupID,
		}).Info("Screening worker consuming")

		if err := consumer.Consume(ctx, patientSvc.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	routes.NewHealthHandler(map[string]routes.Check{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}).Register(router)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, workerPort),
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down screening worker...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Screening worker stopped")
}
