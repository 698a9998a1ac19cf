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
	"github.com/trialkit/platform/pkg/common/config"
	"github.com/trialkit/platform/pkg/common/database"
	"github.com/trialkit/platform/pkg/common/kafka"
	"github.com/trialkit/platform/pkg/common/logger"
	"github.com/trialkit/platform/pkg/gateway/auth"
	"github.com/trialkit/platform/pkg/gateway/middleware"
	"github.com/trialkit/platform/pkg/labkit"
	"github.com/trialkit/platform/pkg/study"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	studyRepo := study.NewRepository(db)
	if err := studyRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate study tables")
	}
	labkitRepo := labkit.NewRepository(db)
	if err := labkitRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate lab kit tables")
	}

	engineCfg := labkit.EngineConfigFromEnv(cfg)
	policyFile, err := labkit.LoadPolicyFile(cfg.ForecastPolicyFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load forecast policy file")
	}
	policyFile.Apply(&engineCfg)

	producer := kafka.NewProducer(cfg.ForecastKafkaTopic)
	defer producer.Close()

	studyHandler := study.NewHandler(study.NewService(studyRepo))
	labkitHandler := labkit.NewHandler(labkit.NewService(labkitRepo, producer, engineCfg))

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Logging)
	api.Use(middleware.Recovery)
	api.Use(middleware.CORS)
	api.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)) // basic per-process limiter
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	if oidcAuth, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret); err == nil {
		api.Use(middleware.Authenticate(oidcAuth))
	} else {
		logger.Log.WithError(err).Warn("OIDC disabled; requests run unauthenticated")
	}
	studyHandler.Register(api)
	labkitHandler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("lab kit service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start lab kit service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down lab kit service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("lab kit service forced to shutdown")
	}
	logger.Log.Info("lab kit service stopped")
}
