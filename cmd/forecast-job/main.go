package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/trialkit/platform/pkg/common/config"
	"github.com/trialkit/platform/pkg/common/database"
	"github.com/trialkit/platform/pkg/common/kafka"
	"github.com/trialkit/platform/pkg/common/logger"
	"github.com/trialkit/platform/pkg/labkit"
)

const jobUser = "forecast-job"

// Nightly recompute: runs the same forecast pipeline as the request path for
// every active study, so deficit events and alert restores fire even when
// nobody opens the dashboard.
func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ForecastJobLockTTL)
	defer cancel()

	holder := uuid.New().String()
	acquired, err := database.AcquireLease(ctx, cfg.ForecastJobLockKey, holder, cfg.ForecastJobLockTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to acquire forecast job lease")
	}
	if !acquired {
		logger.Log.Info("another forecast job holds the lease; exiting")
		return
	}
	defer func() {
		if err := database.ReleaseLease(context.Background(), cfg.ForecastJobLockKey); err != nil {
			logger.Log.WithError(err).Warn("failed to release forecast job lease")
		}
	}()

	engineCfg := labkit.EngineConfigFromEnv(cfg)
	policyFile, err := labkit.LoadPolicyFile(cfg.ForecastPolicyFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load forecast policy file")
	}
	policyFile.Apply(&engineCfg)

	producer := kafka.NewProducer(cfg.ForecastKafkaTopic)
	defer producer.Close()

	repo := labkit.NewRepository(db)
	service := labkit.NewService(repo, producer, engineCfg)

	studyIDs, err := repo.ListActiveStudyIDs(ctx)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to list active studies")
	}

	start := time.Now()
	failures := 0
	for _, studyID := range studyIDs {
		response, err := service.Forecast(ctx, studyID, jobUser, 0)
		if err != nil {
			failures++
			logger.WithStudy(studyID.String(), "forecast-job").WithError(err).Error("nightly forecast failed")
			continue
		}
		logger.WithStudy(studyID.String(), "forecast-job").WithFields(map[string]interface{}{
			"critical":       response.Summary.CriticalCount,
			"warning":        response.Summary.WarningCount,
			"total_deficit":  response.AlertMetrics.SupplyDeficit.TotalDeficit,
			"auto_restored":  len(response.AutoRestoredAlerts),
			"kit_types":      response.Summary.KitTypesTracked,
			"effective_days": response.Summary.EffectiveDaysAhead,
		}).Info("nightly forecast computed")
	}

	logger.Log.WithFields(map[string]interface{}{
		"studies":  len(studyIDs),
		"failures": failures,
		"duration": time.Since(start).Milliseconds(),
	}).Info("forecast job finished")

	if failures > 0 {
		os.Exit(1)
	}
}
