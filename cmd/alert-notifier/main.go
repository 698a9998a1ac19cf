package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/trialkit/platform/pkg/common/config"
	"github.com/trialkit/platform/pkg/common/database"
	"github.com/trialkit/platform/pkg/common/kafka"
	"github.com/trialkit/platform/pkg/common/logger"
	"github.com/trialkit/platform/pkg/common/models"
)

const recentAlertsKey = "trialkit:alerts:recent"
const recentAlertsCap = 200

// Consumes forecast events and keeps a capped feed of recent alerts in redis
// for the coordinator dashboard.
func main() {
	logger.Init()
	cfg := config.Load()

	redisClient := database.GetRedis()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(ctx context.Context, event models.Event) error {
		logger.Log.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
			"study_id":   event.Data["study_id"],
		}).Info("forecast event received")

		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		pipe := redisClient.TxPipeline()
		pipe.LPush(ctx, recentAlertsKey, payload)
		pipe.LTrim(ctx, recentAlertsKey, 0, recentAlertsCap-1)
		_, err = pipe.Exec(ctx)
		return err
	}

	var wg sync.WaitGroup
	consumers := make([]*kafka.Consumer, 0, len(cfg.NotifierKafkaTopics))
	for _, topic := range cfg.NotifierKafkaTopics {
		consumer := kafka.NewConsumer(topic, cfg.KafkaGroupID+"-notifier")
		consumers = append(consumers, consumer)
		wg.Add(1)
		go func(topic string, consumer *kafka.Consumer) {
			defer wg.Done()
			logger.Log.WithField("topic", topic).Info("alert notifier consuming")
			if err := consumer.Consume(ctx, handler); err != nil && err != context.Canceled {
				logger.Log.WithError(err).WithField("topic", topic).Error("consumer stopped")
			}
		}(topic, consumer)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down alert notifier...")
	cancel()
	for _, consumer := range consumers {
		_ = consumer.Close()
	}
	wg.Wait()
	logger.Log.Info("alert notifier stopped")
}
