package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer подключается к брокерам из cfg.KafkaBrokers.
// Пустой список означает работу без Kafka: возвращается nil без ошибки.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	if !cfg.kafkaEnabled() {
		return nil, nil
	}

	brokers := cfg.brokers()
	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", brokers).Info("kafka producer connected")
	return producer, nil
}

// initDeliveryConsumer подписывает обработчик статусов доставки на топик.
// DLQ использует тот же producer, что и outbox.
func initDeliveryConsumer(cfg Config, updater kafka.DeliveryStatusUpdater, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumerLogger := logger.WithField("component", "delivery-consumer")
	return kafka.NewConsumer(
		cfg.brokers(),
		cfg.DeliveryConsumerGroup,
		[]string{cfg.DeliveryEventsTopic},
		kafka.NewDeliveryHandler(updater, consumerLogger),
		kafka.ConsumerOptions{
			DLQProducer: dlq,
			DLQTopic:    cfg.DeadLetterTopic,
			MaxRetries:  cfg.DeliveryMaxRetries,
			RetryDelay:  cfg.DeliveryRetryDelay,
			Logger:      consumerLogger,
		},
	)
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer closed with error")
	}
}
