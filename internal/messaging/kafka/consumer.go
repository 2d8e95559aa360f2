package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение топика.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// permanentError помечает ошибку, которую бесполезно повторять.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent оборачивает ошибку обработчика: сообщение сразу уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, что повтор обработки не поможет.
func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}

// ConsumerOptions задаёт политику повторов и DLQ.
type ConsumerOptions struct {
	// DLQProducer nil отключает DLQ: необработанное сообщение остаётся неподтверждённым.
	DLQProducer *Producer
	DLQTopic    string
	// MaxRetries считается вместе с попытками, записанными в заголовке x-retry-count.
	MaxRetries int
	RetryDelay time.Duration
	Logger     *log.Entry
}

// Consumer читает топики в consumer group, повторяет временные ошибки обработчика
// и перекладывает исчерпавшие попытки сообщения в DLQ.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
}

// NewConsumer подключается к брокерам в составе группы groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, handler, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     opts.Logger,
		dlq:        opts.DLQProducer,
		dlqTopic:   opts.DLQTopic,
		maxRetries: opts.MaxRetries,
		retryDelay: max(opts.RetryDelay, 0),
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "kafka-consumer")
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.dlqTopic == "" {
		c.dlqTopic = TopicDeadLetterQueue
	}
	return c
}

// Run читает топики до отмены ctx, затем закрывает группу.
// Consume завершается на каждом rebalance, поэтому вызывается в цикле.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for gctx.Err() == nil {
			err := c.group.Consume(gctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if err != nil {
				c.logger.WithError(err).Error("consumer group session failed")
			}
			// Новая сессия начнётся с неподтверждённого сообщения; пауза не даёт крутить его без остановки.
			if err := sleepCtx(gctx, c.retryDelay); err != nil {
				return nil
			}
		}
		return nil
	})
	g.Go(func() error {
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
		return nil
	})

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	<-gctx.Done()

	closeErr := c.group.Close()
	if err := g.Wait(); err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("close kafka consumer group: %w", closeErr)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim подтверждает сообщение, только если оно обработано или ушло в DLQ.
// Иначе claim завершается с ошибкой, и сообщение перечитывается в следующей сессии.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(ctx, message); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// Offset коммитится по партиции: подтверждение следующего сообщения
				// перепрыгнуло бы это. Сессия завершается, партиция перечитается с него.
				c.logger.WithError(err).WithFields(messageFields(message)).Error("message left unacknowledged, stopping claim")
				return fmt.Errorf("%s/%d offset %d: %w", message.Topic, message.Partition, message.Offset, err)
			}
			session.MarkMessage(message, "")
		}
	}
}

// process вызывает handler с повторами. Попытки, сделанные до переотправки
// (заголовок x-retry-count), входят в общий лимит maxRetries.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	spent := retryCount(message)
	budget := max(c.maxRetries-spent, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt >= budget {
			spent += attempt
			break
		}

		c.logger.WithError(err).WithFields(messageFields(message)).
			WithField("attempt", spent+attempt).
			Warn("handler failed, retrying")
		if waitErr := sleepCtx(ctx, c.retryDelay); waitErr != nil {
			return waitErr
		}
	}

	if ctx.Err() != nil || c.dlq == nil {
		return err
	}
	if !IsPermanent(err) && spent < c.maxRetries {
		return err
	}

	if dlqErr := c.sendToDLQ(message, err, spent); dlqErr != nil {
		return fmt.Errorf("send to dlq: %w", dlqErr)
	}
	c.logger.WithFields(messageFields(message)).WithField("attempts", spent).Warn("message moved to dlq")
	return nil
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	record := DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	}
	return c.dlq.PublishJSON(c.dlqTopic, string(message.Key), record, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt,
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
}

// retryCount читает x-retry-count; отсутствующий или битый заголовок даёт 0.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(header.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
