// Команда dlq-reprocess возвращает сообщения из dead letter queue в рабочие топики.
//
// В DLQ попадают два вида сообщений: события outbox, которые не удалось опубликовать,
// и статусы доставки, которые consumer не смог применить. По умолчанию команда только
// показывает кандидатов; публикация включается флагом -execute.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

// dlqSource — кто положил сообщение в DLQ.
type dlqSource string

const (
	sourceConsumer dlqSource = "consumer"
	sourceOutbox   dlqSource = "outbox"
)

// errNotReplayable — сообщение не похоже ни на один из форматов DLQ.
var errNotReplayable = errors.New("message is not a replayable dlq record")

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	orderID     string
	source      dlqSource
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// candidate — исходное сообщение, восстановленное из записи DLQ.
type candidate struct {
	source    dlqSource
	topic     string
	key       string
	value     []byte
	eventType string
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
}

// publisher реализуется *kafka.Producer.
type publisher interface {
	Publish(topic, key string, value []byte, headers map[string]string) error
}

// kafkaConn — всё, что нужно replayer'у от кластера, и функция освобождения ресурсов.
type kafkaConn struct {
	offsets  offsetReader
	opener   partitionOpener
	producer publisher
	close    func()
}

type consumerOpener struct {
	consumer sarama.Consumer
}

func (o consumerOpener) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

// dialKafka подменяется в тестах.
var dialKafka = func(opts options) (kafkaConn, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return kafkaConn{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kafkaConn{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	conn := kafkaConn{
		offsets: client,
		opener:  consumerOpener{consumer: consumer},
		close: func() {
			_ = consumer.Close()
			_ = client.Close()
		},
	}
	if !opts.execute {
		return conn, nil
	}

	producer, err := kafka.NewProducer(opts.brokers)
	if err != nil {
		conn.close()
		return kafkaConn{}, err
	}
	conn.producer = producer
	conn.close = func() {
		_ = producer.Close()
		_ = consumer.Close()
		_ = client.Close()
	}
	return conn, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Getenv); err != nil {
		stop()
		fail("dlq-reprocess: %v", err)
	}
}

func execute(ctx context.Context, args []string, getenv func(string) string) error {
	opts, err := parseOptions(args, getenv)
	if err != nil {
		return err
	}

	conn, err := dialKafka(opts)
	if err != nil {
		return err
	}
	if conn.close != nil {
		defer conn.close()
	}

	r := &replayer{
		opts:     opts,
		offsets:  conn.offsets,
		opener:   conn.opener,
		producer: conn.producer,
		logger:   log.WithField("component", "dlq-reprocess"),
	}
	_, err = r.Run(ctx)
	return err
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
		source  string
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	fs.StringVar(&opts.eventType, "event-type", "", "replay only outbox events of this type, e.g. "+domain.EventOrderCanceled)
	fs.StringVar(&opts.orderID, "order-id", "", "replay only messages of one order")
	fs.StringVar(&source, "source", "", "replay only one kind of DLQ record: consumer or outbox")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish candidates; without it the run is dry")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this silence")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("KAFKA_BROKERS")
	}
	opts.brokers = splitBrokers(brokers)
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.targetTopic = strings.TrimSpace(opts.targetTopic)
	opts.source = dlqSource(strings.ToLower(strings.TrimSpace(source)))

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case opts.sourceTopic == "":
		return options{}, errors.New("source-topic is required")
	case opts.targetTopic == "":
		return options{}, errors.New("target-topic is required")
	case opts.limit <= 0:
		return options{}, errors.New("limit must be > 0")
	case opts.idleTimeout <= 0:
		return options{}, errors.New("idle-timeout must be > 0")
	}
	if opts.source != "" && opts.source != sourceConsumer && opts.source != sourceOutbox {
		return options{}, fmt.Errorf("unknown source %q: want consumer or outbox", source)
	}
	return opts, nil
}

func splitBrokers(raw string) []string {
	brokers := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' })
	out := brokers[:0]
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// accepts применяет фильтры -source, -event-type и -order-id.
// Записи consumer'а не несут тип события, поэтому -event-type их отсекает.
func (o options) accepts(c candidate) bool {
	if o.source != "" && c.source != o.source {
		return false
	}
	if o.eventType != "" && c.eventType != o.eventType {
		return false
	}
	return o.orderID == "" || c.key == o.orderID
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	opts     options
	offsets  offsetReader
	opener   partitionOpener
	producer publisher
	logger   *log.Entry
}

// Run обходит партиции DLQ по возрастанию номера, пока не исчерпан limit.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.offsets == nil || r.opener == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.producer == nil {
		return total, errors.New("producer is required with -execute")
	}

	partitions, err := r.offsets.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(partitions)

	r.logger.WithFields(log.Fields{
		"source_topic": r.opts.sourceTopic,
		"partitions":   len(partitions),
		"execute":      r.opts.execute,
		"limit":        r.opts.limit,
	}).Info("scanning dlq")

	for _, partition := range partitions {
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.scanPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
		"execute":  r.opts.execute,
	}).Info("dlq replay finished")
	return total, nil
}

// scanPartition читает не больше budget сообщений, записанных до старта.
// Чтение прекращается, если партиция молчит дольше idleTimeout.
func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.offsets.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.opts.fromNewest {
		start = max(oldest, newest-int64(budget))
	}

	stream, err := r.opener.ConsumePartition(r.opts.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumeErr := <-stream.Errors():
			if consumeErr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)

			stats.scanned++
			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle разбирает одно сообщение DLQ и публикует его в режиме -execute.
// Ошибкой считается только отказ producer'а: нераспознанные записи пропускаются.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	c, err := decodeCandidate(msg.Value, r.opts.targetTopic)
	if err != nil {
		if !errors.Is(err, errNotReplayable) {
			entry.WithError(err).Warn("skip broken dlq record")
		}
		return false, nil
	}
	if !r.opts.accepts(c) {
		return false, nil
	}

	entry = entry.WithFields(log.Fields{
		"source":     c.source,
		"topic":      c.topic,
		"key":        c.key,
		"event_type": c.eventType,
	})
	if !r.opts.execute {
		entry.Info("replay candidate")
		return true, nil
	}
	if err := r.publish(c); err != nil {
		return false, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
	}
	entry.Debug("replayed")
	return true, nil
}

func (r *replayer) publish(c candidate) error {
	if r.producer == nil {
		return errors.New("producer is nil")
	}
	var headers map[string]string
	if c.eventType != "" {
		headers = map[string]string{kafka.HeaderEventType: c.eventType}
	}
	return r.producer.Publish(c.topic, c.key, c.value, headers)
}

// decodeCandidate узнаёт запись consumer'а по original_topic, остальное пробует
// как конверт outbox с outbox.DLQRecord внутри. Событие outbox собирается заново
// и уходит в targetTopic с id заказа в качестве ключа.
func decodeCandidate(value []byte, targetTopic string) (candidate, error) {
	if record, err := kafka.ParseDLQMessage(value); err == nil && record.OriginalValue != "" {
		return candidate{
			source: sourceConsumer,
			topic:  strings.TrimSpace(record.OriginalTopic),
			key:    record.OriginalKey,
			value:  []byte(record.OriginalValue),
		}, nil
	}

	var envelope kafka.OrderEventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return candidate{}, errNotReplayable
	}

	var failure outbox.DLQRecord
	if err := json.Unmarshal(envelope.Payload, &failure); err != nil {
		return candidate{}, fmt.Errorf("decode outbox failure: %w", err)
	}
	if len(failure.Payload) == 0 || string(failure.Payload) == "null" {
		return candidate{}, errors.New("outbox failure has no event payload")
	}

	event := kafka.OrderEventEnvelope{
		ID:            orDefault(failure.OutboxID, envelope.ID),
		AggregateType: orDefault(failure.AggregateType, envelope.AggregateType),
		AggregateID:   orDefault(failure.AggregateID, envelope.AggregateID),
		EventType:     orDefault(failure.EventType, envelope.EventType),
		Payload:       failure.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return candidate{}, fmt.Errorf("encode order event: %w", err)
	}

	return candidate{
		source:    sourceOutbox,
		topic:     targetTopic,
		key:       orDefault(event.AggregateID, event.ID),
		value:     encoded,
		eventType: event.EventType,
	}, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
