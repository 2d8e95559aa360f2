package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func consumerRecord(t *testing.T, topic, key, value string) []byte {
	t.Helper()
	raw, err := json.Marshal(kafka.DLQMessage{
		OriginalTopic: topic,
		OriginalKey:   key,
		OriginalValue: value,
		ErrorMessage:  "order is canceled",
		RetryCount:    3,
	})
	if err != nil {
		t.Fatalf("marshal consumer record: %v", err)
	}
	return raw
}

func outboxRecord(t *testing.T, orderID, eventType string, payload any) []byte {
	t.Helper()
	failure := map[string]any{
		"outbox_id":      "outbox-" + orderID,
		"aggregate_type": domain.AggregateOrder,
		"aggregate_id":   orderID,
		"event_type":     eventType,
		"publish_error":  "broker unavailable",
	}
	if payload != nil {
		failure["payload"] = payload
	}
	raw, err := json.Marshal(map[string]any{
		"id":             "dlq-" + orderID,
		"aggregate_type": domain.AggregateOrder,
		"aggregate_id":   orderID,
		"event_type":     eventType,
		"payload":        failure,
	})
	if err != nil {
		t.Fatalf("marshal outbox record: %v", err)
	}
	return raw
}

func TestParseOptions(t *testing.T) {
	noEnv := func(string) string { return "" }

	t.Run("flags", func(t *testing.T) {
		opts, err := parseOptions([]string{
			"-brokers= broker-1:9092, ,broker-2:9092 ",
			"-limit=10",
			"-execute",
			"-from-newest",
			"-idle-timeout=3s",
			"-source=OUTBOX",
			"-order-id=order-7",
		}, noEnv)
		if err != nil {
			t.Fatalf("parse options: %v", err)
		}
		if want := []string{"broker-1:9092", "broker-2:9092"}; !slices.Equal(opts.brokers, want) {
			t.Errorf("expected brokers %v, got %v", want, opts.brokers)
		}
		if opts.sourceTopic != kafka.TopicDeadLetterQueue || opts.targetTopic != kafka.TopicOrderEvents {
			t.Errorf("unexpected default topics %s -> %s", opts.sourceTopic, opts.targetTopic)
		}
		if opts.limit != 10 || !opts.execute || !opts.fromNewest {
			t.Errorf("unexpected limit/execute/from-newest %d/%v/%v", opts.limit, opts.execute, opts.fromNewest)
		}
		if opts.idleTimeout != 3*time.Second {
			t.Errorf("expected idle timeout 3s, got %v", opts.idleTimeout)
		}
		if opts.source != sourceOutbox || opts.orderID != "order-7" {
			t.Errorf("unexpected filters source=%q order=%q", opts.source, opts.orderID)
		}
	})

	t.Run("brokers from env", func(t *testing.T) {
		opts, err := parseOptions(nil, func(key string) string {
			if key == "KAFKA_BROKERS" {
				return "kafka:9092"
			}
			return ""
		})
		if err != nil {
			t.Fatalf("parse options: %v", err)
		}
		if !slices.Equal(opts.brokers, []string{"kafka:9092"}) {
			t.Errorf("expected brokers from env, got %v", opts.brokers)
		}
		if opts.limit != defaultLimit {
			t.Errorf("expected default limit %d, got %d", defaultLimit, opts.limit)
		}
		if opts.execute {
			t.Error("dry run must be the default")
		}
	})

	invalid := []struct {
		name string
		args []string
		want string
	}{
		{"no brokers", []string{"-brokers="}, "kafka brokers are required"},
		{"empty source topic", []string{"-brokers=b:9092", "-source-topic= "}, "source-topic is required"},
		{"empty target topic", []string{"-brokers=b:9092", "-target-topic="}, "target-topic is required"},
		{"zero limit", []string{"-brokers=b:9092", "-limit=0"}, "limit must be > 0"},
		{"zero idle timeout", []string{"-brokers=b:9092", "-idle-timeout=0s"}, "idle-timeout must be > 0"},
		{"unknown source", []string{"-brokers=b:9092", "-source=payments"}, `unknown source "payments"`},
		{"unknown flag", []string{"-brokers=b:9092", "-dry"}, "flag provided but not defined"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseOptions(tc.args, noEnv)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeCandidate(t *testing.T) {
	t.Run("consumer record keeps original topic and value", func(t *testing.T) {
		value := `{"order_id":"order-1","status":"COMPLETED"}`
		c, err := decodeCandidate(consumerRecord(t, kafka.TopicDeliveryEvents, "order-1", value), kafka.TopicOrderEvents)
		if err != nil {
			t.Fatalf("decode candidate: %v", err)
		}
		if c.source != sourceConsumer || c.topic != kafka.TopicDeliveryEvents || c.key != "order-1" {
			t.Fatalf("unexpected candidate %+v", c)
		}
		assertJSON(t, value, c.value)
		if c.eventType != "" {
			t.Errorf("consumer record has no event type, got %q", c.eventType)
		}
	})

	t.Run("outbox failure is rebuilt as order event", func(t *testing.T) {
		raw := outboxRecord(t, "order-1", domain.EventOrderCanceled, map[string]any{"status": "CANCEL"})
		c, err := decodeCandidate(raw, kafka.TopicOrderEvents)
		if err != nil {
			t.Fatalf("decode candidate: %v", err)
		}
		if c.source != sourceOutbox || c.topic != kafka.TopicOrderEvents || c.key != "order-1" {
			t.Fatalf("unexpected candidate %+v", c)
		}
		if c.eventType != domain.EventOrderCanceled {
			t.Fatalf("expected event type %s, got %s", domain.EventOrderCanceled, c.eventType)
		}

		event, err := kafka.ParseOrderEvent(&sarama.ConsumerMessage{Value: c.value})
		if err != nil {
			t.Fatalf("rebuilt value must be an order event: %v", err)
		}
		if event.ID != "outbox-order-1" || event.EventType != domain.EventOrderCanceled {
			t.Fatalf("unexpected order event %+v", event)
		}
		assertJSON(t, `{"status":"CANCEL"}`, event.Payload)
	})

	t.Run("outbox failure without event payload", func(t *testing.T) {
		_, err := decodeCandidate(outboxRecord(t, "order-1", domain.EventOrderPlaced, nil), kafka.TopicOrderEvents)
		if err == nil || !strings.Contains(err.Error(), "no event payload") {
			t.Fatalf("expected missing payload error, got %v", err)
		}
		if errors.Is(err, errNotReplayable) {
			t.Fatal("outbox record without payload is a broken record, not a foreign one")
		}
	})

	t.Run("payload that is not an object", func(t *testing.T) {
		_, err := decodeCandidate([]byte(`{"id":"x","payload":"not-an-object"}`), kafka.TopicOrderEvents)
		if err == nil || !strings.Contains(err.Error(), "decode outbox failure") {
			t.Fatalf("expected decode error, got %v", err)
		}
	})

	for name, raw := range map[string]string{
		"foreign json": `{"foo":"bar"}`,
		"not json":     `plain text`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeCandidate([]byte(raw), kafka.TopicOrderEvents); !errors.Is(err, errNotReplayable) {
				t.Fatalf("expected errNotReplayable, got %v", err)
			}
		})
	}
}

func TestOptionsAccepts(t *testing.T) {
	placed := candidate{source: sourceOutbox, key: "order-1", eventType: domain.EventOrderPlaced}
	delivery := candidate{source: sourceConsumer, key: "order-2"}

	cases := []struct {
		name string
		opts options
		c    candidate
		want bool
	}{
		{"no filters", options{}, delivery, true},
		{"event type matches", options{eventType: domain.EventOrderPlaced}, placed, true},
		{"event type differs", options{eventType: domain.EventOrderCanceled}, placed, false},
		{"consumer record has no event type", options{eventType: domain.EventOrderPlaced}, delivery, false},
		{"source matches", options{source: sourceConsumer}, delivery, true},
		{"source differs", options{source: sourceConsumer}, placed, false},
		{"order matches", options{orderID: "order-1"}, placed, true},
		{"order differs", options{orderID: "order-1"}, delivery, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.opts.accepts(tc.c); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestReplayer_Publish(t *testing.T) {
	producer := &stubPublisher{}
	r := newTestReplayer(options{}, nil, nil, producer)

	if err := r.publish(candidate{topic: "t", key: "order-1", value: []byte(`{}`), eventType: domain.EventOrderPlaced}); err != nil {
		t.Fatalf("publish order event: %v", err)
	}
	if err := r.publish(candidate{topic: "t", key: "order-2", value: []byte(`{}`)}); err != nil {
		t.Fatalf("publish consumer record: %v", err)
	}
	if len(producer.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(producer.sent))
	}
	if got := producer.sent[0].headers[kafka.HeaderEventType]; got != domain.EventOrderPlaced {
		t.Errorf("expected event type header, got %q", got)
	}
	if producer.sent[1].headers != nil {
		t.Errorf("consumer record must be sent without headers, got %v", producer.sent[1].headers)
	}

	producer.err = errors.New("send failed")
	if err := r.publish(candidate{topic: "t"}); err == nil {
		t.Fatal("expected producer error")
	}

	r.producer = nil
	if err := r.publish(candidate{}); err == nil || !strings.Contains(err.Error(), "producer is nil") {
		t.Fatalf("expected nil producer error, got %v", err)
	}
}

func TestReplayer_ScanPartition(t *testing.T) {
	opts := options{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		idleTimeout: 20 * time.Millisecond,
	}

	t.Run("dry run only counts candidates", func(t *testing.T) {
		opener := &stubOpener{streams: map[int32]partitionStream{
			0: finishedStream(messageAt(0, 0, consumerRecord(t, kafka.TopicDeliveryEvents, "order-1", "{}"))),
		}}
		r := newTestReplayer(opts, rangeOffsets(0, 0, 2), opener, nil)

		stats, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scan partition: %v", err)
		}
		if want := (replayStats{scanned: 1, replayed: 1}); stats != want {
			t.Fatalf("expected %+v, got %+v", want, stats)
		}
		if want := []consumeCall{{partition: 0, offset: 0}}; !slices.Equal(opener.calls, want) {
			t.Fatalf("expected consume calls %v, got %v", want, opener.calls)
		}
	})

	t.Run("execute publishes and skips the rest", func(t *testing.T) {
		execOpts := opts
		execOpts.execute = true
		execOpts.eventType = domain.EventOrderCanceled
		opener := &stubOpener{streams: map[int32]partitionStream{
			0: finishedStream(
				messageAt(0, 0, outboxRecord(t, "order-1", domain.EventOrderCanceled, map[string]any{"status": "CANCEL"})),
				messageAt(0, 1, outboxRecord(t, "order-2", domain.EventOrderPlaced, map[string]any{"count": 1})),
				messageAt(0, 2, []byte(`garbage`)),
			),
		}}
		producer := &stubPublisher{}
		r := newTestReplayer(execOpts, rangeOffsets(0, 0, 3), opener, producer)

		stats, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scan partition: %v", err)
		}
		if want := (replayStats{scanned: 3, replayed: 1, skipped: 2}); stats != want {
			t.Fatalf("expected %+v, got %+v", want, stats)
		}
		if len(producer.sent) != 1 || producer.sent[0].key != "order-1" || producer.sent[0].topic != kafka.TopicOrderEvents {
			t.Fatalf("expected only order-1 replayed to %s, got %+v", kafka.TopicOrderEvents, producer.sent)
		}
	})

	t.Run("from newest starts inside the window", func(t *testing.T) {
		newestOpts := opts
		newestOpts.fromNewest = true
		opener := &stubOpener{streams: map[int32]partitionStream{0: finishedStream()}}
		r := newTestReplayer(newestOpts, rangeOffsets(0, 5, 50), opener, nil)

		if _, err := r.scanPartition(context.Background(), 0, 10); err != nil {
			t.Fatalf("scan partition: %v", err)
		}
		if got := opener.calls[0].offset; got != 40 {
			t.Fatalf("expected start offset 40, got %d", got)
		}
	})

	t.Run("empty partition is not consumed", func(t *testing.T) {
		opener := &stubOpener{}
		r := newTestReplayer(opts, rangeOffsets(0, 7, 7), opener, nil)

		stats, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scan partition: %v", err)
		}
		if stats != (replayStats{}) || len(opener.calls) != 0 {
			t.Fatalf("empty partition must not be consumed, stats=%+v calls=%v", stats, opener.calls)
		}
	})

	t.Run("idle partition stops on timeout", func(t *testing.T) {
		stream := &stubStream{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
		r := newTestReplayer(opts, rangeOffsets(0, 0, 2), &stubOpener{streams: map[int32]partitionStream{0: stream}}, nil)

		stats, err := r.scanPartition(context.Background(), 0, 1)
		if err != nil {
			t.Fatalf("scan partition: %v", err)
		}
		if stats.scanned != 0 {
			t.Errorf("expected nothing scanned, got %d", stats.scanned)
		}
		if !stream.closed {
			t.Error("idle stream must be closed")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		stream := &stubStream{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
		r := newTestReplayer(opts, rangeOffsets(0, 0, 2), &stubOpener{streams: map[int32]partitionStream{0: stream}}, nil)

		if _, err := r.scanPartition(ctx, 0, 1); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestReplayer_ScanPartitionErrors(t *testing.T) {
	opts := options{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, execute: true, idleTimeout: 20 * time.Millisecond}
	okOffsets := rangeOffsets(0, 0, 2)
	record := messageAt(0, 0, consumerRecord(t, kafka.TopicDeliveryEvents, "order-1", "{}"))

	brokenStream := &stubStream{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError, 1)}
	brokenStream.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}

	cases := []struct {
		name     string
		offsets  *stubOffsets
		opener   *stubOpener
		producer *stubPublisher
		want     string
	}{
		{
			name:     "offset lookup",
			offsets:  &stubOffsets{offsetErr: errors.New("offset")},
			opener:   &stubOpener{},
			producer: &stubPublisher{},
			want:     "oldest offset of partition 0",
		},
		{
			name:     "consume partition",
			offsets:  okOffsets,
			opener:   &stubOpener{err: errors.New("consume")},
			producer: &stubPublisher{},
			want:     "consume partition 0",
		},
		{
			name:     "stream error",
			offsets:  okOffsets,
			opener:   &stubOpener{streams: map[int32]partitionStream{0: brokenStream}},
			producer: &stubPublisher{},
			want:     "consumer boom",
		},
		{
			name:     "producer failure",
			offsets:  okOffsets,
			opener:   &stubOpener{streams: map[int32]partitionStream{0: finishedStream(record)}},
			producer: &stubPublisher{err: errors.New("send fail")},
			want:     "replay offset 0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReplayer(opts, tc.offsets, tc.opener, tc.producer)
			_, err := r.scanPartition(context.Background(), 0, 1)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestReplayer_Run(t *testing.T) {
	opts := options{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 1, idleTimeout: 20 * time.Millisecond}

	if _, err := newTestReplayer(opts, nil, nil, nil).Run(context.Background()); err == nil || !strings.Contains(err.Error(), "client and consumer are required") {
		t.Fatalf("expected missing client error, got %v", err)
	}

	offsets := &stubOffsets{
		partitions: []int32{2, 0},
		ranges:     map[int32][2]int64{0: {0, 2}, 2: {0, 2}},
	}
	opener := &stubOpener{streams: map[int32]partitionStream{
		0: finishedStream(messageAt(0, 0, consumerRecord(t, kafka.TopicDeliveryEvents, "order-1", "{}"))),
		2: finishedStream(messageAt(2, 0, consumerRecord(t, kafka.TopicDeliveryEvents, "order-2", "{}"))),
	}}

	stats, err := newTestReplayer(opts, offsets, opener, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := (replayStats{scanned: 1, replayed: 1}); stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
	// limit=1 останавливает обход после партиции с наименьшим номером.
	if want := []consumeCall{{partition: 0, offset: 0}}; !slices.Equal(opener.calls, want) {
		t.Fatalf("expected consume calls %v, got %v", want, opener.calls)
	}

	execOpts := opts
	execOpts.execute = true
	if _, err := newTestReplayer(execOpts, offsets, opener, nil).Run(context.Background()); err == nil || !strings.Contains(err.Error(), "producer is required") {
		t.Fatalf("expected missing producer error, got %v", err)
	}

	stats, err = newTestReplayer(opts, &stubOffsets{}, opener, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run without partitions: %v", err)
	}
	if stats != (replayStats{}) {
		t.Fatalf("expected empty stats, got %+v", stats)
	}

	_, err = newTestReplayer(opts, &stubOffsets{partitionsErr: errors.New("metadata")}, opener, nil).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "list partitions") {
		t.Fatalf("expected list partitions error, got %v", err)
	}
}

func TestExecute_UsesDialedConnection(t *testing.T) {
	original := dialKafka
	t.Cleanup(func() { dialKafka = original })
	noEnv := func(string) string { return "" }
	args := []string{"-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms", "-execute"}

	dialKafka = func(options) (kafkaConn, error) {
		return kafkaConn{}, errors.New("dial failed")
	}
	if err := execute(context.Background(), args, noEnv); err == nil || !strings.Contains(err.Error(), "dial failed") {
		t.Fatalf("expected dial error, got %v", err)
	}

	closed := false
	producer := &stubPublisher{}
	dialKafka = func(opts options) (kafkaConn, error) {
		if !opts.execute {
			t.Error("expected -execute to reach the dialer")
		}
		return kafkaConn{
			offsets: rangeOffsets(0, 0, 1),
			opener: &stubOpener{streams: map[int32]partitionStream{
				0: finishedStream(messageAt(0, 0, outboxRecord(t, "order-9", domain.EventOrderPlaced, map[string]any{"count": 2}))),
			}},
			producer: producer,
			close:    func() { closed = true },
		}, nil
	}
	if err := execute(context.Background(), args, noEnv); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !closed {
		t.Error("connection must be closed")
	}
	if len(producer.sent) != 1 || producer.sent[0].key != "order-9" {
		t.Fatalf("expected order-9 replayed, got %+v", producer.sent)
	}

	if err := execute(context.Background(), []string{"-brokers="}, noEnv); err == nil || !strings.Contains(err.Error(), "kafka brokers are required") {
		t.Fatalf("expected brokers error, got %v", err)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit error, got %v", err)
	}
	if exitErr.ExitCode() == 0 {
		t.Fatal("expected non-zero exit code")
	}
}

// assertJSON сравнивает документы без учёта форматирования.
func assertJSON(t *testing.T, want string, got []byte) {
	t.Helper()
	var wantDoc, gotDoc any
	if err := json.Unmarshal([]byte(want), &wantDoc); err != nil {
		t.Fatalf("decode expected json: %v", err)
	}
	if err := json.Unmarshal(got, &gotDoc); err != nil {
		t.Fatalf("decode json %s: %v", got, err)
	}
	if !reflect.DeepEqual(wantDoc, gotDoc) {
		t.Fatalf("expected json %s, got %s", want, got)
	}
}

func newTestReplayer(opts options, offsets offsetReader, opener partitionOpener, producer publisher) *replayer {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return &replayer{
		opts:     opts,
		offsets:  offsets,
		opener:   opener,
		producer: producer,
		logger:   logger.WithField("component", "dlq-reprocess-test"),
	}
}

func messageAt(partition int32, offset int64, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Partition: partition, Offset: offset, Value: value}
}

func rangeOffsets(partition int32, oldest, newest int64) *stubOffsets {
	return &stubOffsets{
		partitions: []int32{partition},
		ranges:     map[int32][2]int64{partition: {oldest, newest}},
	}
}

type stubOffsets struct {
	partitions    []int32
	partitionsErr error
	ranges        map[int32][2]int64
	offsetErr     error
}

func (s *stubOffsets) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsets) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	bounds := s.ranges[partition]
	switch marker {
	case sarama.OffsetOldest:
		return bounds[0], nil
	case sarama.OffsetNewest:
		return bounds[1], nil
	}
	return 0, fmt.Errorf("unsupported offset marker %d", marker)
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubOpener struct {
	streams map[int32]partitionStream
	err     error
	calls   []consumeCall
}

func (s *stubOpener) ConsumePartition(_ string, partition int32, offset int64) (partitionStream, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.err != nil {
		return nil, s.err
	}
	stream, ok := s.streams[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d is not configured", partition)
	}
	return stream, nil
}

type stubStream struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubStream) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubStream) Close() error {
	s.closed = true
	return nil
}

// finishedStream отдаёт сообщения и закрывает каналы, как consumer после конца партиции.
func finishedStream(messages ...*sarama.ConsumerMessage) *stubStream {
	s := &stubStream{
		messages: make(chan *sarama.ConsumerMessage, len(messages)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range messages {
		s.messages <- msg
	}
	close(s.messages)
	close(s.errors)
	return s
}

type sentMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type stubPublisher struct {
	err  error
	sent []sentMessage
}

func (s *stubPublisher) Publish(topic, key string, value []byte, headers map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, value: value, headers: headers})
	return nil
}
