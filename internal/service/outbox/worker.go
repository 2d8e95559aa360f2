package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	// maxRetryDelay ограничивает рост экспоненциальной паузы между попытками.
	maxRetryDelay = 30 * time.Second
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	Registerer     prometheus.Registerer
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithDLQPublisher включает отправку событий, исчерпавших попытки, в dead letter topic.
// Без него такие события только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) { opts.DLQPublisher = publisher }
}

// WithRegisterer регистрирует метрики воркера в отдельном registry (нужно тестам).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *WorkerOptions) { opts.Registerer = reg }
}

func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт паузу после первой неудачной попытки; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RetryBaseDelay = delay }
}

func (o WorkerOptions) normalized() WorkerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	o.RetryBaseDelay = max(o.RetryBaseDelay, 0)
	if o.Logger == nil {
		o.Logger = log.WithField("component", "outbox-worker")
	}
	return o
}

// Result — итог одного цикла публикации.
type Result struct {
	Sent   int
	Failed int
}

func (r *Result) add(other Result) {
	r.Sent += other.Sent
	r.Failed += other.Failed
}

// Worker переносит события заказов из outbox в брокер.
// Событие помечается sent только после подтверждения публикации, поэтому доставка at-least-once.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	opts      WorkerOptions
	metrics   *workerMetrics
	now       func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}
	opts = opts.normalized()

	m := defaultMetrics
	if opts.Registerer != nil {
		m = newWorkerMetrics(promauto.With(opts.Registerer))
	}

	return &Worker{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		metrics:   m,
		now:       time.Now,
	}
}

// Run опрашивает outbox каждые PollInterval до отмены ctx. Штатная остановка возвращает nil.
func (w *Worker) Run(ctx context.Context) error {
	if w.repo == nil || w.publisher == nil {
		w.opts.Logger.Warn("outbox worker is disabled: repo or publisher is nil")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает один батч pending-событий и публикует их по порядку.
func (w *Worker) ProcessOnce(ctx context.Context) Result {
	var result Result
	if ctx.Err() != nil {
		return result
	}

	w.observeBacklog(ctx)
	events, err := w.repo.PullPending(ctx, w.opts.BatchSize)
	if err != nil {
		w.opts.Logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		switch w.handle(ctx, event) {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		}
	}

	if len(events) > 0 {
		w.observeBacklog(ctx)
		w.opts.Logger.WithFields(log.Fields{
			"sent":   result.Sent,
			"failed": result.Failed,
		}).Debug("outbox batch processed")
	}
	return result
}

// Drain повторяет ProcessOnce, пока батчи приходят полными. Вызывается при остановке,
// ctx должен быть свежим: контекст Run к этому моменту уже отменён.
func (w *Worker) Drain(ctx context.Context) Result {
	var total Result
	for ctx.Err() == nil {
		result := w.ProcessOnce(ctx)
		total.add(result)
		if result.Sent+result.Failed < w.opts.BatchSize {
			break
		}
	}
	return total
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	// outcomeDeferred — попытки прерваны отменой ctx, событие остаётся pending.
	outcomeDeferred
)

// handle публикует одно событие и фиксирует исход в outbox.
func (w *Worker) handle(ctx context.Context, event domain.OutboxMessage) outcome {
	logger := w.opts.Logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	})

	err := w.publish(ctx, event)
	if err == nil {
		if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
			// Событие уйдёт повторно на следующем цикле, consumer обязан это переносить.
			logger.WithError(markErr).Warn("failed to mark outbox as sent")
		}
		return outcomeSent
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Остановка не исчерпывает попытки: Drain или следующий запуск опубликуют событие.
		logger.WithError(err).Info("outbox publish interrupted, event stays pending")
		return outcomeDeferred
	}

	logger.WithError(err).Error("outbox publish failed after retries")
	w.metrics.publish(resultFailed, event)

	if dlqErr := w.deadLetter(event, err); dlqErr != nil {
		logger.WithError(dlqErr).Warn("failed to publish to DLQ")
		w.metrics.publish(resultDLQFailed, event)
	}
	if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
		logger.WithError(markErr).Warn("failed to mark outbox as failed")
	}
	return outcomeFailed
}

// publish делает до MaxAttempts попыток с паузой retryDelay между ними.
func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, w.retryDelay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = w.publisher.Publish(event)
		if lastErr == nil {
			w.metrics.publish(resultSent, event)
			return nil
		}
		w.metrics.publish(resultRetry, event)
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.opts.MaxAttempts, lastErr)
}

// retryDelay возвращает паузу после failed-й неудачной попытки: base, 2*base, 4*base...
func (w *Worker) retryDelay(failed int) time.Duration {
	base := w.opts.RetryBaseDelay
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < failed && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) deadLetter(event domain.OutboxMessage, cause error) error {
	if w.opts.DLQPublisher == nil {
		return nil
	}
	msg, err := dlqMessage(event, cause, w.now())
	if err != nil {
		return err
	}
	if err := w.opts.DLQPublisher.Publish(msg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.opts.Logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.backlog(stats, w.now())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
