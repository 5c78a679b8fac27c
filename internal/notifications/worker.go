package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/event-notifications/internal/domain"
)

// realtimeErrorCode is stored with notifications whose realtime delivery gave up.
const realtimeErrorCode = "realtime_delivery_failed"

// WorkerConfig contains realtime delivery worker configuration.
type WorkerConfig struct {
	NumWorkers            int
	QueueSize             int
	MaxRetries            int
	InitialBackoff        time.Duration
	BackoffFunction       BackoffFunction
	CircuitBreakerTimeout time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:            2,
		QueueSize:             100,
		MaxRetries:            5,
		InitialBackoff:        1 * time.Second,
		BackoffFunction:       BackoffExponential,
		CircuitBreakerTimeout: 60 * time.Second,
	}
}

// CallbackResolver finds where a client wants notifications pushed.
// An empty URL means the client only polls.
type CallbackResolver interface {
	ResolveCallbackURL(ctx context.Context, clientID string) (string, error)
}

// CallbackSender posts a signed notification to a callback URL.
type CallbackSender interface {
	Send(ctx context.Context, callbackURL, token string) error
}

// StatusRecorder applies delivery outcomes to stored notifications.
type StatusRecorder interface {
	Acknowledge(ctx context.Context, clientID, notificationID string) (bool, error)
	MarkFailed(ctx context.Context, clientID, notificationID string, report ErrorReport) (bool, error)
}

// Worker pushes newly created notifications to subscriber callbacks.
// Notifications that cannot be pushed stay available for polling.
type Worker struct {
	config    WorkerConfig
	queue     chan deliveryTask
	resolver  CallbackResolver
	sender    CallbackSender
	generator Generator
	statuses  StatusRecorder

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new realtime delivery worker.
func NewWorker(config WorkerConfig, resolver CallbackResolver, sender CallbackSender, generator Generator, statuses StatusRecorder) *Worker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if !config.BackoffFunction.IsValid() {
		config.BackoffFunction = BackoffExponential
	}

	return &Worker{
		config:    config,
		queue:     make(chan deliveryTask, config.QueueSize),
		resolver:  resolver,
		sender:    sender,
		generator: generator,
		statuses:  statuses,
		stopCh:    make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting realtime notification worker",
		"workers", w.config.NumWorkers,
		"queue_size", w.config.QueueSize,
		"max_retries", w.config.MaxRetries,
		"backoff_function", w.config.BackoffFunction,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. Queued notifications stay OPEN.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("realtime notification worker stopped", "pending", len(w.queue))
}

// Enqueue schedules delivery without blocking. It returns false when the queue is full.
func (w *Worker) Enqueue(notification domain.Notification, events []domain.NotificationEvent) bool {
	select {
	case w.queue <- deliveryTask{notification: notification, events: events}:
		return true
	default:
		recordRealtimeDelivery("dropped")
		return false
	}
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case task := <-w.queue:
			w.deliver(ctx, workerID, task)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, workerID int, task deliveryTask) {
	n := task.notification
	logger := slog.With("worker", workerID, "notification_id", n.ID, "client_id", n.ClientID)

	callbackURL, err := w.resolver.ResolveCallbackURL(ctx, n.ClientID)
	if err != nil {
		logger.Error("failed to resolve callback url", "error", err)
		recordRealtimeDelivery("failed")
		return
	}
	if callbackURL == "" {
		logger.Debug("no callback url, notification left for polling")
		recordRealtimeDelivery("skipped")
		return
	}

	token, err := w.generator.Generate(n, task.events)
	if err != nil {
		logger.Error("failed to generate notification", "error", err)
		recordRealtimeDelivery("failed")
		return
	}

	start := time.Now()
	var lastErr error

	for retry := 0; retry <= w.config.MaxRetries; retry++ {
		if retry > 0 {
			backoff := w.config.BackoffFunction.Delay(w.config.InitialBackoff, retry)
			logger.Debug("retrying realtime delivery", "retry", retry, "backoff", backoff)
			if !w.wait(ctx, backoff) {
				return
			}
		}

		sendStart := time.Now()
		lastErr = w.sender.Send(ctx, callbackURL, token)
		recordRealtimeSendDuration(time.Since(sendStart))

		if lastErr == nil {
			if _, err := w.statuses.Acknowledge(ctx, n.ClientID, n.ID); err != nil {
				logger.Error("failed to acknowledge notification", "error", err)
			}
			recordRealtimeDelivery("success")
			logger.Debug("realtime notification delivered", "attempts", retry+1)
			return
		}

		logger.Warn("realtime delivery failed",
			"attempt", retry+1,
			"max_attempts", w.config.MaxRetries+1,
			"error", lastErr,
		)

		if !isRetryable(lastErr) {
			break
		}
		if w.config.CircuitBreakerTimeout > 0 && time.Since(start) > w.config.CircuitBreakerTimeout {
			logger.Debug("circuit breaker open", "elapsed", time.Since(start))
			break
		}
	}

	if _, err := w.statuses.MarkFailed(ctx, n.ClientID, n.ID, ErrorReport{
		Code:        realtimeErrorCode,
		Description: lastErr.Error(),
	}); err != nil {
		logger.Error("failed to mark notification as failed", "error", err)
	}
	recordRealtimeDelivery("failed")
}

// wait sleeps for d. It returns false if the worker is stopping.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	}
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
