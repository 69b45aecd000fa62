package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// queueCapacity bounds the in-flight backlog. Enqueue never blocks rule
// processing; overflow is dropped and logged.
const queueCapacity = 1024

// Transport delivers a persisted notification to the user. Delivery is best
// effort; persistence is the source of truth.
type Transport interface {
	Send(ctx context.Context, n *domain.Notification) error
}

// ExecutionMarker flips the notification flag on the originating execution
// record.
type ExecutionMarker interface {
	MarkNotificationSent(ctx context.Context, executionID string) error
}

// Dispatcher consumes rule notification events, persists each at most once
// per execution, and pushes them out over the configured transports.
type Dispatcher struct {
	repo       *Repository
	marker     ExecutionMarker
	transports []Transport
	queue      chan *domain.RuleNotificationEvent
	workers    int
	retries    int
	now        func() time.Time
	log        zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher. transports may be empty; notifications
// are still persisted.
func NewDispatcher(repo *Repository, marker ExecutionMarker, transports []Transport, workers, retries int, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if retries < 1 {
		retries = 1
	}
	return &Dispatcher{
		repo:       repo,
		marker:     marker,
		transports: transports,
		queue:      make(chan *domain.RuleNotificationEvent, queueCapacity),
		workers:    workers,
		retries:    retries,
		now:        time.Now,
		log:        log.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// SetClock overrides the dispatcher's time source for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.log.Info().Int("workers", d.workers).Msg("Notification dispatcher started")
}

// Stop drains nothing; it cancels the workers and waits for in-flight events
// to finish. Queued events not yet picked up are lost, which is acceptable
// for delivery; persistence of new notifications resumes on restart because
// executions keep notification_sent = 0. The queue channel is never closed:
// producers may still race Enqueue against shutdown, and a closed flag drops
// their events instead of panicking on a closed channel.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		d.log.Info().Msg("Notification dispatcher stopped")
	})
}

// Enqueue hands an event to the dispatcher without blocking the caller.
// Events enqueued after Stop are dropped.
func (d *Dispatcher) Enqueue(event *domain.RuleNotificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.log.Debug().
			Str("execution_id", event.ExecutionID).
			Msg("Dispatcher stopped, event dropped")
		return
	}

	select {
	case d.queue <- event:
	default:
		d.log.Warn().
			Str("execution_id", event.ExecutionID).
			Msg("Notification queue full, event dropped")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			d.process(ctx, event)
		}
	}
}

// process persists and delivers one event. The UNIQUE execution_id constraint
// makes redelivery of the same event a no-op.
func (d *Dispatcher) process(ctx context.Context, event *domain.RuleNotificationEvent) {
	notification := &domain.Notification{
		ID:          uuid.New().String(),
		UserID:      event.UserID,
		Title:       fmt.Sprintf("Rule triggered: %s", event.RuleName),
		Message:     event.Message,
		Type:        domain.NotificationRuleTriggered,
		RuleID:      event.RuleID,
		CardID:      event.CardID,
		StockCode:   event.StockCode,
		ExecutionID: event.ExecutionID,
		CreatedAt:   d.now(),
	}

	inserted, err := d.repo.InsertIfAbsent(ctx, notification)
	if err != nil {
		d.log.Error().Err(err).
			Str("execution_id", event.ExecutionID).
			Msg("Failed to persist notification")
		return
	}
	if !inserted {
		d.log.Debug().
			Str("execution_id", event.ExecutionID).
			Msg("Notification already exists for execution, skipping")
		return
	}

	if d.marker != nil {
		if err := d.marker.MarkNotificationSent(ctx, event.ExecutionID); err != nil {
			d.log.Error().Err(err).
				Str("execution_id", event.ExecutionID).
				Msg("Failed to flag execution as notified")
		}
	}

	for _, transport := range d.transports {
		d.deliver(ctx, transport, notification)
	}
}

// deliver pushes the notification with bounded retries. A delivery that
// exhausts its retries is logged and abandoned; the persisted notification
// remains visible through the API.
func (d *Dispatcher) deliver(ctx context.Context, transport Transport, n *domain.Notification) {
	var err error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if err = transport.Send(ctx, n); err == nil {
			return
		}

		d.log.Warn().Err(err).
			Str("notification_id", n.ID).
			Int("attempt", attempt).
			Msg("Notification delivery failed")

		if attempt < d.retries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
	}

	d.log.Error().Err(err).
		Str("notification_id", n.ID).
		Int("attempts", d.retries).
		Msg("Notification delivery abandoned")
}
