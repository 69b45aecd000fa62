package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []*domain.Notification
	failures int
}

func (f *fakeTransport) Send(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeMarker struct {
	mu     sync.Mutex
	marked []string
}

func (f *fakeMarker) MarkNotificationSent(_ context.Context, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, executionID)
	return nil
}

func testEvent(executionID string) *domain.RuleNotificationEvent {
	return &domain.RuleNotificationEvent{
		UserID:         "user-1",
		RuleID:         "rule-1",
		RuleName:       "surge watch",
		CardID:         "card-1",
		ExecutionID:    executionID,
		StockCode:      "2330",
		StockName:      "TSMC",
		PreviousStatus: domain.StatusWatch,
		NewStatus:      domain.StatusReadyToBuy,
		Message:        "TSMC moved from WATCH to READY_TO_BUY",
		TriggeredAt:    time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestDispatcher_ProcessPersistsAndDelivers(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	transport := &fakeTransport{}
	marker := &fakeMarker{}
	d := NewDispatcher(repo, marker, []Transport{transport}, 1, 1, zerolog.Nop())

	d.process(context.Background(), testEvent("exec-1"))

	require.Equal(t, 1, transport.sentCount())
	sent := transport.sent[0]
	assert.Equal(t, "Rule triggered: surge watch", sent.Title)
	assert.Equal(t, domain.NotificationRuleTriggered, sent.Type)
	assert.Equal(t, "exec-1", sent.ExecutionID)

	assert.Equal(t, []string{"exec-1"}, marker.marked)

	count, err := repo.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDispatcher_DuplicateExecutionDeliveredOnce(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	transport := &fakeTransport{}
	marker := &fakeMarker{}
	d := NewDispatcher(repo, marker, []Transport{transport}, 1, 1, zerolog.Nop())

	event := testEvent("exec-1")
	d.process(context.Background(), event)
	d.process(context.Background(), event)

	assert.Equal(t, 1, transport.sentCount(), "redelivery of the same execution is a no-op")
	assert.Len(t, marker.marked, 1)

	count, err := repo.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDispatcher_DeliveryRetries(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	transport := &fakeTransport{failures: 2}
	d := NewDispatcher(repo, nil, []Transport{transport}, 1, 3, zerolog.Nop())

	d.process(context.Background(), testEvent("exec-1"))

	assert.Equal(t, 1, transport.sentCount(), "third attempt succeeds")
}

func TestDispatcher_AbandonedDeliveryKeepsNotification(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	transport := &fakeTransport{failures: 10}
	d := NewDispatcher(repo, nil, []Transport{transport}, 1, 2, zerolog.Nop())

	d.process(context.Background(), testEvent("exec-1"))

	assert.Zero(t, transport.sentCount())

	// Delivery is best effort; the persisted notification survives.
	count, err := repo.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDispatcher_StartEnqueueStop(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	transport := &fakeTransport{}
	d := NewDispatcher(repo, nil, []Transport{transport}, 2, 1, zerolog.Nop())

	d.Start()
	d.Enqueue(testEvent("exec-1"))
	d.Enqueue(testEvent("exec-2"))

	require.Eventually(t, func() bool {
		return transport.sentCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	d.Stop()
	d.Stop() // Stop is idempotent.
}

func TestDispatcher_EnqueueAfterStopIsDropped(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	transport := &fakeTransport{}
	d := NewDispatcher(repo, nil, []Transport{transport}, 1, 1, zerolog.Nop())

	d.Start()
	d.Stop()

	// A producer racing shutdown, like a manual status change landing late,
	// must not bring the process down.
	require.NotPanics(t, func() { d.Enqueue(testEvent("exec-late")) })

	assert.Zero(t, transport.sentCount())
	count, err := repo.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
