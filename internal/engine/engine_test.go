package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// fakeBackend implements every store the engine depends on, in memory.
type fakeBackend struct {
	card        *domain.Card
	stored      *domain.Snapshot
	rules       []*domain.Rule
	executions  []*domain.RuleExecution
	transitions []domain.CardStatus
	marked      []string
	enqueued    []*domain.RuleNotificationEvent

	transitionErr error

	active   int32
	overlaps int32
}

func (f *fakeBackend) GetByID(_ context.Context, id string) (*domain.Card, error) {
	if f.card == nil || f.card.ID != id {
		return nil, domain.ErrNotFound
	}
	c := *f.card
	return &c, nil
}

func (f *fakeBackend) Get(_ context.Context, stockCode string) (*domain.Snapshot, error) {
	if f.stored == nil || f.stored.Code != stockCode {
		return nil, domain.ErrNotFound
	}
	s := *f.stored
	return &s, nil
}

func (f *fakeBackend) ListEnabledByTrigger(_ context.Context, userID string, trigger domain.TriggerEvent) ([]*domain.Rule, error) {
	var out []*domain.Rule
	for _, rule := range f.rules {
		if rule.UserID == userID && rule.Trigger == trigger && rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeBackend) MarkExecuted(_ context.Context, ruleID string, executedAt time.Time) error {
	for _, rule := range f.rules {
		if rule.ID == ruleID {
			at := executedAt
			rule.LastExecutedAt = &at
			rule.TriggerCount++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeBackend) Transition(_ context.Context, cardID string, target domain.CardStatus, actorID, reason, traceID string) (*domain.Card, error) {
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	if f.card == nil || f.card.ID != cardID {
		return nil, domain.ErrNotFound
	}
	if actorID != domain.SystemActor {
		return nil, errors.New("unexpected actor")
	}
	f.card.Status = target
	f.transitions = append(f.transitions, target)
	c := *f.card
	return &c, nil
}

func (f *fakeBackend) Record(_ context.Context, exec *domain.RuleExecution) error {
	if n := atomic.AddInt32(&f.active, 1); n > 1 {
		atomic.AddInt32(&f.overlaps, 1)
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&f.active, -1)

	f.executions = append(f.executions, exec)
	return nil
}

func (f *fakeBackend) Enqueue(event *domain.RuleNotificationEvent) {
	f.enqueued = append(f.enqueued, event)
}

func newTestBackend() *fakeBackend {
	return &fakeBackend{
		card: &domain.Card{
			ID:        "card-1",
			UserID:    "user-1",
			StockCode: "2330",
			StockName: "TSMC",
			Status:    domain.StatusWatch,
		},
	}
}

func newTestEngine(f *fakeBackend) *Engine {
	e := New(f, f, f, f, nil, f, f, zerolog.Nop())
	e.SetClock(func() time.Time { return testNow })
	return e
}

func newRule(id string, priority int) *domain.Rule {
	return &domain.Rule{
		ID:                  id,
		UserID:              "user-1",
		Name:                "rule " + id,
		Type:                domain.RuleTypeCustom,
		ConditionExpression: "changePercent > 5",
		Trigger:             domain.TriggerPriceUpdate,
		TargetStatus:        domain.StatusReadyToBuy,
		Enabled:             true,
		CooldownSeconds:     60,
		Priority:            priority,
		SendNotification:    true,
		CreatedAt:           testNow.Add(-time.Hour),
	}
}

func priceEvent(changePercent float64) *Event {
	return &Event{
		Trigger: domain.TriggerPriceUpdate,
		CardID:  "card-1",
		Snapshot: &domain.Snapshot{
			Code:          "2330",
			Price:         100 * (1 + changePercent/100),
			PreviousClose: 100,
			ChangePercent: changePercent,
			Volume:        1_000_000,
			FetchedAt:     testNow,
		},
		TraceID: "trace-1",
	}
}

func TestProcessEvent_RuleFires(t *testing.T) {
	f := newTestBackend()
	f.rules = []*domain.Rule{newRule("r1", 1)}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	exec := f.executions[0]
	assert.Equal(t, domain.ExecutionSuccess, exec.Status)
	assert.Equal(t, "r1", exec.RuleID)
	assert.Equal(t, "card-1", exec.CardID)
	require.NotNil(t, exec.PreviousStatus)
	assert.Equal(t, domain.StatusWatch, *exec.PreviousStatus)
	require.NotNil(t, exec.NewStatus)
	assert.Equal(t, domain.StatusReadyToBuy, *exec.NewStatus)
	assert.Equal(t, testNow, exec.ExecutedAt)

	assert.Equal(t, []domain.CardStatus{domain.StatusReadyToBuy}, f.transitions)
	assert.Equal(t, domain.StatusReadyToBuy, f.card.Status)

	require.NotNil(t, f.rules[0].LastExecutedAt)
	assert.Equal(t, testNow, *f.rules[0].LastExecutedAt)
	assert.Equal(t, int64(1), f.rules[0].TriggerCount)

	require.Len(t, f.enqueued, 1)
	assert.Equal(t, exec.ID, f.enqueued[0].ExecutionID)
	assert.Equal(t, domain.StatusWatch, f.enqueued[0].PreviousStatus)
	assert.Equal(t, domain.StatusReadyToBuy, f.enqueued[0].NewStatus)
}

func TestProcessEvent_ConditionNotMet(t *testing.T) {
	f := newTestBackend()
	f.rules = []*domain.Rule{newRule("r1", 1)}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(3.0))
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionConditionNotMet, f.executions[0].Status)
	assert.Equal(t, "condition not met", f.executions[0].Message)

	assert.Empty(t, f.transitions)
	assert.Equal(t, domain.StatusWatch, f.card.Status)
	assert.Nil(t, f.rules[0].LastExecutedAt, "a miss must not advance the cooldown")
	assert.Zero(t, f.rules[0].TriggerCount)
	assert.Empty(t, f.enqueued)
}

func TestProcessEvent_CooldownSkipsEvaluation(t *testing.T) {
	f := newTestBackend()
	rule := newRule("r1", 1)
	lastExec := testNow.Add(-30 * time.Second)
	rule.LastExecutedAt = &lastExec
	f.rules = []*domain.Rule{rule}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionSkippedCooldown, f.executions[0].Status)
	assert.Empty(t, f.transitions, "a skipped rule is not evaluated at all")
	assert.Equal(t, lastExec, *rule.LastExecutedAt, "skips leave the cooldown anchor untouched")

	// Once the window has passed the same rule fires again.
	e.SetClock(func() time.Time { return lastExec.Add(60 * time.Second) })
	err = e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 2)
	assert.Equal(t, domain.ExecutionSuccess, f.executions[1].Status)
	assert.Equal(t, lastExec.Add(60*time.Second), *rule.LastExecutedAt)
}

func TestProcessEvent_MalformedExpressionFails(t *testing.T) {
	f := newTestBackend()
	rule := newRule("r1", 1)
	rule.ConditionExpression = "changePercent >"
	f.rules = []*domain.Rule{rule}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err, "a failing rule does not fail the event")

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionFailed, f.executions[0].Status)
	assert.NotEmpty(t, f.executions[0].Message)

	assert.Empty(t, f.transitions)
	assert.Nil(t, rule.LastExecutedAt)
	assert.Zero(t, rule.TriggerCount)
	assert.Empty(t, f.enqueued)
}

func TestProcessEvent_SameStatusSuppressed(t *testing.T) {
	f := newTestBackend()
	f.card.Status = domain.StatusReadyToBuy
	f.rules = []*domain.Rule{newRule("r1", 1)}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionConditionNotMet, f.executions[0].Status)
	assert.Equal(t, "card already in target status", f.executions[0].Message)

	assert.Empty(t, f.transitions)
	assert.Nil(t, f.rules[0].LastExecutedAt)
	assert.Empty(t, f.enqueued)
}

func TestProcessEvent_PriorityOrderAndPropagation(t *testing.T) {
	f := newTestBackend()
	first := newRule("r-first", 1)
	first.TargetStatus = domain.StatusHold
	second := newRule("r-second", 2)
	second.TargetStatus = domain.StatusHold
	// Listed out of order on purpose.
	f.rules = []*domain.Rule{second, first}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 2)
	assert.Equal(t, "r-first", f.executions[0].RuleID)
	assert.Equal(t, domain.ExecutionSuccess, f.executions[0].Status)

	// The lower-priority rule sees the card already moved by the first one.
	assert.Equal(t, "r-second", f.executions[1].RuleID)
	assert.Equal(t, domain.ExecutionConditionNotMet, f.executions[1].Status)
	assert.Equal(t, "card already in target status", f.executions[1].Message)

	assert.Equal(t, []domain.CardStatus{domain.StatusHold}, f.transitions)
}

func TestProcessEvent_TransitionFailureRecordedAsFailed(t *testing.T) {
	f := newTestBackend()
	f.rules = []*domain.Rule{newRule("r1", 1)}
	f.transitionErr = errors.New("disk full")
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionFailed, f.executions[0].Status)
	assert.Contains(t, f.executions[0].Message, "transition failed")
	assert.Nil(t, f.rules[0].LastExecutedAt, "the cooldown only advances once the transition is durable")
	assert.Empty(t, f.enqueued)
}

func TestProcessEvent_NotificationGating(t *testing.T) {
	f := newTestBackend()
	rule := newRule("r1", 1)
	rule.SendNotification = false
	f.rules = []*domain.Rule{rule}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), priceEvent(6.2))
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionSuccess, f.executions[0].Status)
	assert.Empty(t, f.enqueued)
}

func TestProcessEvent_SnapshotlessEventUsesStoredQuote(t *testing.T) {
	f := newTestBackend()
	f.stored = &domain.Snapshot{
		Code:          "2330",
		Price:         106,
		PreviousClose: 100,
		ChangePercent: 6.0,
		Volume:        1_000_000,
		FetchedAt:     testNow.Add(-time.Minute),
	}
	rule := newRule("r1", 1)
	rule.Trigger = domain.TriggerStatusChange
	f.rules = []*domain.Rule{rule}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), &Event{
		Trigger: domain.TriggerStatusChange,
		CardID:  "card-1",
		TraceID: "trace-1",
	})
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionSuccess, f.executions[0].Status)
	require.NotNil(t, f.executions[0].Snapshot)
	assert.InDelta(t, 106, f.executions[0].Snapshot.Price, 1e-9)
}

func TestProcessEvent_NoStoredQuoteFailsPriceRule(t *testing.T) {
	f := newTestBackend()
	rule := newRule("r1", 1)
	rule.Trigger = domain.TriggerStatusChange
	f.rules = []*domain.Rule{rule}
	e := newTestEngine(f)

	err := e.ProcessEvent(context.Background(), &Event{
		Trigger: domain.TriggerStatusChange,
		CardID:  "card-1",
	})
	require.NoError(t, err)

	require.Len(t, f.executions, 1)
	assert.Equal(t, domain.ExecutionFailed, f.executions[0].Status)
	assert.Nil(t, f.executions[0].Snapshot)
}

func TestLockCard_BlocksEventProcessing(t *testing.T) {
	f := newTestBackend()
	f.rules = []*domain.Rule{newRule("r1", 1)}
	e := newTestEngine(f)

	unlock := e.LockCard("card-1")

	done := make(chan error, 1)
	go func() {
		done <- e.ProcessEvent(context.Background(), priceEvent(6.2))
	}()

	select {
	case <-done:
		t.Fatal("event processed while the card lock was held externally")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-done)
	assert.Len(t, f.executions, 1)
}

func TestProcessEvent_InvalidTrigger(t *testing.T) {
	e := newTestEngine(newTestBackend())
	err := e.ProcessEvent(context.Background(), &Event{Trigger: "BOGUS", CardID: "card-1"})
	assert.Error(t, err)
}

func TestProcessEvent_UnknownCard(t *testing.T) {
	e := newTestEngine(newTestBackend())
	err := e.ProcessEvent(context.Background(), &Event{Trigger: domain.TriggerPriceUpdate, CardID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessBatch_SerializesPerCard(t *testing.T) {
	f := newTestBackend()
	f.rules = []*domain.Rule{newRule("r1", 1)}
	e := newTestEngine(f)

	events := make([]*Event, 8)
	for i := range events {
		events[i] = priceEvent(3.0)
	}

	err := e.ProcessBatch(context.Background(), events, 4)
	require.NoError(t, err)

	assert.Len(t, f.executions, 8)
	assert.Zero(t, atomic.LoadInt32(&f.overlaps), "events for one card must not interleave")
}

func TestProcessBatch_CollectsErrors(t *testing.T) {
	f := newTestBackend()
	e := newTestEngine(f)

	events := []*Event{
		priceEvent(3.0),
		{Trigger: domain.TriggerPriceUpdate, CardID: "missing"},
	}

	err := e.ProcessBatch(context.Background(), events, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
