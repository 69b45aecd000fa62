// Package engine evaluates rules against card state and market data and
// applies the resulting status transitions. It owns the ordering, cooldown,
// and per-card serialization guarantees; persistence is delegated to the
// stores it is constructed with.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// CardStore loads cards for evaluation.
type CardStore interface {
	GetByID(ctx context.Context, id string) (*domain.Card, error)
}

// RuleStore loads candidate rules and records completed executions on them.
type RuleStore interface {
	ListEnabledByTrigger(ctx context.Context, userID string, trigger domain.TriggerEvent) ([]*domain.Rule, error)
	MarkExecuted(ctx context.Context, ruleID string, executedAt time.Time) error
}

// TransitionApplier applies a card status change together with its audit
// record in one transaction.
type TransitionApplier interface {
	Transition(ctx context.Context, cardID string, target domain.CardStatus, actorID, reason, traceID string) (*domain.Card, error)
}

// ExecutionRecorder persists rule execution records.
type ExecutionRecorder interface {
	Record(ctx context.Context, exec *domain.RuleExecution) error
}

// IndicatorSource provides derived indicators for a stock. A source may
// return a partially populated set when history is short.
type IndicatorSource interface {
	Latest(ctx context.Context, stockCode string) (*domain.IndicatorSet, error)
}

// SnapshotSource returns the last stored quote for a stock. Used when an
// event carries no snapshot of its own.
type SnapshotSource interface {
	Get(ctx context.Context, stockCode string) (*domain.Snapshot, error)
}

// NotificationQueue accepts notification events for asynchronous dispatch.
// Enqueue must not block rule processing.
type NotificationQueue interface {
	Enqueue(event *domain.RuleNotificationEvent)
}

// Event is one occurrence the engine reacts to. Snapshot is fixed by the
// producer and shared by every rule evaluated for this event.
type Event struct {
	Trigger  domain.TriggerEvent
	CardID   string
	Snapshot *domain.Snapshot
	TraceID  string
}

// Engine coordinates rule evaluation for incoming events.
type Engine struct {
	cards       CardStore
	rules       RuleStore
	transitions TransitionApplier
	executions  ExecutionRecorder
	indicators  IndicatorSource
	snapshots   SnapshotSource
	queue       NotificationQueue
	evaluator   Evaluator
	locks       *cardLocks
	now         func() time.Time
	logger      zerolog.Logger
}

// New builds an engine. indicators, snapshots, and queue may be nil; rules
// evaluated without them simply see fewer fields and produce no
// notifications.
func New(cards CardStore, rules RuleStore, transitions TransitionApplier, executions ExecutionRecorder, indicators IndicatorSource, snapshots SnapshotSource, queue NotificationQueue, logger zerolog.Logger) *Engine {
	return &Engine{
		cards:       cards,
		rules:       rules,
		transitions: transitions,
		executions:  executions,
		indicators:  indicators,
		snapshots:   snapshots,
		queue:       queue,
		evaluator:   NewEvaluator(),
		locks:       newCardLocks(),
		now:         time.Now,
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// SetClock overrides the engine's time source. Used by tests and by replay
// tooling; production code never calls it.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// LockCard acquires the card's serialization lock and returns the unlock
// function. Callers that change card state outside ProcessEvent hold this
// lock so their read-modify-write cannot interleave with rule evaluation.
func (e *Engine) LockCard(cardID string) func() {
	lock := e.locks.get(cardID)
	lock.Lock()
	return lock.Unlock
}

// ProcessEvent evaluates every matching enabled rule for one event. Rules run
// strictly in priority order under the card's lock. A failing rule is
// recorded and does not stop later rules.
func (e *Engine) ProcessEvent(ctx context.Context, event *Event) error {
	if !event.Trigger.Valid() {
		return fmt.Errorf("invalid trigger event %q", event.Trigger)
	}

	lock := e.locks.get(event.CardID)
	lock.Lock()
	defer lock.Unlock()

	card, err := e.cards.GetByID(ctx, event.CardID)
	if err != nil {
		return fmt.Errorf("failed to load card %s: %w", event.CardID, err)
	}

	rules, err := e.rules.ListEnabledByTrigger(ctx, card.UserID, event.Trigger)
	if err != nil {
		return fmt.Errorf("failed to load rules for card %s: %w", event.CardID, err)
	}
	if len(rules) == 0 {
		return nil
	}

	Order(rules)

	snapshot := event.Snapshot
	if snapshot == nil && e.snapshots != nil {
		stored, err := e.snapshots.Get(ctx, card.StockCode)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Never fetched; rules referencing price fields will fail.
		case err != nil:
			e.logger.Warn().Err(err).Str("stock_code", card.StockCode).Msg("stored snapshot unavailable, evaluating without it")
		default:
			snapshot = stored
		}
	}

	evalCtx := &Context{Card: card, Snapshot: snapshot}
	if e.indicators != nil {
		indicators, err := e.indicators.Latest(ctx, card.StockCode)
		if err != nil {
			e.logger.Warn().Err(err).Str("stock_code", card.StockCode).Msg("indicators unavailable, evaluating without them")
		} else {
			evalCtx.Indicators = indicators
		}
	}

	for _, rule := range rules {
		updated := e.processRule(ctx, rule, evalCtx, event)
		if updated != nil {
			// Later rules in the same batch see the transition
			// applied by an earlier one.
			evalCtx.Card = updated
		}
	}

	return nil
}

// processRule runs a single rule to completion and returns the updated card
// when a transition was applied. Every admitted evaluation produces exactly
// one execution record.
func (e *Engine) processRule(ctx context.Context, rule *domain.Rule, evalCtx *Context, event *Event) *domain.Card {
	started := e.now()
	card := evalCtx.Card

	exec := &domain.RuleExecution{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		CardID:     card.ID,
		Snapshot:   evalCtx.Snapshot,
		ExecutedAt: started,
	}
	prev := card.Status
	exec.PreviousStatus = &prev

	var updated *domain.Card

	if !Admit(rule, started) {
		exec.Status = domain.ExecutionSkippedCooldown
		exec.Message = "skipped: cooldown active"
	} else {
		matched, err := e.evaluator.Evaluate(rule, evalCtx)
		switch {
		case err != nil:
			exec.Status = domain.ExecutionFailed
			exec.Message = err.Error()
			e.logger.Error().Err(err).
				Str("rule_id", rule.ID).
				Str("card_id", card.ID).
				Msg("rule evaluation failed")
		case !matched:
			exec.Status = domain.ExecutionConditionNotMet
			exec.Message = "condition not met"
		case card.Status == rule.TargetStatus:
			exec.Status = domain.ExecutionConditionNotMet
			exec.Message = "card already in target status"
		default:
			updated = e.applyTransition(ctx, rule, card, event, exec)
		}
	}

	exec.ElapsedMs = e.now().Sub(started).Milliseconds()

	if err := e.executions.Record(ctx, exec); err != nil {
		e.logger.Error().Err(err).
			Str("rule_id", rule.ID).
			Str("card_id", card.ID).
			Msg("failed to record rule execution")
	}

	return updated
}

// applyTransition performs the status change and the bookkeeping a successful
// firing entails. The transition and its audit entry commit together; the
// cooldown only advances once the transition is durable.
func (e *Engine) applyTransition(ctx context.Context, rule *domain.Rule, card *domain.Card, event *Event, exec *domain.RuleExecution) *domain.Card {
	reason := fmt.Sprintf("rule %q triggered", rule.Name)
	updated, err := e.transitions.Transition(ctx, card.ID, rule.TargetStatus, domain.SystemActor, reason, event.TraceID)
	if err != nil {
		exec.Status = domain.ExecutionFailed
		exec.Message = fmt.Sprintf("transition failed: %v", err)
		e.logger.Error().Err(err).
			Str("rule_id", rule.ID).
			Str("card_id", card.ID).
			Str("target_status", string(rule.TargetStatus)).
			Msg("status transition failed")
		return nil
	}

	exec.Status = domain.ExecutionSuccess
	newStatus := updated.Status
	exec.NewStatus = &newStatus
	exec.Message = fmt.Sprintf("status changed from %s to %s", card.Status, updated.Status)

	if err := e.rules.MarkExecuted(ctx, rule.ID, exec.ExecutedAt); err != nil {
		e.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to advance rule cooldown")
	}

	e.logger.Info().
		Str("rule_id", rule.ID).
		Str("card_id", card.ID).
		Str("from", string(card.Status)).
		Str("to", string(updated.Status)).
		Str("trace_id", event.TraceID).
		Msg("rule fired")

	if rule.SendNotification && e.queue != nil {
		e.queue.Enqueue(&domain.RuleNotificationEvent{
			UserID:         card.UserID,
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			CardID:         card.ID,
			ExecutionID:    exec.ID,
			StockCode:      card.StockCode,
			StockName:      card.StockName,
			PreviousStatus: card.Status,
			NewStatus:      updated.Status,
			Message:        notificationMessage(rule, card, updated.Status),
			TriggeredAt:    exec.ExecutedAt,
		})
	}

	return updated
}

func notificationMessage(rule *domain.Rule, card *domain.Card, target domain.CardStatus) string {
	if rule.NotificationTemplate != "" {
		return rule.NotificationTemplate
	}
	return fmt.Sprintf("%s (%s) moved from %s to %s by rule %q", card.StockName, card.StockCode, card.Status, target, rule.Name)
}

// ProcessBatch fans events out across cards with bounded concurrency. Events
// for the same card still serialize through the card lock. The first context
// cancellation stops dispatching further events.
func (e *Engine) ProcessBatch(ctx context.Context, events []*Event, workers int) error {
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	done := make(chan error, len(events))
	dispatched := 0

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			break
		}
		sem <- struct{}{}
		dispatched++
		go func(ev *Event) {
			defer func() { <-sem }()
			done <- e.ProcessEvent(ctx, ev)
		}(event)
	}

	var errs []error
	for i := 0; i < dispatched; i++ {
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("batch processing: %w", errors.Join(errs...))
	}
	return ctx.Err()
}
