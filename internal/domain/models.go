// Package domain contains the core entities shared across watchdeck modules.
// The domain layer is pure: no database, HTTP, or client dependencies.
package domain

import "time"

// CardStatus is the workflow state of a tracked card.
// The set is closed and ordered by workflow, not by value.
type CardStatus string

const (
	StatusWatch      CardStatus = "WATCH"
	StatusReadyToBuy CardStatus = "READY_TO_BUY"
	StatusHold       CardStatus = "HOLD"
	StatusSell       CardStatus = "SELL"
	StatusAlerts     CardStatus = "ALERTS"
)

// AllStatuses lists every valid card status in workflow order.
var AllStatuses = []CardStatus{StatusWatch, StatusReadyToBuy, StatusHold, StatusSell, StatusAlerts}

// Valid reports whether s is one of the five workflow statuses.
func (s CardStatus) Valid() bool {
	switch s {
	case StatusWatch, StatusReadyToBuy, StatusHold, StatusSell, StatusAlerts:
		return true
	}
	return false
}

// SystemActor is the reserved actor id recorded for rule-driven status changes.
const SystemActor = "system"

// MaxNoteLength bounds the free-text note on a card.
const MaxNoteLength = 2000

// Card is a tracked instrument owned by a user.
type Card struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	StockCode string     `json:"stockCode"`
	StockName string     `json:"stockName"`
	Status    CardStatus `json:"status"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// RuleType discriminates the evaluation strategy of a rule.
type RuleType string

const (
	// RuleTypePriceThreshold compares a single snapshot field against a
	// bound taken from the rule parameters.
	RuleTypePriceThreshold RuleType = "PRICE_THRESHOLD"
	// RuleTypeVolumeSpike fires when volume deviates from its recent
	// history by a configurable number of standard deviations.
	RuleTypeVolumeSpike RuleType = "VOLUME_SPIKE"
	// RuleTypeCustom evaluates the rule's condition expression.
	RuleTypeCustom RuleType = "CUSTOM"
)

// TriggerEvent is the class of incoming occurrence a rule listens for.
type TriggerEvent string

const (
	TriggerPriceUpdate  TriggerEvent = "PRICE_UPDATE"
	TriggerStatusChange TriggerEvent = "STATUS_CHANGE_REQUEST"
	TriggerTimeBased    TriggerEvent = "TIME_BASED"
)

// Valid reports whether t is a known trigger event.
func (t TriggerEvent) Valid() bool {
	switch t {
	case TriggerPriceUpdate, TriggerStatusChange, TriggerTimeBased:
		return true
	}
	return false
}

// MinCooldownSeconds is the lowest cooldown a rule may carry.
const MinCooldownSeconds = 60

// Rule is a named automation unit: a condition plus a target status.
// LastExecutedAt and TriggerCount are mutated only by the engine after a
// completed (non-skipped) execution.
type Rule struct {
	ID                   string       `json:"id"`
	UserID               string       `json:"userId"`
	Name                 string       `json:"name"`
	Description          string       `json:"description,omitempty"`
	Type                 RuleType     `json:"ruleType"`
	ConditionExpression  string       `json:"conditionExpression"`
	Trigger              TriggerEvent `json:"triggerEvent"`
	TargetStatus         CardStatus   `json:"targetStatus"`
	Enabled              bool         `json:"enabled"`
	CooldownSeconds      int          `json:"cooldownSeconds"`
	Priority             int          `json:"priority"`
	SendNotification     bool         `json:"sendNotification"`
	NotificationTemplate string       `json:"notificationTemplate,omitempty"`
	Tags                 string       `json:"tags,omitempty"`       // JSON array
	Parameters           string       `json:"parameters,omitempty"` // JSON object, variant specific
	LastExecutedAt       *time.Time   `json:"lastExecutedAt,omitempty"`
	TriggerCount         int64        `json:"triggerCount"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// CooldownElapsed reports whether the rule is past its cooldown window at now.
// A rule that has never fired is always eligible.
func (r *Rule) CooldownElapsed(now time.Time) bool {
	if r.LastExecutedAt == nil {
		return true
	}
	return now.Sub(*r.LastExecutedAt) >= time.Duration(r.CooldownSeconds)*time.Second
}

// ExecutionStatus is the outcome of one rule evaluation attempt.
type ExecutionStatus string

const (
	ExecutionSuccess         ExecutionStatus = "SUCCESS"
	ExecutionConditionNotMet ExecutionStatus = "CONDITION_NOT_MET"
	ExecutionSkippedCooldown ExecutionStatus = "SKIPPED_COOLDOWN"
	ExecutionFailed          ExecutionStatus = "FAILED"
)

// RuleExecution is an immutable record of one evaluation attempt.
// Exactly one is created per (rule, event) admission; it is never mutated
// apart from the notification_sent flag set by the dispatcher.
type RuleExecution struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"ruleId"`
	CardID           string          `json:"cardId"`
	Status           ExecutionStatus `json:"status"`
	PreviousStatus   *CardStatus     `json:"previousStatus,omitempty"`
	NewStatus        *CardStatus     `json:"newStatus,omitempty"`
	Snapshot         *Snapshot       `json:"snapshot,omitempty"`
	Message          string          `json:"message"`
	NotificationSent bool            `json:"notificationSent"`
	ElapsedMs        int64           `json:"executionTimeMs"`
	ExecutedAt       time.Time       `json:"executedAt"`
}

// ActionCardStatusChange is the audit action recorded for status transitions.
const ActionCardStatusChange = "CARD_STATUS_CHANGE"

// AuditEntry is an immutable record of one accepted card status change.
type AuditEntry struct {
	ID         string     `json:"id"`
	ActorID    string     `json:"actorId"`
	CardID     string     `json:"cardId"`
	Action     string     `json:"action"`
	FromStatus CardStatus `json:"fromStatus"`
	ToStatus   CardStatus `json:"toStatus"`
	Reason     string     `json:"reason"`
	TraceID    string     `json:"traceId"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NotificationType classifies a user-facing notification.
type NotificationType string

const (
	NotificationInfo          NotificationType = "INFO"
	NotificationWarning       NotificationType = "WARNING"
	NotificationRuleTriggered NotificationType = "RULE_TRIGGERED"
)

// Notification is a user-facing message derived from a successful rule
// firing. ExecutionID is the idempotency key: at most one notification
// exists per rule execution.
type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	RuleID      string           `json:"ruleId,omitempty"`
	CardID      string           `json:"cardId,omitempty"`
	StockCode   string           `json:"stockCode,omitempty"`
	ExecutionID string           `json:"executionId,omitempty"`
	Metadata    string           `json:"metadata,omitempty"`
	Read        bool             `json:"isRead"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Snapshot is point-in-time market data used as evaluation context.
// It stays fixed for the whole of one event batch.
type Snapshot struct {
	Code          string    `json:"code" msgpack:"code"`
	Name          string    `json:"name" msgpack:"name"`
	Price         float64   `json:"price" msgpack:"price"`
	Open          float64   `json:"open" msgpack:"open"`
	High          float64   `json:"high" msgpack:"high"`
	Low           float64   `json:"low" msgpack:"low"`
	PreviousClose float64   `json:"previousClose" msgpack:"previous_close"`
	ChangePercent float64   `json:"changePercent" msgpack:"change_percent"`
	Volume        int64     `json:"volume" msgpack:"volume"`
	FetchedAt     time.Time `json:"fetchedAt" msgpack:"fetched_at"`
}

// Change returns the absolute price change against the previous close.
func (s *Snapshot) Change() float64 {
	return s.Price - s.PreviousClose
}

// IndicatorSet carries technical indicators derived from price history.
// Pointers distinguish "not computable" (insufficient history) from zero.
type IndicatorSet struct {
	MA5           *float64 `json:"ma5,omitempty"`
	MA10          *float64 `json:"ma10,omitempty"`
	MA20          *float64 `json:"ma20,omitempty"`
	MA60          *float64 `json:"ma60,omitempty"`
	RSI14         *float64 `json:"rsi14,omitempty"`
	MACDLine      *float64 `json:"macdLine,omitempty"`
	MACDSignal    *float64 `json:"macdSignal,omitempty"`
	MACDHistogram *float64 `json:"macdHistogram,omitempty"`
	KdK           *float64 `json:"kdK,omitempty"`
	KdD           *float64 `json:"kdD,omitempty"`
	AvgVolume     *float64 `json:"avgVolume,omitempty"`
	VolumeStdDev  *float64 `json:"volumeStdDev,omitempty"`
	VolumeRatio   *float64 `json:"volumeRatio,omitempty"`
}

// RuleNotificationEvent is a transient value object carrying everything the
// dispatcher needs. It is produced by the engine after the core transaction
// commits and is never persisted.
type RuleNotificationEvent struct {
	UserID         string     `json:"userId"`
	RuleID         string     `json:"ruleId"`
	RuleName       string     `json:"ruleName"`
	CardID         string     `json:"cardId"`
	ExecutionID    string     `json:"executionId"`
	StockCode      string     `json:"stockCode"`
	StockName      string     `json:"stockName"`
	PreviousStatus CardStatus `json:"previousStatus"`
	NewStatus      CardStatus `json:"newStatus"`
	Message        string     `json:"message"`
	TriggeredAt    time.Time  `json:"triggeredAt"`
}
