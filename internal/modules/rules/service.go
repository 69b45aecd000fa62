package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
	"github.com/aquilalabs/watchdeck/internal/engine"
)

// Service implements rule lifecycle operations.
type Service struct {
	repo *Repository
	now  func() time.Time
	log  zerolog.Logger
}

// NewService creates a new rule service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
		log:  log.With().Str("component", "rule_service").Logger(),
	}
}

// SetClock overrides the service's time source for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Input carries the user-settable fields of a rule.
type Input struct {
	UserID               string `json:"userId"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Type                 string `json:"ruleType"`
	ConditionExpression  string `json:"conditionExpression"`
	Trigger              string `json:"triggerEvent"`
	TargetStatus         string `json:"targetStatus"`
	Enabled              *bool  `json:"enabled"`
	CooldownSeconds      int    `json:"cooldownSeconds"`
	Priority             int    `json:"priority"`
	SendNotification     *bool  `json:"sendNotification"`
	NotificationTemplate string `json:"notificationTemplate"`
	Tags                 string `json:"tags"`
	Parameters           string `json:"parameters"`
}

func (s *Service) validate(input *Input) error {
	input.Name = strings.TrimSpace(input.Name)

	if input.UserID == "" {
		return domain.NewValidationError("userId", "must not be empty")
	}
	if input.Name == "" {
		return domain.NewValidationError("name", "must not be empty")
	}

	ruleType := domain.RuleType(input.Type)
	switch ruleType {
	case domain.RuleTypePriceThreshold, domain.RuleTypeVolumeSpike, domain.RuleTypeCustom:
	default:
		return domain.NewValidationError("ruleType", fmt.Sprintf("unknown rule type %q", input.Type))
	}

	if !domain.TriggerEvent(input.Trigger).Valid() {
		return domain.NewValidationError("triggerEvent", fmt.Sprintf("unknown trigger event %q", input.Trigger))
	}
	if !domain.CardStatus(input.TargetStatus).Valid() {
		return domain.NewValidationError("targetStatus", fmt.Sprintf("unknown status %q", input.TargetStatus))
	}

	if input.CooldownSeconds < domain.MinCooldownSeconds {
		return domain.NewValidationError("cooldownSeconds",
			fmt.Sprintf("must be at least %d seconds", domain.MinCooldownSeconds))
	}
	if input.Priority < 1 {
		return domain.NewValidationError("priority", "must be a positive integer")
	}

	// CUSTOM rules carry their whole condition in the expression, so a
	// syntax error is caught here rather than at first evaluation.
	if ruleType == domain.RuleTypeCustom {
		if strings.TrimSpace(input.ConditionExpression) == "" {
			return domain.NewValidationError("conditionExpression", "must not be empty for CUSTOM rules")
		}
		if err := engine.ValidateExpression(input.ConditionExpression); err != nil {
			return domain.NewValidationError("conditionExpression", err.Error())
		}
	}

	return nil
}

// Create validates and inserts a new rule.
func (s *Service) Create(ctx context.Context, input Input) (*domain.Rule, error) {
	if err := s.validate(&input); err != nil {
		return nil, err
	}

	now := s.now()
	rule := &domain.Rule{
		ID:                   uuid.New().String(),
		UserID:               input.UserID,
		Name:                 input.Name,
		Description:          input.Description,
		Type:                 domain.RuleType(input.Type),
		ConditionExpression:  input.ConditionExpression,
		Trigger:              domain.TriggerEvent(input.Trigger),
		TargetStatus:         domain.CardStatus(input.TargetStatus),
		Enabled:              input.Enabled == nil || *input.Enabled,
		CooldownSeconds:      input.CooldownSeconds,
		Priority:             input.Priority,
		SendNotification:     input.SendNotification == nil || *input.SendNotification,
		NotificationTemplate: input.NotificationTemplate,
		Tags:                 input.Tags,
		Parameters:           input.Parameters,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}

	return rule, nil
}

// Get returns a rule by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Rule, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of the user's rules.
func (s *Service) List(ctx context.Context, userID string, page domain.PageRequest) (*domain.Page[*domain.Rule], error) {
	return s.repo.ListByUser(ctx, userID, page)
}

// Update validates and replaces a rule's settings. Execution state carries
// over untouched.
func (s *Service) Update(ctx context.Context, id string, input Input) (*domain.Rule, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.UserID == "" {
		input.UserID = existing.UserID
	}
	if err := s.validate(&input); err != nil {
		return nil, err
	}

	existing.Name = input.Name
	existing.Description = input.Description
	existing.Type = domain.RuleType(input.Type)
	existing.ConditionExpression = input.ConditionExpression
	existing.Trigger = domain.TriggerEvent(input.Trigger)
	existing.TargetStatus = domain.CardStatus(input.TargetStatus)
	if input.Enabled != nil {
		existing.Enabled = *input.Enabled
	}
	existing.CooldownSeconds = input.CooldownSeconds
	existing.Priority = input.Priority
	if input.SendNotification != nil {
		existing.SendNotification = *input.SendNotification
	}
	existing.NotificationTemplate = input.NotificationTemplate
	existing.Tags = input.Tags
	existing.Parameters = input.Parameters
	existing.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}

	return existing, nil
}

// SetEnabled flips a rule on or off.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.repo.SetEnabled(ctx, id, enabled, s.now())
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
