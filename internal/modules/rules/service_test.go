package rules

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	service := NewService(NewRepository(newTestDB(t), zerolog.Nop()), zerolog.Nop())
	service.SetClock(func() time.Time {
		return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	})
	return service
}

func validInput() Input {
	return Input{
		UserID:              "user-1",
		Name:                "surge watch",
		Type:                string(domain.RuleTypeCustom),
		ConditionExpression: "changePercent > 5",
		Trigger:             string(domain.TriggerPriceUpdate),
		TargetStatus:        string(domain.StatusReadyToBuy),
		CooldownSeconds:     300,
		Priority:            1,
	}
}

func TestService_Create_Defaults(t *testing.T) {
	service := newTestService(t)

	rule, err := service.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.Enabled, "rules default to enabled")
	assert.True(t, rule.SendNotification, "notifications default to on")
	assert.Nil(t, rule.LastExecutedAt)
	assert.Zero(t, rule.TriggerCount)
}

func TestService_Create_Validation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(*Input)
		wantField string
	}{
		{"missing user", func(in *Input) { in.UserID = "" }, "userId"},
		{"blank name", func(in *Input) { in.Name = "   " }, "name"},
		{"unknown rule type", func(in *Input) { in.Type = "MYSTERY" }, "ruleType"},
		{"unknown trigger", func(in *Input) { in.Trigger = "ON_OPEN" }, "triggerEvent"},
		{"unknown target status", func(in *Input) { in.TargetStatus = "BOUGHT" }, "targetStatus"},
		{"cooldown below minimum", func(in *Input) { in.CooldownSeconds = 59 }, "cooldownSeconds"},
		{"zero priority", func(in *Input) { in.Priority = 0 }, "priority"},
		{"negative priority", func(in *Input) { in.Priority = -2 }, "priority"},
		{"custom without expression", func(in *Input) { in.ConditionExpression = "  " }, "conditionExpression"},
		{"custom with bad expression", func(in *Input) { in.ConditionExpression = "price >" }, "conditionExpression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput()
			tt.mutate(&input)

			_, err := service.Create(ctx, input)
			var validationErr *domain.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
		})
	}
}

func TestService_Create_MinimumCooldownAccepted(t *testing.T) {
	service := newTestService(t)

	input := validInput()
	input.CooldownSeconds = domain.MinCooldownSeconds
	rule, err := service.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, domain.MinCooldownSeconds, rule.CooldownSeconds)
}

func TestService_Create_NonCustomSkipsExpressionCheck(t *testing.T) {
	service := newTestService(t)

	input := validInput()
	input.Type = string(domain.RuleTypePriceThreshold)
	input.ConditionExpression = ""
	input.Parameters = `{"field":"price","operator":">=","value":600}`

	rule, err := service.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleTypePriceThreshold, rule.Type)
}

func TestService_Update(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	rule, err := service.Create(ctx, validInput())
	require.NoError(t, err)

	input := validInput()
	input.Name = "renamed"
	disabled := false
	input.Enabled = &disabled

	updated, err := service.Update(ctx, rule.ID, input)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Enabled)

	// Updates revalidate.
	bad := validInput()
	bad.CooldownSeconds = 10
	_, err = service.Update(ctx, rule.ID, bad)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = service.Update(ctx, "missing", validInput())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_SetEnabledAndDelete(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	rule, err := service.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, service.SetEnabled(ctx, rule.ID, false))
	got, err := service.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, service.Delete(ctx, rule.ID))
	_, err = service.Get(ctx, rule.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
