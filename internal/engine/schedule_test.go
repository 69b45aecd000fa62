package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

func TestOrder_PriorityThenCreatedAtThenID(t *testing.T) {
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	ruleC := &domain.Rule{ID: "c", Priority: 2, CreatedAt: base}
	ruleA := &domain.Rule{ID: "a", Priority: 1, CreatedAt: base.Add(time.Hour)}
	ruleB := &domain.Rule{ID: "b", Priority: 1, CreatedAt: base}
	ruleD := &domain.Rule{ID: "d", Priority: 1, CreatedAt: base}

	ordered := Order([]*domain.Rule{ruleC, ruleA, ruleD, ruleB})

	ids := make([]string, len(ordered))
	for i, r := range ordered {
		ids[i] = r.ID
	}

	// Priority 1 first; within it the older rule wins, then id breaks the
	// remaining tie.
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestOrder_Deterministic(t *testing.T) {
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	rules := []*domain.Rule{
		{ID: "z", Priority: 3, CreatedAt: base},
		{ID: "y", Priority: 3, CreatedAt: base},
		{ID: "x", Priority: 3, CreatedAt: base},
	}

	first := Order(append([]*domain.Rule(nil), rules...))
	second := Order([]*domain.Rule{rules[2], rules[0], rules[1]})

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestAdmit_CooldownBoundary(t *testing.T) {
	lastExec := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	rule := &domain.Rule{CooldownSeconds: 60, LastExecutedAt: &lastExec}

	assert.False(t, Admit(rule, lastExec.Add(59*time.Second)))
	assert.True(t, Admit(rule, lastExec.Add(60*time.Second)))
	assert.True(t, Admit(rule, lastExec.Add(61*time.Second)))

	fresh := &domain.Rule{CooldownSeconds: 60}
	assert.True(t, Admit(fresh, lastExec))
}
