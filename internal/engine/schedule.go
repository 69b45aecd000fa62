package engine

import (
	"sort"
	"time"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Order sorts rules into execution order: ascending priority first, then
// creation time, then id. The sort is stable so equal rules keep their
// incoming order. The input slice is sorted in place and returned.
func Order(rules []*domain.Rule) []*domain.Rule {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// Admit applies the cooldown gate. A rule inside its cooldown window is not
// evaluated at all; the caller records the skip and leaves the rule's
// execution state untouched.
func Admit(rule *domain.Rule, now time.Time) bool {
	return rule.CooldownElapsed(now)
}
