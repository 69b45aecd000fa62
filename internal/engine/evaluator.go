package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Evaluator decides whether a rule's condition holds against a context.
// Implementations must be pure and safe for concurrent use.
type Evaluator interface {
	Evaluate(rule *domain.Rule, ctx *Context) (bool, error)
}

type evaluatorFunc func(rule *domain.Rule, ctx *Context) (bool, error)

func (f evaluatorFunc) Evaluate(rule *domain.Rule, ctx *Context) (bool, error) {
	return f(rule, ctx)
}

// NewEvaluator returns the default evaluator covering every rule type.
func NewEvaluator() Evaluator {
	return evaluatorFunc(func(rule *domain.Rule, ctx *Context) (bool, error) {
		switch rule.Type {
		case domain.RuleTypePriceThreshold:
			return evaluatePriceThreshold(rule, ctx)
		case domain.RuleTypeVolumeSpike:
			return evaluateVolumeSpike(rule, ctx)
		case domain.RuleTypeCustom:
			return EvaluateExpression(rule.ConditionExpression, ctx)
		}
		return false, fmt.Errorf("unknown rule type %q", rule.Type)
	})
}

// priceThresholdParams is the parameter shape for PRICE_THRESHOLD rules.
type priceThresholdParams struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

func evaluatePriceThreshold(rule *domain.Rule, ctx *Context) (bool, error) {
	params := priceThresholdParams{Field: "price", Operator: ">="}
	if strings.TrimSpace(rule.Parameters) != "" {
		if err := json.Unmarshal([]byte(rule.Parameters), &params); err != nil {
			return false, fmt.Errorf("failed to parse rule parameters: %w", err)
		}
		if params.Field == "" {
			params.Field = "price"
		}
	}

	clause := &clauseNode{field: params.Field, op: params.Operator, lit: numValue(params.Value)}
	return clause.eval(rule.Parameters, ctx)
}

// volumeSpikeParams is the parameter shape for VOLUME_SPIKE rules. Multiplier
// is the number of standard deviations above the recent mean that counts as a
// spike.
type volumeSpikeParams struct {
	Multiplier float64 `json:"multiplier"`
}

func evaluateVolumeSpike(rule *domain.Rule, ctx *Context) (bool, error) {
	params := volumeSpikeParams{Multiplier: 2}
	if strings.TrimSpace(rule.Parameters) != "" {
		if err := json.Unmarshal([]byte(rule.Parameters), &params); err != nil {
			return false, fmt.Errorf("failed to parse rule parameters: %w", err)
		}
		if params.Multiplier <= 0 {
			params.Multiplier = 2
		}
	}

	if ctx.Snapshot == nil {
		return false, evalErrorf(rule.ConditionExpression, "no snapshot available for volume spike rule")
	}
	if ctx.Indicators == nil || ctx.Indicators.AvgVolume == nil || ctx.Indicators.VolumeStdDev == nil {
		return false, evalErrorf(rule.ConditionExpression, "insufficient volume history")
	}
	stddev := *ctx.Indicators.VolumeStdDev
	if stddev == 0 {
		return false, evalErrorf(rule.ConditionExpression, "volume history has zero variance")
	}

	zScore := (float64(ctx.Snapshot.Volume) - *ctx.Indicators.AvgVolume) / stddev
	return zScore >= params.Multiplier, nil
}
