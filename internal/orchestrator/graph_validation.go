package orchestrator

import "fmt"

// validationRule is one agent's required-field/enum/numeric-range
// contract, per spec.md §6's authoritative table.
type validationRule struct {
	required    []string
	enums       map[string][]string
	scoreRanges map[string][2]float64
}

var agentRules = map[string]validationRule{
	"technical": {
		required: []string{"signal", "confidence"},
		enums: map[string][]string{
			"signal":     {"BUY", "SELL", "HOLD"},
			"confidence": {"HIGH", "MEDIUM", "LOW"},
		},
	},
	"qabba": {
		required: []string{"signal", "order_flow_bias"},
		enums: map[string][]string{
			"signal":          {"BUY_QABBA", "SELL_QABBA", "HOLD_QABBA"},
			"order_flow_bias": {"buying", "selling", "neutral"},
		},
	},
	"sentiment": {
		required: []string{"overall_sentiment", "confidence_score"},
		enums: map[string][]string{
			"overall_sentiment": {"POSITIVE", "NEGATIVE", "NEUTRAL"},
		},
		scoreRanges: map[string][2]float64{
			"confidence_score": {0, 1},
		},
	},
	"visual": {
		required: []string{"action", "trend_direction"},
		enums: map[string][]string{
			"action":          {"BUY", "SELL", "HOLD"},
			"trend_direction": {"bullish", "bearish", "neutral"},
		},
	},
	"decision": {
		required: []string{"final_decision", "confidence_in_decision"},
		enums: map[string][]string{
			"final_decision":         {"BUY", "SELL", "HOLD"},
			"confidence_in_decision": {"HIGH", "MEDIUM", "LOW"},
		},
	},
	"risk": {
		required: []string{"verdict", "risk_score"},
		enums: map[string][]string{
			"verdict": {"APPROVE", "APPROVE_REDUCED", "VETO", "DELAY"},
		},
		scoreRanges: map[string][2]float64{
			"risk_score": {0, 10},
		},
	},
}

// validateReport checks normalized against agent's rule set, returning a
// human-readable error per violation (used verbatim as corrective
// feedback in the next retry's prompt).
func validateReport(agent string, normalized map[string]interface{}) []string {
	rule, ok := agentRules[agent]
	if !ok {
		return nil
	}
	if normalized["parse_error"] == true {
		return []string{"response did not contain a parsable JSON object"}
	}

	var errs []string
	for _, field := range rule.required {
		if _, ok := normalized[field]; !ok {
			errs = append(errs, fmt.Sprintf("missing required field %q", field))
		}
	}

	for field, allowed := range rule.enums {
		v, ok := normalized[field]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("field %q must be a string", field))
			continue
		}
		if !containsStr(allowed, s) {
			errs = append(errs, fmt.Sprintf("field %q = %q is not one of %v", field, s, allowed))
		}
	}

	for field, rng := range rule.scoreRanges {
		v, ok := normalized[field]
		if !ok {
			continue
		}
		f, ok := toFloat64(v)
		if !ok {
			errs = append(errs, fmt.Sprintf("field %q must be numeric", field))
			continue
		}
		if f < rng[0] || f > rng[1] {
			errs = append(errs, fmt.Sprintf("field %q = %v is out of range [%v, %v]", field, f, rng[0], rng[1]))
		}
	}

	return errs
}
