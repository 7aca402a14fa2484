package orchestrator

import (
	"encoding/json"
	"fmt"
)

const technicalSystemPrompt = `You are a technical analysis agent for an algorithmic trading system.
Given an indicator snapshot, respond with a single JSON object with keys:
"signal" (one of BUY, SELL, HOLD), "confidence" (one of HIGH, MEDIUM, LOW),
and "reasoning" (a short explanation). Respond with only the JSON object.`

const qabbaSystemPrompt = `You are an order-flow analysis agent ("QABBA") for an algorithmic trading system.
Given an indicator snapshot and microstructure metrics, respond with a single JSON object with keys:
"signal" (one of BUY_QABBA, SELL_QABBA, HOLD_QABBA), "order_flow_bias" (one of buying, selling, neutral),
and "reasoning". Respond with only the JSON object.`

const sentimentSystemPrompt = `You are a market sentiment agent for an algorithmic trading system.
Given a symbol and any available sentiment context, respond with a single JSON object with keys:
"overall_sentiment" (one of POSITIVE, NEGATIVE, NEUTRAL), "confidence_score" (a number in [0,1]),
and "reasoning". Respond with only the JSON object.`

const visualSystemPrompt = `You are a chart-pattern agent for an algorithmic trading system.
Given a description of a rendered chart, respond with a single JSON object with keys:
"action" (one of BUY, SELL, HOLD), "trend_direction" (one of bullish, bearish, neutral),
and "reasoning". Respond with only the JSON object.`

const decisionSystemPrompt = `You are the decision agent for an algorithmic trading system, synthesizing
upstream analyst reports into one final call. Respond with a single JSON object with keys:
"final_decision" (one of BUY, SELL, HOLD), "confidence_in_decision" (one of HIGH, MEDIUM, LOW),
and "reasoning". Respond with only the JSON object.`

const riskSystemPrompt = `You are the risk agent for an algorithmic trading system, the last gate before
an order is placed. Respond with a single JSON object with keys:
"verdict" (one of APPROVE, APPROVE_REDUCED, VETO, DELAY), "risk_score" (a number in [0,10]),
and "reasoning". Respond with only the JSON object.`

func marshalCompact(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func technicalUserPrompt(state *CycleState) string {
	return fmt.Sprintf("Symbol: %s\nTimeframe: %s\nPrice: %.8f\nIndicators: %s",
		state.Symbol, state.Timeframe, state.Price, marshalCompact(state.Indicators))
}

func qabbaUserPrompt(state *CycleState) string {
	return fmt.Sprintf("Symbol: %s\nPrice: %.8f\nIndicators: %s\nMicrostructure: %s",
		state.Symbol, state.Price, marshalCompact(state.Indicators), marshalCompact(state.Microstructure))
}

func sentimentUserPrompt(state *CycleState) string {
	return fmt.Sprintf("Symbol: %s\nCurrent price: %.8f", state.Symbol, state.Price)
}

func visualUserPrompt(state *CycleState) string {
	return fmt.Sprintf("Symbol: %s\nTimeframe: %s\n(chart artifact rendered externally; describe the implied trend from the indicator snapshot if no chart is attached)\nIndicators: %s",
		state.Symbol, state.Timeframe, marshalCompact(state.Indicators))
}

func decisionUserPrompt(state *CycleState) string {
	parts := fmt.Sprintf("Symbol: %s\nTechnical: %s\nQabba: %s",
		state.Symbol, marshalCompact(state.TechnicalReport), marshalCompact(state.QabbaReport))
	if state.SentimentReport != nil {
		parts += fmt.Sprintf("\nSentiment: %s", marshalCompact(state.SentimentReport))
	}
	if state.VisualReport != nil {
		parts += fmt.Sprintf("\nVisual: %s", marshalCompact(state.VisualReport))
	}
	return parts
}

func riskUserPrompt(state *CycleState) string {
	return fmt.Sprintf("Symbol: %s\nDecision: %s\nIndicators: %s",
		state.Symbol, marshalCompact(state.DecisionReport), marshalCompact(state.Indicators))
}
