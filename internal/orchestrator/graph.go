package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"github.com/coldvault/fenixcore/internal/llm"
	"github.com/coldvault/fenixcore/internal/market"
	"github.com/coldvault/fenixcore/internal/memory"
)

// ReportMeta carries the bookkeeping fields every AgentReport variant
// exposes: how many generation attempts it took, what validation errors
// (if any) survived to the final attempt, and the reasoning store digest
// correlating it with its ReasoningEntry.
type ReportMeta struct {
	Attempts         int      `json:"_attempts"`
	ValidationErrors []string `json:"_validation_errors,omitempty"`
	ValidationFailed bool     `json:"_validation_failed,omitempty"`
	ReasoningDigest  string   `json:"_reasoning_digest,omitempty"`
}

// TechnicalReport is the technical node's output.
type TechnicalReport struct {
	ReportMeta
	Signal     string `json:"signal"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// QabbaReport is the qabba (order-flow) node's output.
type QabbaReport struct {
	ReportMeta
	Signal        string `json:"signal"`
	OrderFlowBias string `json:"order_flow_bias"`
	Reasoning     string `json:"reasoning,omitempty"`
}

// SentimentReport is the optional sentiment node's output.
type SentimentReport struct {
	ReportMeta
	OverallSentiment string  `json:"overall_sentiment"`
	ConfidenceScore  float64 `json:"confidence_score"`
	Reasoning        string  `json:"reasoning,omitempty"`
}

// VisualReport is the optional visual (chart) node's output.
type VisualReport struct {
	ReportMeta
	Action         string `json:"action"`
	TrendDirection string `json:"trend_direction"`
	Reasoning      string `json:"reasoning,omitempty"`
}

// DecisionReport is the decision node's output.
type DecisionReport struct {
	ReportMeta
	FinalDecision        string `json:"final_decision"`
	ConfidenceInDecision string `json:"confidence_in_decision"`
	Reasoning            string `json:"reasoning,omitempty"`
}

// RiskAssessmentReport is the risk node's output.
type RiskAssessmentReport struct {
	ReportMeta
	Verdict   string  `json:"verdict"`
	RiskScore float64 `json:"risk_score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// CycleState is the single mutable value threaded through one analysis
// cycle's graph nodes. Fields are written by at most one node each
// (technical_report, qabba_report, ...); concurrent optional branches
// write into local variables and are merged in after they rejoin, never
// interleaved.
type CycleState struct {
	Symbol         string
	Timeframe      string
	ThreadID       string
	Indicators     map[string]interface{}
	Price          float64
	Volume         float64
	Microstructure market.MicrostructureMetrics

	TechnicalReport    *TechnicalReport
	QabbaReport        *QabbaReport
	SentimentReport    *SentimentReport
	VisualReport       *VisualReport
	DecisionReport     *DecisionReport
	RiskAssessment     *RiskAssessmentReport
	FinalTradeDecision string
	ExecutionTimes     map[string]time.Duration

	mu sync.Mutex
}

func (s *CycleState) recordDuration(node string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ExecutionTimes == nil {
		s.ExecutionTimes = make(map[string]time.Duration)
	}
	s.ExecutionTimes[node] = d
}

// NewCycleState builds the initial state for one analysis cycle.
func NewCycleState(symbol, timeframe string, cycle int64, indicators map[string]interface{}, price, volume float64, micro market.MicrostructureMetrics) *CycleState {
	return &CycleState{
		Symbol:         symbol,
		Timeframe:      timeframe,
		ThreadID:       fmt.Sprintf("%s_%s_%d", symbol, timeframe, cycle),
		Indicators:     indicators,
		Price:          price,
		Volume:         volume,
		Microstructure: micro,
	}
}

// ReasoningRecorder is the narrow slice of the Reasoning Store (C3) the
// graph depends on.
type ReasoningRecorder interface {
	Store(ctx context.Context, agent, prompt string, normalized map[string]interface{}, rawResponse, backend string, latencyMs int64, metadata map[string]interface{}) (*memory.ReasoningEntry, error)
}

// GraphConfig tunes retry/backoff and which optional nodes run.
type GraphConfig struct {
	EnableSentiment bool
	EnableVisual    bool
	MaxRetries      int
	BackoffBase     time.Duration
}

// DefaultGraphConfig matches spec.md §4.4: retry up to 3 times with
// exponential backoff starting at 1s.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{MaxRetries: 3, BackoffBase: time.Second}
}

// Graph is the Agent Orchestration Graph (C4): a fixed node set
// (technical → qabba → [sentiment, visual] → decision → risk) invoked
// against an LLMClient, validated against per-agent rule tables, and
// traced into the Reasoning Store.
type Graph struct {
	llm         llm.LLMClient
	reasoning   ReasoningRecorder
	backendName string
	cfg         GraphConfig
}

// NewGraph builds a Graph. client is typically an llm.FallbackClient so
// provider rate-limit/model-invalid errors trigger fallback transparently;
// reasoning may be nil to disable tracing (e.g. in unit tests).
func NewGraph(client llm.LLMClient, reasoning ReasoningRecorder, backendName string, cfg GraphConfig) *Graph {
	return &Graph{llm: client, reasoning: reasoning, backendName: backendName, cfg: cfg}
}

// RunCycle executes the graph's node set against state, mutating and
// returning it. A failed technical or decision node emits a synthetic
// HOLD and short-circuits the remainder of the cycle, per spec.md §4.4's
// failure model.
func (g *Graph) RunCycle(ctx context.Context, state *CycleState) *CycleState {
	state.TechnicalReport = runTimedNode(ctx, state, "technical", g.runTechnical)
	if state.TechnicalReport.ValidationFailed {
		log.Warn().Str("thread_id", state.ThreadID).Msg("technical agent failed validation, emitting synthetic HOLD")
		state.FinalTradeDecision = "HOLD"
		return state
	}

	state.QabbaReport = runTimedNode(ctx, state, "qabba", g.runQabba)

	eg, egCtx := errgroup.WithContext(ctx)
	var sentimentRep *SentimentReport
	var visualRep *VisualReport
	if g.cfg.EnableSentiment {
		eg.Go(func() error {
			sentimentRep = runTimedNode(egCtx, state, "sentiment", g.runSentiment)
			return nil
		})
	}
	if g.cfg.EnableVisual {
		eg.Go(func() error {
			visualRep = runTimedNode(egCtx, state, "visual", g.runVisual)
			return nil
		})
	}
	_ = eg.Wait()

	if sentimentRep != nil {
		if sentimentRep.ValidationFailed {
			log.Warn().Str("thread_id", state.ThreadID).Msg("sentiment agent failed validation, skipping")
		} else {
			state.SentimentReport = sentimentRep
		}
	}
	if visualRep != nil {
		if visualRep.ValidationFailed {
			log.Warn().Str("thread_id", state.ThreadID).Msg("visual agent failed validation, skipping")
		} else {
			state.VisualReport = visualRep
		}
	}

	state.DecisionReport = runTimedNode(ctx, state, "decision", g.runDecision)
	if state.DecisionReport.ValidationFailed {
		log.Warn().Str("thread_id", state.ThreadID).Msg("decision agent failed validation, emitting synthetic HOLD")
		state.FinalTradeDecision = "HOLD"
		return state
	}
	state.FinalTradeDecision = state.DecisionReport.FinalDecision

	state.RiskAssessment = runTimedNode(ctx, state, "risk", g.runRisk)
	return state
}

// runTimedNode invokes a graph node, recording its wall-clock duration
// into the cycle state's execution_times map.
func runTimedNode[T any](ctx context.Context, state *CycleState, node string, fn func(context.Context, *CycleState) T) T {
	start := time.Now()
	result := fn(ctx, state)
	state.recordDuration(node, time.Since(start))
	return result
}

// agentInvocation is the per-agent result of invokeAgent, before it is
// shaped into a concrete report type.
type agentInvocation struct {
	Normalized       map[string]interface{}
	RawResponse      string
	Attempts         int
	ValidationErrors []string
	ValidationFailed bool
	Digest           string
}

func (g *Graph) toMeta(inv *agentInvocation) ReportMeta {
	return ReportMeta{
		Attempts:         inv.Attempts,
		ValidationErrors: inv.ValidationErrors,
		ValidationFailed: inv.ValidationFailed,
		ReasoningDigest:  inv.Digest,
	}
}

func (g *Graph) runTechnical(ctx context.Context, state *CycleState) *TechnicalReport {
	inv := g.invokeAgent(ctx, "technical", technicalSystemPrompt, technicalUserPrompt(state))
	rep := &TechnicalReport{ReportMeta: g.toMeta(inv)}
	if inv.ValidationFailed {
		rep.Signal, rep.Confidence = "HOLD", "LOW"
		return rep
	}
	rep.Signal, _ = inv.Normalized["signal"].(string)
	rep.Confidence, _ = inv.Normalized["confidence"].(string)
	rep.Reasoning, _ = inv.Normalized["reasoning"].(string)
	return rep
}

func (g *Graph) runQabba(ctx context.Context, state *CycleState) *QabbaReport {
	inv := g.invokeAgent(ctx, "qabba", qabbaSystemPrompt, qabbaUserPrompt(state))
	rep := &QabbaReport{ReportMeta: g.toMeta(inv)}
	if inv.ValidationFailed {
		rep.Signal, rep.OrderFlowBias = "HOLD_QABBA", "neutral"
		return rep
	}
	rep.Signal, _ = inv.Normalized["signal"].(string)
	rep.OrderFlowBias, _ = inv.Normalized["order_flow_bias"].(string)
	rep.Reasoning, _ = inv.Normalized["reasoning"].(string)
	return rep
}

func (g *Graph) runSentiment(ctx context.Context, state *CycleState) *SentimentReport {
	inv := g.invokeAgent(ctx, "sentiment", sentimentSystemPrompt, sentimentUserPrompt(state))
	rep := &SentimentReport{ReportMeta: g.toMeta(inv)}
	if inv.ValidationFailed {
		rep.OverallSentiment = "NEUTRAL"
		return rep
	}
	rep.OverallSentiment, _ = inv.Normalized["overall_sentiment"].(string)
	rep.ConfidenceScore, _ = toFloat64(inv.Normalized["confidence_score"])
	rep.Reasoning, _ = inv.Normalized["reasoning"].(string)
	return rep
}

func (g *Graph) runVisual(ctx context.Context, state *CycleState) *VisualReport {
	inv := g.invokeAgent(ctx, "visual", visualSystemPrompt, visualUserPrompt(state))
	rep := &VisualReport{ReportMeta: g.toMeta(inv)}
	if inv.ValidationFailed {
		rep.Action, rep.TrendDirection = "HOLD", "neutral"
		return rep
	}
	rep.Action, _ = inv.Normalized["action"].(string)
	rep.TrendDirection, _ = inv.Normalized["trend_direction"].(string)
	rep.Reasoning, _ = inv.Normalized["reasoning"].(string)
	return rep
}

func (g *Graph) runDecision(ctx context.Context, state *CycleState) *DecisionReport {
	inv := g.invokeAgent(ctx, "decision", decisionSystemPrompt, decisionUserPrompt(state))
	rep := &DecisionReport{ReportMeta: g.toMeta(inv)}
	if inv.ValidationFailed {
		rep.FinalDecision, rep.ConfidenceInDecision = "HOLD", "LOW"
		return rep
	}
	rep.FinalDecision, _ = inv.Normalized["final_decision"].(string)
	rep.ConfidenceInDecision, _ = inv.Normalized["confidence_in_decision"].(string)
	rep.Reasoning, _ = inv.Normalized["reasoning"].(string)
	return rep
}

func (g *Graph) runRisk(ctx context.Context, state *CycleState) *RiskAssessmentReport {
	inv := g.invokeAgent(ctx, "risk", riskSystemPrompt, riskUserPrompt(state))
	rep := &RiskAssessmentReport{ReportMeta: g.toMeta(inv)}
	if inv.ValidationFailed {
		rep.Verdict, rep.RiskScore = "DELAY", 10
		return rep
	}
	rep.Verdict, _ = inv.Normalized["verdict"].(string)
	rep.RiskScore, _ = toFloat64(inv.Normalized["risk_score"])
	rep.Reasoning, _ = inv.Normalized["reasoning"].(string)
	return rep
}

// invokeAgent implements spec.md §4.4's per-agent execution contract:
// generate, strip thinking markers, extract the last balanced JSON object,
// validate against the agent's rule set, and retry up to MaxRetries with
// exponential backoff and appended corrective feedback. Every attempt is
// traced into the Reasoning Store when one is configured.
func (g *Graph) invokeAgent(ctx context.Context, agent, systemPrompt, userPrompt string) *agentInvocation {
	maxRetries := g.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	backoff := g.cfg.BackoffBase
	if backoff <= 0 {
		backoff = time.Second
	}

	var normalized map[string]interface{}
	var raw string
	var digest string
	var validationErrs []string
	attempt := 0

	for attempt < maxRetries {
		attempt++
		prompt := userPrompt
		if len(validationErrs) > 0 {
			prompt = fmt.Sprintf("%s\n\nYour previous response had validation errors:\n- %s\nRespond again with a corrected JSON object only.",
				userPrompt, strings.Join(validationErrs, "\n- "))
		}

		start := time.Now()
		text, err := g.llm.CompleteWithSystem(ctx, systemPrompt, prompt)
		latency := time.Since(start)
		if err != nil {
			validationErrs = []string{fmt.Sprintf("generation error: %v", err)}
			if attempt < maxRetries && sleepCtx(ctx, backoff) {
				backoff *= 2
				continue
			}
			break
		}

		raw = text
		cleaned := stripThinking(text)
		candidate := extractLastBalancedObject(cleaned)

		if candidate == "" {
			normalized = map[string]interface{}{"parse_error": true}
			validationErrs = []string{"no parsable JSON object found in response"}
		} else if jsonErr := json.Unmarshal([]byte(candidate), &normalized); jsonErr != nil {
			normalized = map[string]interface{}{"parse_error": true}
			validationErrs = []string{fmt.Sprintf("json parse error: %v", jsonErr)}
		} else {
			validationErrs = validateReport(agent, normalized)
		}

		if g.reasoning != nil {
			entry, serr := g.reasoning.Store(ctx, agent, prompt, normalized, raw, g.backendName, latency.Milliseconds(), nil)
			if serr != nil {
				log.Warn().Err(serr).Str("agent", agent).Msg("reasoning store write failed")
			} else if entry != nil {
				digest = entry.PromptDigest
			}
		}

		if len(validationErrs) == 0 {
			return &agentInvocation{Normalized: normalized, RawResponse: raw, Attempts: attempt, Digest: digest}
		}

		if attempt < maxRetries {
			if !sleepCtx(ctx, backoff) {
				break
			}
			backoff *= 2
		}
	}

	return &agentInvocation{
		Normalized:       normalized,
		RawResponse:      raw,
		Attempts:         attempt,
		ValidationErrors: validationErrs,
		ValidationFailed: true,
		Digest:           digest,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// thinkingBlockPattern strips <think>...</think>/<thinking>...</thinking>
// blocks some reasoning models prepend to their structured answer.
var thinkingBlockPattern = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)

func stripThinking(content string) string {
	return thinkingBlockPattern.ReplaceAllString(content, "")
}

// extractLastBalancedObject generalizes llm.Client's first-object JSON
// extraction (client.go's extractFirstJSONObject) to scan the entire tail
// and return the LAST top-level balanced {...} or [...] found, since a
// reasoning model's final structured answer follows any residual
// commentary rather than preceding it.
func extractLastBalancedObject(content string) string {
	var matches []string
	depth := 0
	start := -1
	var openChar, closeChar byte

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if depth == 0 {
			if ch == '{' || ch == '[' {
				start = i
				if ch == '{' {
					openChar, closeChar = '{', '}'
				} else {
					openChar, closeChar = '[', ']'
				}
				depth = 1
			}
			continue
		}
		switch ch {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				matches = append(matches, content[start:i+1])
				start = -1
			}
		}
	}

	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
