package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ReasoningPool is the subset of *pgxpool.Pool this store needs, factored
// out so tests can substitute pgxmock the same way internal/risk/calculator.go
// does via PoolInterface.
type ReasoningPool interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ConfidenceBucket classifies a reasoning entry's confidence for strategy
// synthesis.
type ConfidenceBucket string

const (
	ConfidenceHigh   ConfidenceBucket = "high"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceLow    ConfidenceBucket = "low"
)

// Outcome is the optional post-closure judgment attached to a ReasoningEntry.
type Outcome struct {
	Success      bool      `json:"success"`
	Reward       float64   `json:"reward"`
	RewardSignal string    `json:"reward_signal,omitempty"`
	NearMiss     bool      `json:"near_miss,omitempty"`
	RewardNotes  string    `json:"reward_notes,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
	TradeID      string    `json:"trade_id,omitempty"`
}

// Judge is the optional self-judgment verdict attached to a ReasoningEntry.
type Judge struct {
	Verdict         string                 `json:"verdict"`
	Score           float64                `json:"score"`
	Confidence      float64                `json:"confidence"`
	Notes           string                 `json:"notes,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	SuccessEstimate float64                `json:"success_estimate"`
	JudgedAt        time.Time              `json:"judged_at"`
}

// ReasoningEntry is the durable per-agent prompt->decision trace, per
// spec.md §3/§4.3.
type ReasoningEntry struct {
	ID              int64                  `json:"id"`
	Agent           string                 `json:"agent"`
	PromptDigest    string                 `json:"prompt_digest"`
	Prompt          string                 `json:"prompt"`
	Reasoning       string                 `json:"reasoning"`
	Action          string                 `json:"action"`
	Confidence      float64                `json:"confidence"`
	Backend         string                 `json:"backend"`
	LatencyMs       int64                  `json:"latency_ms,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	Embedding       []float32              `json:"embedding,omitempty"`
	Outcome         *Outcome               `json:"outcome,omitempty"`
	Judge           *Judge                 `json:"judge,omitempty"`
}

// ConfidenceBucketOf classifies an entry by the bucket thresholds from
// spec.md §4.3: high>=0.8, medium in [0.5,0.8), low<0.5.
func (e *ReasoningEntry) ConfidenceBucketOf() ConfidenceBucket {
	switch {
	case e.Confidence >= 0.8:
		return ConfidenceHigh
	case e.Confidence >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// StrategyRuleSchemaVersion is stamped onto every Strategy emitted by
// SynthesizeStrategies, so a consumer storing these rules alongside
// internal/strategy's StrategyConfig documents can apply the same
// semver compatibility check before trusting an older rule shape.
const StrategyRuleSchemaVersion = "1.0"

// Strategy is a synthesized rule from SynthesizeStrategies.
type Strategy struct {
	SchemaVersion string  `json:"schema_version"`
	Type          string  `json:"type"`
	Rule          string  `json:"rule"`
	Condition     string  `json:"condition"`
	SuccessRate   float64 `json:"success_rate"`
	SampleSize    int     `json:"sample_size"`
	AvgReward     float64 `json:"avg_reward"`
}

// SuccessRateSummary is the return shape of GetSuccessRate.
type SuccessRateSummary struct {
	TotalEvaluated int64   `json:"total_evaluated"`
	Successful     int64   `json:"successful"`
	SuccessRate    float64 `json:"success_rate"`
	AvgReward      float64 `json:"avg_reward"`
	TotalReward    float64 `json:"total_reward"`
}

// ReasoningStore is the per-agent append-only log described in spec.md
// §4.3, backed by a single indexed Postgres table with a composite unique
// key on (agent, prompt_digest) — the single-indexed-table implementation
// style the spec allows as an alternative to a line-oriented append log.
type ReasoningStore struct {
	pool               ReasoningPool
	maxEntriesPerAgent int
	procedural         *ProceduralMemory
	semantic           *SemanticMemory
}

// WithProceduralMemory attaches procedural memory so SynthesizeStrategies
// persists the rules it derives as policies an agent can apply directly,
// instead of returning them for the caller to discard.
func (s *ReasoningStore) WithProceduralMemory(pm *ProceduralMemory) *ReasoningStore {
	s.procedural = pm
	return s
}

// WithSemanticMemory attaches semantic memory so UpdateOutcome crystallizes
// evaluated reasoning entries into durable, embeddable knowledge items once
// their outcome is known.
func (s *ReasoningStore) WithSemanticMemory(sm *SemanticMemory) *ReasoningStore {
	s.semantic = sm
	return s
}

// NewReasoningStore constructs a store over an existing connection pool.
// The table `reasoning_entries` is expected to already exist (schema
// managed by internal/db migrations), matching this package's other
// stores (procedural.go, semantic.go), which likewise assume pre-migrated
// tables rather than creating them inline.
func NewReasoningStore(pool ReasoningPool, maxEntriesPerAgent int) *ReasoningStore {
	if maxEntriesPerAgent <= 0 {
		maxEntriesPerAgent = 500
	}
	return &ReasoningStore{pool: pool, maxEntriesPerAgent: maxEntriesPerAgent}
}

// NewReasoningStoreWithPool is a convenience constructor for the common
// production case of a live pgxpool.Pool.
func NewReasoningStoreWithPool(pool *pgxpool.Pool, maxEntriesPerAgent int) *ReasoningStore {
	return NewReasoningStore(pool, maxEntriesPerAgent)
}

// Digest computes the 16-hex-character prompt fingerprint: SHA256(prompt)[:16].
func Digest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

func extractAction(normalized map[string]interface{}) string {
	for _, key := range []string{"action", "final_decision", "signal", "decision"} {
		if v, ok := normalized[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return "UNKNOWN"
}

func extractConfidence(normalized map[string]interface{}) float64 {
	if v, ok := normalized["confidence"]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	if v, ok := normalized["confidence_in_decision"]; ok {
		if s, ok := v.(string); ok {
			switch strings.ToUpper(s) {
			case "LOW":
				return 0.35
			case "MEDIUM":
				return 0.55
			case "HIGH":
				return 0.8
			}
		}
	}
	return 0.5
}

func extractReasoningText(normalized map[string]interface{}, rawResponse string) string {
	for _, key := range []string{"reason", "reasoning", "combined_reasoning"} {
		if v, ok := normalized[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if len(rawResponse) > 500 {
		return rawResponse[:500]
	}
	return rawResponse
}

// Store computes the prompt digest, derives action/confidence/reasoning
// text per spec.md §4.3's fallback chains, and either inserts a new entry
// or updates the existing one with the same (agent, prompt_digest) —
// duplicate digests update rather than append. Enforces the per-agent cap
// via FIFO eviction by created_at.
func (s *ReasoningStore) Store(ctx context.Context, agent, prompt string, normalized map[string]interface{}, rawResponse, backend string, latencyMs int64, metadata map[string]interface{}) (*ReasoningEntry, error) {
	digest := Digest(prompt)
	action := extractAction(normalized)
	confidence := extractConfidence(normalized)
	reasoning := extractReasoningText(normalized, rawResponse)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	var entry ReasoningEntry
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reasoning_entries (agent, prompt_digest, prompt, reasoning, action, confidence, backend, latency_ms, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (agent, prompt_digest) DO UPDATE SET
			reasoning = EXCLUDED.reasoning,
			action = EXCLUDED.action,
			confidence = EXCLUDED.confidence,
			backend = EXCLUDED.backend,
			latency_ms = EXCLUDED.latency_ms,
			metadata = EXCLUDED.metadata
		RETURNING id, agent, prompt_digest, prompt, reasoning, action, confidence, backend, latency_ms, metadata, created_at
	`, agent, digest, prompt, reasoning, action, confidence, backend, latencyMs, metaJSON)

	if err := scanReasoningEntry(row, &entry); err != nil {
		return nil, fmt.Errorf("store reasoning entry: %w", err)
	}

	if err := s.evictOverflow(ctx, agent); err != nil {
		log.Warn().Err(err).Str("agent", agent).Msg("reasoning store eviction failed")
	}

	return &entry, nil
}

func (s *ReasoningStore) evictOverflow(ctx context.Context, agent string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM reasoning_entries
		WHERE agent = $1 AND id IN (
			SELECT id FROM reasoning_entries
			WHERE agent = $1
			ORDER BY created_at DESC
			OFFSET $2
		)
	`, agent, s.maxEntriesPerAgent)
	return err
}

func scanReasoningEntry(row pgx.Row, e *ReasoningEntry) error {
	var metaJSON []byte
	var latency *int64
	if err := row.Scan(&e.ID, &e.Agent, &e.PromptDigest, &e.Prompt, &e.Reasoning, &e.Action, &e.Confidence, &e.Backend, &latency, &metaJSON, &e.CreatedAt); err != nil {
		return err
	}
	if latency != nil {
		e.LatencyMs = *latency
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &e.Metadata)
	}
	return nil
}

// GetRecent returns up to limit entries for agent ordered by created_at descending.
func (s *ReasoningStore) GetRecent(ctx context.Context, agent string, limit int) ([]*ReasoningEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent, prompt_digest, prompt, reasoning, action, confidence, backend, latency_ms, metadata, created_at
		FROM reasoning_entries WHERE agent = $1 ORDER BY created_at DESC LIMIT $2
	`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search performs a case-insensitive substring match over prompt and
// reasoning text.
func (s *ReasoningStore) Search(ctx context.Context, agent, query string, limit int) ([]*ReasoningEntry, error) {
	pattern := "%" + query + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent, prompt_digest, prompt, reasoning, action, confidence, backend, latency_ms, metadata, created_at
		FROM reasoning_entries
		WHERE agent = $1 AND (prompt ILIKE $2 OR reasoning ILIKE $2)
		ORDER BY created_at DESC LIMIT $3
	`, agent, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]*ReasoningEntry, error) {
	var out []*ReasoningEntry
	for rows.Next() {
		var e ReasoningEntry
		if err := scanReasoningEntry(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpdateOutcome attaches (or replaces) the outcome of a previously stored
// entry identified by (agent, digest). Returns false if the digest is unknown.
func (s *ReasoningStore) UpdateOutcome(ctx context.Context, agent, digest string, success bool, reward float64, tradeID, rewardSignal string, nearMiss bool, notes string) (bool, error) {
	outcome := Outcome{
		Success:      success,
		Reward:       reward,
		RewardSignal: rewardSignal,
		NearMiss:     nearMiss,
		RewardNotes:  notes,
		EvaluatedAt:  time.Now().UTC(),
		TradeID:      tradeID,
	}
	buf, err := json.Marshal(outcome)
	if err != nil {
		return false, fmt.Errorf("marshal outcome: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reasoning_entries SET outcome = $3, evaluated_at = now()
		WHERE agent = $1 AND prompt_digest = $2
	`, agent, digest, buf)
	if err != nil {
		return false, fmt.Errorf("update outcome: %w", err)
	}
	updated := tag.RowsAffected() > 0

	if updated && s.semantic != nil {
		if err := s.crystallizeKnowledge(ctx, agent, digest, outcome); err != nil {
			log.Warn().Err(err).Str("agent", agent).Str("digest", digest).
				Msg("failed to crystallize reasoning outcome into semantic memory")
		}
	}

	return updated, nil
}

// crystallizeKnowledge turns an evaluated reasoning entry into a semantic
// memory KnowledgeItem once its outcome is known, so RelevantContext's
// Jaccard/cosine ranking over reasoning_entries is complemented by a
// confidence/importance-ranked knowledge base other agents can query
// directly via SemanticMemory.FindByAgent / GetMostRelevant.
func (s *ReasoningStore) crystallizeKnowledge(ctx context.Context, agent, digest string, outcome Outcome) error {
	var prompt, reasoning, action string
	var confidence float64
	row := s.pool.QueryRow(ctx, `
		SELECT prompt, reasoning, action, confidence FROM reasoning_entries
		WHERE agent = $1 AND prompt_digest = $2
	`, agent, digest)
	if err := row.Scan(&prompt, &reasoning, &action, &confidence); err != nil {
		return fmt.Errorf("load entry for crystallization: %w", err)
	}

	item := &KnowledgeItem{
		Type:       KnowledgeExperience,
		Content:    fmt.Sprintf("prompt=%q action=%s outcome=%v: %s", prompt, action, outcome.Success, reasoning),
		Confidence: confidence,
		Importance: 0.5,
		Source:     "reasoning_outcome",
		AgentName:  agent,
	}
	if outcome.Success {
		item.SuccessCount = 1
	} else {
		item.FailureCount = 1
	}
	item.ValidationCount = 1
	item.LastValidated = time.Now().UTC()

	return s.semantic.Store(ctx, item)
}

// AttachJudge attaches a self-judgment verdict to the entry identified by
// (agent, digest). Returns false if the digest is unknown.
func (s *ReasoningStore) AttachJudge(ctx context.Context, agent, digest string, judge Judge) (bool, error) {
	judge.JudgedAt = time.Now().UTC()
	buf, err := json.Marshal(judge)
	if err != nil {
		return false, fmt.Errorf("marshal judge: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reasoning_entries SET judge = $3, judged_at = now()
		WHERE agent = $1 AND prompt_digest = $2
	`, agent, digest, buf)
	if err != nil {
		return false, fmt.Errorf("attach judge: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetSuccessRate computes the success-rate summary over the most recent
// `lookback` evaluated entries for agent. Entries without an outcome are
// excluded from the denominator.
func (s *ReasoningStore) GetSuccessRate(ctx context.Context, agent string, lookback int) (*SuccessRateSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT outcome FROM (
			SELECT outcome, created_at FROM reasoning_entries
			WHERE agent = $1 AND outcome IS NOT NULL
			ORDER BY created_at DESC LIMIT $2
		) t
	`, agent, lookback)
	if err != nil {
		return nil, fmt.Errorf("get success rate: %w", err)
	}
	defer rows.Close()

	summary := &SuccessRateSummary{}
	for rows.Next() {
		var buf []byte
		if err := rows.Scan(&buf); err != nil {
			return nil, err
		}
		var o Outcome
		if err := json.Unmarshal(buf, &o); err != nil {
			continue
		}
		summary.TotalEvaluated++
		if o.Success {
			summary.Successful++
		}
		summary.TotalReward += o.Reward
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if summary.TotalEvaluated > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.TotalEvaluated)
		summary.AvgReward = summary.TotalReward / float64(summary.TotalEvaluated)
	}
	return summary, nil
}

// jaccard computes token-overlap similarity over whitespace-split tokens,
// used as the similarity fallback when either side lacks an embedding.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		out[strings.ToLower(tok)] = true
	}
	return out
}

// cosineSimilarity computes cosine similarity between two equal-length
// embeddings, grounded on the pgvector distance convention used elsewhere
// in this package (semantic.go): similarity = 1 - cosine_distance.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (sqrtApprox(magA) * sqrtApprox(magB))
}

func sqrtApprox(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// RelevantContext ranks entries for agent by similarity to prompt: cosine
// similarity when both embeddings exist, else Jaccard token overlap. When
// preferSuccessful is set, successful entries' similarity is multiplied by
// 1.5 before ranking. Entries scoring below minSimilarity are dropped.
func (s *ReasoningStore) RelevantContext(ctx context.Context, agent, prompt string, limit int, minSimilarity float64, preferSuccessful bool) ([]*ReasoningEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent, prompt_digest, prompt, reasoning, action, confidence, backend, latency_ms, metadata, created_at, embedding, outcome
		FROM reasoning_entries WHERE agent = $1
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("relevant context query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entry *ReasoningEntry
		score float64
	}
	var promptEmbedding []float32 // left nil: no embedding service wired into this call; falls back to Jaccard
	var candidates []scored

	for rows.Next() {
		var e ReasoningEntry
		var embBuf []byte
		var outcomeBuf []byte
		var metaJSON []byte
		var latency *int64
		if err := rows.Scan(&e.ID, &e.Agent, &e.PromptDigest, &e.Prompt, &e.Reasoning, &e.Action, &e.Confidence, &e.Backend, &latency, &metaJSON, &e.CreatedAt, &embBuf, &outcomeBuf); err != nil {
			return nil, err
		}
		if latency != nil {
			e.LatencyMs = *latency
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		if len(embBuf) > 0 {
			_ = json.Unmarshal(embBuf, &e.Embedding)
		}
		var success bool
		if len(outcomeBuf) > 0 {
			var o Outcome
			if err := json.Unmarshal(outcomeBuf, &o); err == nil {
				e.Outcome = &o
				success = o.Success
			}
		}

		var sim float64
		if len(promptEmbedding) > 0 && len(e.Embedding) > 0 {
			sim = cosineSimilarity(promptEmbedding, e.Embedding)
		} else {
			sim = jaccard(prompt, e.Prompt)
		}
		if preferSuccessful && success {
			sim *= 1.5
		}
		if sim < minSimilarity {
			continue
		}
		candidates = append(candidates, scored{entry: &e, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*ReasoningEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

// SynthesizeStrategies groups evaluated entries by confidence bucket and
// action, emitting Strategy rules for groups meeting the sample-size and
// success-rate thresholds, per spec.md §4.3.
func (s *ReasoningStore) SynthesizeStrategies(ctx context.Context, agent string, minSuccessRate float64, minSampleSize int) ([]*Strategy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action, confidence, outcome FROM reasoning_entries
		WHERE agent = $1 AND outcome IS NOT NULL
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("synthesize strategies: %w", err)
	}
	defer rows.Close()

	type group struct {
		n, successes int
		rewardSum    float64
	}
	groups := make(map[string]*group)

	for rows.Next() {
		var action string
		var confidence float64
		var outcomeBuf []byte
		if err := rows.Scan(&action, &confidence, &outcomeBuf); err != nil {
			return nil, err
		}
		var o Outcome
		if err := json.Unmarshal(outcomeBuf, &o); err != nil {
			continue
		}
		bucket := (&ReasoningEntry{Confidence: confidence}).ConfidenceBucketOf()
		key := string(bucket) + "|" + action
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.n++
		if o.Success {
			g.successes++
		}
		g.rewardSum += o.Reward
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var strategies []*Strategy
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		g := groups[key]
		if g.n < minSampleSize {
			continue
		}
		rate := float64(g.successes) / float64(g.n)
		if rate < minSuccessRate {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		bucket, action := parts[0], parts[1]
		strategy := &Strategy{
			SchemaVersion: StrategyRuleSchemaVersion,
			Type:          "confidence_action_rule",
			Rule:          fmt.Sprintf("when confidence=%s and action=%s, historical success rate is %.2f", bucket, action, rate),
			Condition:     fmt.Sprintf("confidence_bucket=%s,action=%s", bucket, action),
			SuccessRate:   rate,
			SampleSize:    g.n,
			AvgReward:     g.rewardSum / float64(g.n),
		}
		strategies = append(strategies, strategy)

		if s.procedural != nil {
			if err := s.persistStrategyPolicy(ctx, agent, strategy); err != nil {
				log.Warn().Err(err).Str("agent", agent).Str("condition", strategy.Condition).
					Msg("failed to persist synthesized strategy as policy")
			}
		}
	}
	return strategies, nil
}

// persistStrategyPolicy stores a synthesized Strategy as a procedural-memory
// Policy so an agent can look it up by type/agent the same way it looks up
// any other learned policy, rather than re-deriving it from reasoning_entries
// on every cycle.
func (s *ReasoningStore) persistStrategyPolicy(ctx context.Context, agent string, strategy *Strategy) error {
	conditions, err := CreatePolicyConditions(map[string]string{"condition": strategy.Condition})
	if err != nil {
		return fmt.Errorf("marshal policy conditions: %w", err)
	}
	actions, err := CreatePolicyActions(map[string]string{"rule": strategy.Rule})
	if err != nil {
		return fmt.Errorf("marshal policy actions: %w", err)
	}

	return s.procedural.StorePolicy(ctx, &Policy{
		Type:        PolicySizing,
		Name:        fmt.Sprintf("%s synthesized rule", agent),
		Description: strategy.Rule,
		Conditions:  conditions,
		Actions:     actions,
		SuccessCount: strategy.SampleSize,
		AvgPnL:      strategy.AvgReward,
		WinRate:     strategy.SuccessRate,
		AgentName:   agent,
		LearnedFrom: "reasoning_synthesis",
		Confidence:  strategy.SuccessRate,
		IsActive:    true,
	})
}

// CheckStrategyRuleCompatibility reports whether a Strategy produced by an
// older SynthesizeStrategies build is still safe to apply, mirroring
// internal/strategy's CheckCompatibility check for StrategyConfig documents.
func CheckStrategyRuleCompatibility(s *Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy rule cannot be nil")
	}
	if s.SchemaVersion == "" {
		return fmt.Errorf("missing strategy rule schema version")
	}
	current, err := semver.NewVersion(s.SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid strategy rule schema version: %s", s.SchemaVersion)
	}
	target, err := semver.NewVersion(StrategyRuleSchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid target strategy rule schema version: %s", StrategyRuleSchemaVersion)
	}
	if current.GreaterThan(target) {
		return fmt.Errorf("strategy rule requires schema version %s, but only %s is supported",
			s.SchemaVersion, StrategyRuleSchemaVersion)
	}
	return nil
}
