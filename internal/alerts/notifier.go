package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// severityRank orders severities for min_alert_level filtering.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// modeSeverity maps a risk governor mode transition to an alert severity.
// CAUTION/SEVERE are the only transitions the risk governor enqueues
// (NORMAL/HOT transitions are silent), but the mapping is total so a
// notifier wired directly to other callers still behaves sensibly.
func modeSeverity(mode string) Severity {
	switch mode {
	case "SEVERE":
		return SeverityCritical
	case "CAUTION":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// WebhookAlerter posts alerts as JSON to an arbitrary HTTP endpoint.
// Pairs with TelegramAlerter as the "pluggable channels" the notifier fans
// alerts out to.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter creates a webhook-based alerter posting to url.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Send posts the alert to the configured webhook URL.
func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Title:     alert.Title,
		Message:   alert.Message,
		Severity:  string(alert.Severity),
		Timestamp: alert.Timestamp,
		Metadata:  alert.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// channel pairs an Alerter with its own cooldown limiter, so one noisy
// channel backing off doesn't throttle the others.
type channel struct {
	name    string
	alerter Alerter
	limiter *rate.Limiter
}

// NotifierConfig tunes the Alert Notifier (C8) per spec.md §4.8.
type NotifierConfig struct {
	MinLevel     Severity
	Cooldown     time.Duration
	QueueSize    int
}

// DefaultNotifierConfig applies the ≥5 minute per-channel cooldown and a
// modest bounded queue so a burst of risk-mode flapping cannot pile up
// unbounded work behind the engine's hot path.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MinLevel:  SeverityWarning,
		Cooldown:  5 * time.Minute,
		QueueSize: 64,
	}
}

// Notifier is the Alert Notifier (C8): a bounded-queue worker that fans
// risk-mode transitions out to pluggable channels, each independently
// cooldown-limited. It implements risk.AlertSink so the Risk Governor can
// depend on it without importing this package's concrete channel types.
type Notifier struct {
	cfg      NotifierConfig
	channels []channel

	mu      sync.Mutex
	queue   chan Alert
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewNotifier builds a Notifier over the given named channels. Channel
// names are used only for logging and per-channel cooldown bookkeeping.
func NewNotifier(cfg NotifierConfig, channels map[string]Alerter) *Notifier {
	chans := make([]channel, 0, len(channels))
	for name, alerter := range channels {
		chans = append(chans, channel{
			name:    name,
			alerter: alerter,
			limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		})
	}
	return &Notifier{
		cfg:      cfg,
		channels: chans,
		queue:    make(chan Alert, cfg.QueueSize),
	}
}

// Start launches the background worker that drains the alert queue. It is
// safe to call Stop without ever calling Start.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.started = true

	n.wg.Add(1)
	go n.run(workerCtx)
}

// Stop drains and halts the worker, waiting for any in-flight send to
// finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.cancel()
	n.started = false
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-n.queue:
			n.dispatch(ctx, alert)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, alert Alert) {
	for _, ch := range n.channels {
		if !ch.limiter.Allow() {
			log.Debug().Str("channel", ch.name).Str("alert_title", alert.Title).Msg("alert suppressed by channel cooldown")
			continue
		}
		if err := ch.alerter.Send(ctx, alert); err != nil {
			log.Error().Err(err).Str("channel", ch.name).Str("alert_title", alert.Title).Msg("alert channel send failed")
		}
	}
}

// Enqueue implements risk.AlertSink. It never blocks: alerts below
// MinLevel are dropped, and if the queue is full the alert is dropped with
// a warning rather than stalling the caller (the Risk Governor holds its
// mutex while calling this).
func (n *Notifier) Enqueue(ctx context.Context, mode, reason string, riskBias float64, metrics map[string]interface{}) {
	severity := modeSeverity(mode)
	if severityRank(severity) < severityRank(n.cfg.MinLevel) {
		return
	}

	metadata := make(map[string]interface{}, len(metrics)+2)
	for k, v := range metrics {
		metadata[k] = v
	}
	metadata["mode"] = mode
	metadata["risk_bias"] = riskBias

	alert := Alert{
		Title:     fmt.Sprintf("Risk mode: %s", mode),
		Message:   reason,
		Severity:  severity,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	select {
	case n.queue <- alert:
	default:
		log.Warn().Str("alert_title", alert.Title).Msg("alert queue full, dropping alert")
	}
}
