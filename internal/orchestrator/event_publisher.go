package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// EventPublisher broadcasts engine lifecycle events (decisions, fills,
// mode transitions) over the message bus so other processes sharing the
// same NATS deployment — a second engine watching a correlated symbol, a
// notification relay, an ad-hoc monitoring subscriber — can observe a
// running engine without polling its HTTP API.
type EventPublisher struct {
	bus    *MessageBus
	source string
}

// NewEventPublisher wraps bus for publishing under the given source name
// (used as AgentMessage.From).
func NewEventPublisher(bus *MessageBus, source string) *EventPublisher {
	return &EventPublisher{bus: bus, source: source}
}

// Publish matches the engine's observer hook signature
// (func(eventType string, payload map[string]interface{})) and is meant to
// be passed directly to Engine.WithObserver. Broadcast failures are logged,
// never propagated — an engine must never stall its decision loop because
// no subscriber is listening.
func (p *EventPublisher) Publish(eventType string, payload map[string]interface{}) {
	msg, err := NewAgentMessage(p.source, "*", eventType, payload)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("event publisher: failed to build message")
		return
	}
	msg = msg.WithType(MessageTypeEvent).WithTTL(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.bus.Broadcast(ctx, msg); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("event publisher: broadcast failed")
	}
}
