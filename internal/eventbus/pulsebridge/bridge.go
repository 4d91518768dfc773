package pulsebridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpgw/gateway/internal/eventbus"
	"github.com/mcpgw/gateway/internal/telemetry"
)

// Envelope is the wire shape published to a session's Pulse stream for
// each forwarded domain event.
type Envelope struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Bridge subscribes to an eventbus.Bus and republishes each matching event
// that carries a SessionID onto a per-session Pulse/Redis stream
// ("session/<SessionID>"), so callers that
// are not in-process with the gateway can still observe the event stream
// the Workflow Controller promises (spec.md §6.1).
type Bridge struct {
	client Client
	logger telemetry.Logger
}

// New constructs a Bridge publishing through client.
func New(client Client, logger telemetry.Logger) *Bridge {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bridge{client: client, logger: logger}
}

// Attach subscribes the bridge to the events on bus whose name matches
// pattern (a literal event name or a "prefix.*" wildcard) and returns a
// cancel func. Events with an empty SessionID are not forwarded.
func (b *Bridge) Attach(ctx context.Context, bus *eventbus.Bus, pattern string) func() {
	return bus.Subscribe(ctx, pattern, func(ctx context.Context, ev eventbus.Event) {
		if ev.SessionID == "" {
			return
		}
		streamName := fmt.Sprintf("session/%s", ev.SessionID)
		stream, err := b.client.Stream(streamName)
		if err != nil {
			b.logger.Error(ctx, "pulsebridge: open stream failed", "stream", streamName, "err", err)
			return
		}
		env := Envelope{Type: ev.Name, RunID: ev.RunID, SessionID: ev.SessionID, Timestamp: ev.Timestamp, Payload: ev.Payload}
		payload, err := json.Marshal(env)
		if err != nil {
			b.logger.Error(ctx, "pulsebridge: marshal event failed", "event", ev.Name, "err", err)
			return
		}
		if _, err := stream.Add(ctx, env.Type, payload); err != nil {
			b.logger.Error(ctx, "pulsebridge: publish event failed", "stream", streamName, "event", ev.Name, "err", err)
		}
	})
}
