// Package pulsebridge forwards eventbus events onto per-session Redis
// streams so the event stream a caller of the Workflow Controller observes
// (spec.md §6.1) survives process boundaries. It wraps goa.design/pulse
// the same way the teacher's stream/pulse/clients/pulse package does:
// callers build a Redis client, hand it to New, and get back a narrow
// interface exposing only Stream/Close.
package pulsebridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the pulse-backed client.
	Options struct {
		// Redis is the connection backing Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds entries retained per stream; zero uses Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add calls; zero means no timeout.
		OperationTimeout time.Duration
	}

	// Client opens named Pulse streams.
	Client interface {
		Stream(name string) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream publishes entries to, and destroys, one named stream.
	Stream interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
		Destroy(ctx context.Context) error
	}

	client struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}
)

// New constructs a Client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	s, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	return &handle{stream: s, timeout: c.timeout}, nil
}

func (c *client) Close(context.Context) error { return nil }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) Destroy(ctx context.Context) error { return h.stream.Destroy(ctx) }
