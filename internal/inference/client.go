package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ClientConfig bounds a single analysis call.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// Client wraps a Backend with timeout, retry and response parsing. It is the
// piece the pipeline talks to.
type Client struct {
	backend Backend
	cfg     ClientConfig
	logger  *slog.Logger
}

// NewClient constructs a Client around the backend.
func NewClient(backend Backend, cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{backend: backend, cfg: cfg, logger: logger}
}

// Name reports the underlying backend name.
func (c *Client) Name() string { return c.backend.Name() }

// Ping checks backend reachability.
func (c *Client) Ping(ctx context.Context) error { return c.backend.Ping(ctx) }

// Analyze runs one inference round trip. The configured timeout covers all
// attempts together; exhausted retries surface ErrBackend, a blown deadline
// surfaces ErrTimeout.
func (c *Client) Analyze(ctx context.Context, in Input) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt := BuildPrompt(in)

	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		content, err := c.backend.Complete(ctx, prompt)
		if err == nil {
			out, perr := ParseOutput(content)
			if perr == nil {
				return out, nil
			}
			lastErr = perr
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return Output{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		if attempt < attempts-1 {
			c.logger.Warn("inference attempt failed",
				slog.String("backend", c.backend.Name()),
				slog.Int("attempt", attempt+1),
				slog.Any("error", lastErr))
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return Output{}, fmt.Errorf("%w: %v", ErrTimeout, lastErr)
	}
	return Output{}, fmt.Errorf("%w: %v", ErrBackend, lastErr)
}
