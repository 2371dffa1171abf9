package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sampling policy applied to every completion. Callers cannot tune it.
const (
	Temperature = 0.7
	MaxTokens   = 500
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 30 * time.Second

// Completion is the outcome of one gateway call. Err is set on any failure
// and Text is then empty.
type Completion struct {
	Text     string
	Model    string
	Provider string
	Usage    Usage
	Elapsed  time.Duration
	Err      error
}

// OK reports whether the call produced text.
func (c Completion) OK() bool { return c.Err == nil }

// Gateway is the completion gateway used by the workflows: a single
// system+user exchange under a fixed sampling policy.
type Gateway struct {
	router  *Router
	timeout time.Duration
	logger  *zap.Logger
}

// NewGateway creates a gateway over router. timeout caps a whole call
// across the fallback chain; zero uses the router's Budget.
func NewGateway(router *Router, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if router == nil {
		router = NewRouter(logger)
	}
	return &Gateway{router: router, timeout: timeout, logger: logger}
}

// Configured reports whether at least one provider is registered.
func (g *Gateway) Configured() bool { return g.router.Len() > 0 }

// Model returns the primary provider's model name, or "" if none.
func (g *Gateway) Model() string {
	if p := g.router.Primary(); p != nil {
		return p.Model()
	}
	return ""
}

// Complete sends one system+user exchange. It never returns a bare error;
// failures are reported in Completion.Err.
func (g *Gateway) Complete(ctx context.Context, system, user string) Completion {
	start := time.Now()
	if !g.Configured() {
		return Completion{Err: ErrNotConfigured, Elapsed: time.Since(start)}
	}

	timeout := g.timeout
	if timeout <= 0 {
		timeout = g.router.Budget()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	}
	resp, p, err := g.router.Route(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		g.logger.Warn("completion failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return Completion{Err: err, Elapsed: elapsed, Model: g.Model()}
	}
	return Completion{
		Text:     resp.Content,
		Model:    resp.Model,
		Provider: p.ID(),
		Usage:    resp.Usage,
		Elapsed:  elapsed,
	}
}
