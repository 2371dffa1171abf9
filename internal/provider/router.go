package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// timeoutProvider is implemented by providers that bound their own calls.
type timeoutProvider interface {
	Timeout() time.Duration
}

// attemptTimeout returns the deadline for one call to p. Providers without
// their own bound get DefaultTimeout.
func attemptTimeout(p Provider) time.Duration {
	if tp, ok := p.(timeoutProvider); ok && tp.Timeout() > 0 {
		return tp.Timeout()
	}
	return DefaultTimeout
}

// Router holds providers in priority order. The first registered provider
// is the primary; the rest are tried in order when it fails.
type Router struct {
	providers []Provider
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger}
}

// Register appends a provider to the chain.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.logger.Info("registered provider",
		zap.String("id", p.ID()), zap.String("name", p.Name()), zap.String("model", p.Model()))
}

// Len returns the number of registered providers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Primary returns the first provider, or nil when none is registered.
func (r *Router) Primary() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.providers) == 0 {
		return nil
	}
	return r.providers[0]
}

// Budget returns the time a full walk of the chain may take: the sum of
// every provider's own timeout.
func (r *Router) Budget() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total time.Duration
	for _, p := range r.providers {
		total += attemptTimeout(p)
	}
	return total
}

// Route sends req through the chain and returns the first success together
// with the provider that produced it. Each attempt runs under the provider's
// own timeout, so a hung primary still leaves time for the next one.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, Provider, error) {
	r.mu.RLock()
	chain := append([]Provider(nil), r.providers...)
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, nil, ErrNotConfigured
	}

	var lastErr error
	for i, p := range chain {
		if ctx.Err() != nil {
			break
		}
		attempt := *req
		attempt.Messages = append([]Message(nil), req.Messages...)
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout(p))
		resp, err := p.Chat(attemptCtx, &attempt)
		cancel()
		if err == nil {
			return resp, p, nil
		}
		lastErr = err
		if i < len(chain)-1 {
			r.logger.Warn("provider failed, trying next",
				zap.String("provider", p.ID()), zap.Error(err))
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, nil, fmt.Errorf("all providers failed: %w", lastErr)
}
