//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/api"
	"github.com/nidhogg/trebol/internal/dispatch"
	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/provider"
	"github.com/nidhogg/trebol/internal/trace"
	"github.com/nidhogg/trebol/internal/workflow"
)

// Package-level shared state, set by TestMain.
var (
	testLogger   *zap.Logger
	testPGStore  *knowledge.PostgresStore
	testCached   *knowledge.CachedStore
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("trebol_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// fakeCompletion is an OpenAI-compatible chat endpoint that echoes the last
// user message and records every prompt it receives.
type fakeCompletion struct {
	mu      sync.Mutex
	prompts []string
	fail    bool
}

func (f *fakeCompletion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req provider.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	f.prompts = append(f.prompts, b.String())
	fail := f.fail
	f.mu.Unlock()

	if fail {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
		return
	}
	last := req.Messages[len(req.Messages)-1].Content
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    "cmpl-test",
		"model": "fake-chat",
		"choices": []map[string]interface{}{{
			"message":       map[string]string{"role": "assistant", "content": "IA: " + last},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (f *fakeCompletion) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fakeCompletion) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// newTestServer wires the full stack on top of store and a fake completion
// endpoint, and returns the HTTP server plus the fake.
func newTestServer(t *testing.T, store knowledge.Store, backend string) (*httptest.Server, *fakeCompletion) {
	t.Helper()

	fake := &fakeCompletion{}
	llm := httptest.NewServer(fake)
	t.Cleanup(llm.Close)

	router := provider.NewRouter(testLogger)
	p, err := provider.New(provider.ProviderConfig{
		ID:       "fake",
		Type:     "openai",
		Endpoint: llm.URL,
		APIKey:   "test-key",
		Model:    "fake-chat",
	}, testLogger)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	router.Register(p)
	gw := provider.NewGateway(router, 0, testLogger)

	profile, err := workflow.ProfileFor(backend)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	rec := trace.NewRecorder(1000, testLogger)
	d := dispatch.New(rec,
		workflow.NewTicketWorkflow(store, gw, profile, testLogger),
		workflow.NewGeneralWorkflow(store, gw, profile, workflow.GeneralOptions{
			KnowledgeLookup: true,
			KnowledgeLimit:  workflow.DefaultKnowledgeLimit,
		}, testLogger),
		profile, testLogger)
	h := api.NewHandler(d, store, api.Options{
		Services: api.Services{Completion: true, KnowledgeStore: true, Cache: true},
	}, testLogger)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, fake
}
