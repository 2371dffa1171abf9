package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestREST(t *testing.T, h http.HandlerFunc) *RESTStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRESTStore(RESTConfig{URL: srv.URL + "/", APIKey: "service-key", Timeout: time.Second}, zap.NewNop())
}

func TestRESTFetchTicketByNumber(t *testing.T) {
	store := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/lottery_tickets", r.URL.Path)
		assert.Equal(t, "eq.01234", r.URL.Query().Get("ticket_number"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"id":7,"ticket_number":"01234","price":20,"status":"available","is_exclusive":false}]`)
	})

	res := store.Fetch(context.Background(), Query{Resource: ResourceTickets, Filter: Eq("ticket_number", "01234")})
	require.NoError(t, res.Err)
	assert.Equal(t, "rest", res.Source)
	assert.Greater(t, res.Elapsed, time.Duration(0))

	tickets, err := DecodeTickets(res.Records)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "01234", tickets[0].TicketNumber)
	assert.True(t, tickets[0].Available())
}

func TestRESTFetchSelectAndLimit(t *testing.T) {
	store := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status", r.URL.Query().Get("select"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[{"status":"sold"},{"status":"available"}]`)
	})
	res := store.Fetch(context.Background(), Query{Resource: ResourceTickets, Select: []string{"status"}, Limit: 5})
	require.NoError(t, res.Err)
	assert.Len(t, res.Records, 2)
}

func TestRESTFetchRPC(t *testing.T) {
	store := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/rpc/search_knowledge", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var params map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &params))
		assert.Equal(t, "sorteo", params["term"])
		fmt.Fprint(w, `{"id":1,"content":"Sorteos los sábados"}`)
	})
	res := store.Fetch(context.Background(), Query{
		Function: "search_knowledge",
		RPC:      map[string]interface{}{"term": "sorteo"},
	})
	require.NoError(t, res.Err)
	entries, err := DecodeEntries(res.Records)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Sorteos los sábados", entries[0].Content)
}

func TestRESTFetchNonSuccessStatus(t *testing.T) {
	store := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Invalid API key"}`)
	})
	res := store.Fetch(context.Background(), Query{Resource: ResourceKnowledge})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "HTTP 401")
	assert.Nil(t, res.Records)
	assert.False(t, res.OK())
}

func TestRESTFetchMalformedBody(t *testing.T) {
	store := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>oops</html>`)
	})
	res := store.Fetch(context.Background(), Query{Resource: ResourceKnowledge})
	assert.True(t, errors.Is(res.Err, ErrMalformedResponse))
}

func TestRESTFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	store := NewRESTStore(RESTConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())

	res := store.Fetch(context.Background(), Query{Resource: ResourceTickets})
	require.Error(t, res.Err)
	assert.Less(t, res.Elapsed, 500*time.Millisecond)
}

func TestRESTFetchUnreachable(t *testing.T) {
	store := NewRESTStore(RESTConfig{URL: "http://127.0.0.1:1", Timeout: time.Second}, zap.NewNop())
	res := store.Fetch(context.Background(), Query{Resource: ResourceTickets})
	assert.Error(t, res.Err)
}

func TestRESTNilLoggerLogsFailuresSafely(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	store := NewRESTStore(RESTConfig{URL: srv.URL, Timeout: time.Second}, nil)

	var res Result
	require.NotPanics(t, func() {
		res = store.Fetch(context.Background(), Query{Resource: ResourceKnowledge})
	})
	assert.Contains(t, res.Err.Error(), "HTTP 500")
}

func TestRESTRejectsUnknownResourceAndBadIdentifiers(t *testing.T) {
	store := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected, got %s", r.URL)
	})
	res := store.Fetch(context.Background(), Query{Resource: "users"})
	assert.True(t, errors.Is(res.Err, ErrUnknownResource))

	res = store.Fetch(context.Background(), Query{Resource: ResourceTickets, Filter: Eq("status;drop", "x")})
	assert.True(t, errors.Is(res.Err, ErrInvalidIdentifier))
}
