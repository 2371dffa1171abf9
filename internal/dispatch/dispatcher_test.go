package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/provider"
	"github.com/nidhogg/trebol/internal/trace"
	"github.com/nidhogg/trebol/internal/workflow"
)

type storeFunc func(q knowledge.Query) knowledge.Result

func (f storeFunc) Fetch(_ context.Context, q knowledge.Query) knowledge.Result { return f(q) }

type cannedAI struct{ err error }

func (cannedAI) Model() string { return "test-model" }

func (c cannedAI) Complete(_ context.Context, _, _ string) provider.Completion {
	if c.err != nil {
		return provider.Completion{Err: c.err}
	}
	return provider.Completion{Text: "respuesta generada", Model: "test-model", Provider: "test"}
}

type panickingTicket struct{}

func (panickingTicket) Run(_ context.Context, scope *trace.Scope, _ workflow.TicketInquiry) workflow.Result {
	scope.Record(trace.StepTicketInquiryStart, "start", nil)
	panic("nil map write")
}

func soldStore() storeFunc {
	return func(q knowledge.Query) knowledge.Result {
		if q.Resource != knowledge.ResourceTickets {
			return knowledge.Result{Records: []json.RawMessage{}}
		}
		return knowledge.Result{Records: []json.RawMessage{
			json.RawMessage(`{"id":1,"ticket_number":"` + q.Filter.Value + `","price":20,"status":"sold","is_exclusive":false}`),
		}}
	}
}

func newTestDispatcher(store knowledge.Store, ai workflow.Completer) *Dispatcher {
	rec := trace.NewRecorder(1000, zap.NewNop())
	p := workflow.ExpressProfile
	return New(rec,
		workflow.NewTicketWorkflow(store, ai, p, nil),
		workflow.NewGeneralWorkflow(store, ai, p, workflow.GeneralOptions{KnowledgeLookup: true}, nil),
		p, zap.NewNop())
}

func TestHandleTicketInquiry(t *testing.T) {
	d := newTestDispatcher(soldStore(), cannedAI{})
	resp := d.Handle(context.Background(), ChatRequest{Message: " 10000 ", Method: http.MethodPost})

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.Success)
	assert.Equal(t, "respuesta generada", resp.Message)
	assert.Equal(t, "unavailable", resp.Outcome)
	assert.True(t, resp.UsedAI)
	assert.True(t, resp.UsedDatabase)
	assert.Equal(t, "nodejs-express", resp.Backend)
	assert.Contains(t, resp.BusinessLogic, "sold")
	assert.Len(t, resp.RequestID, 8)

	require.NotEmpty(t, resp.Trace)
	assert.Equal(t, trace.StepRequestStart, resp.Trace[0].Step)
	assert.Equal(t, trace.StepTicketInquiryComplete, resp.Trace[len(resp.Trace)-1].Step)
	for _, e := range resp.Trace {
		assert.Equal(t, resp.RequestID, e.RequestID)
		assert.True(t, e.Step.Valid())
		if e.Step.IsFailure() {
			assert.NotEmpty(t, e.Error, e.Step)
		}
	}
}

func TestHandleDefaultsUser(t *testing.T) {
	d := newTestDispatcher(soldStore(), cannedAI{})
	resp := d.Handle(context.Background(), ChatRequest{Message: "hola"})

	var parsed *trace.Entry
	for i := range resp.Trace {
		if resp.Trace[i].Step == trace.StepRequestParsed {
			parsed = &resp.Trace[i]
		}
	}
	require.NotNil(t, parsed)
	assert.Equal(t, DefaultUserID, parsed.Data["user_id"])
	assert.Equal(t, "general", resp.Outcome)
}

func TestHandleFallbackKeepsUsedAI(t *testing.T) {
	d := newTestDispatcher(soldStore(), cannedAI{err: provider.ErrNotConfigured})
	resp := d.Handle(context.Background(), ChatRequest{Message: "00042"})

	assert.True(t, resp.Success)
	assert.True(t, resp.UsedAI)
	assert.True(t, resp.FallbackUsed)
	assert.Contains(t, resp.Message, "00042")
	assert.Equal(t, uint64(1), d.Stats().Fallbacks)
}

func TestHandleRecoversPanics(t *testing.T) {
	rec := trace.NewRecorder(100, zap.NewNop())
	ai := cannedAI{}
	d := New(rec, panickingTicket{},
		workflow.NewGeneralWorkflow(knowledge.Disabled(), ai, workflow.WorkflowsProfile, workflow.GeneralOptions{}, nil),
		workflow.WorkflowsProfile, zap.NewNop())

	resp := d.Handle(context.Background(), ChatRequest{Message: "12345"})
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.False(t, resp.Success)
	assert.False(t, resp.UsedAI)
	assert.False(t, resp.UsedDatabase)
	assert.NotEmpty(t, resp.Message)
	assert.Contains(t, resp.Error, "nil map write")
	assert.Equal(t, []string{"error_handler_workflow"}, resp.WorkflowsExecuted)

	require.NotEmpty(t, resp.Trace)
	last := resp.Trace[len(resp.Trace)-1]
	assert.Equal(t, trace.StepError, last.Step)
	assert.Equal(t, resp.Trace, rec.Query(resp.RequestID))

	s := d.Stats()
	assert.Equal(t, uint64(1), s.Failures)
	assert.Equal(t, uint64(1), s.Outcomes["error"])
}

func TestHandleDistinctRequestIDs(t *testing.T) {
	d := newTestDispatcher(soldStore(), cannedAI{})
	a := d.Handle(context.Background(), ChatRequest{Message: "10000"})
	b := d.Handle(context.Background(), ChatRequest{Message: "10000"})

	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.Equal(t, a.Outcome, b.Outcome)
	assert.Len(t, d.Recorder().Query(a.RequestID), len(a.Trace))
	assert.Len(t, d.Recorder().Query(b.RequestID), len(b.Trace))
}

func TestHandleConcurrentTracesStaySeparate(t *testing.T) {
	d := newTestDispatcher(soldStore(), cannedAI{err: errors.New("down")})

	var wg sync.WaitGroup
	resps := make([]Response, 20)
	for i := range resps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := "10000"
			if i%2 == 1 {
				msg = "¿horario?"
			}
			resps[i] = d.Handle(context.Background(), ChatRequest{Message: msg})
		}(i)
	}
	wg.Wait()

	for _, r := range resps {
		require.NotEmpty(t, r.Trace)
		assert.Equal(t, trace.StepRequestStart, r.Trace[0].Step)
		assert.True(t, r.Trace[len(r.Trace)-1].Step.IsTerminal())
		for i := 1; i < len(r.Trace); i++ {
			assert.Greater(t, r.Trace[i].Seq, r.Trace[i-1].Seq)
			assert.False(t, r.Trace[i].Timestamp.Before(r.Trace[i-1].Timestamp))
		}
	}

	s := d.Stats()
	assert.Equal(t, uint64(20), s.Total)
	assert.Equal(t, uint64(10), s.Ticket)
	assert.Equal(t, uint64(10), s.General)
	assert.Equal(t, uint64(20), s.Fallbacks)
}
