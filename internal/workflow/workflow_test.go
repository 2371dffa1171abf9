package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/provider"
	"github.com/nidhogg/trebol/internal/trace"
)

type storeFunc func(q knowledge.Query) knowledge.Result

func (f storeFunc) Fetch(_ context.Context, q knowledge.Query) knowledge.Result { return f(q) }

func ticketStore(docs ...string) storeFunc {
	return func(q knowledge.Query) knowledge.Result {
		recs := make([]json.RawMessage, len(docs))
		for i, d := range docs {
			recs[i] = json.RawMessage(d)
		}
		return knowledge.Result{Records: recs, Elapsed: time.Millisecond, Source: "test"}
	}
}

func failingStore(err error) storeFunc {
	return func(q knowledge.Query) knowledge.Result {
		return knowledge.Result{Err: err, Elapsed: time.Millisecond, Source: "test"}
	}
}

type fakeAI struct {
	text   string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeAI) Model() string { return "fake-model" }

func (f *fakeAI) Complete(_ context.Context, system, user string) provider.Completion {
	f.calls++
	f.system, f.user = system, user
	if f.err != nil {
		return provider.Completion{Err: f.err, Model: "fake-model", Elapsed: time.Millisecond}
	}
	return provider.Completion{Text: f.text, Model: "fake-model", Provider: "fake", Elapsed: time.Millisecond}
}

func newScope() *trace.Scope {
	return trace.NewScope(trace.NewRecorder(100, zap.NewNop()), "abcd1234", ExpressProfile.Label)
}

func steps(entries []trace.Entry) []trace.Step {
	out := make([]trace.Step, len(entries))
	for i, e := range entries {
		out[i] = e.Step
	}
	return out
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in     string
		route  Route
		ticket string
	}{
		{"10000", RouteTicket, "10000"},
		{"  00042 \n", RouteTicket, "00042"},
		{"00000", RouteTicket, "00000"},
		{"1234", RouteGeneral, ""},
		{"123456", RouteGeneral, ""},
		{"12a45", RouteGeneral, ""},
		{"12 45", RouteGeneral, ""},
		{"１２３４５", RouteGeneral, ""}, // full-width digits
		{"", RouteGeneral, ""},
		{"¿Cuál es el horario?", RouteGeneral, ""},
	}
	for _, tc := range cases {
		got := Classify(tc.in)
		assert.Equal(t, tc.route, got.Route, "message %q", tc.in)
		assert.Equal(t, tc.ticket, got.TicketNumber, "message %q", tc.in)
	}
}

func TestEvaluateOrder(t *testing.T) {
	sold := knowledge.Ticket{TicketNumber: "20000", Status: "sold", Price: 20, IsExclusive: true}
	exclusive := knowledge.Ticket{TicketNumber: "77777", Status: "available", Price: 50, IsExclusive: true}
	regular := knowledge.Ticket{TicketNumber: "10000", Status: "available", Price: 20}

	assert.Equal(t, OutcomeNotFound, Evaluate("10000", nil, nil, false).Kind())
	assert.Equal(t, OutcomeNotFound, Evaluate("10000", []knowledge.Ticket{regular}, errors.New("down"), false).Kind())
	assert.Equal(t, OutcomeUnavailable, Evaluate("20000", []knowledge.Ticket{sold}, nil, false).Kind())
	assert.Equal(t, OutcomeExclusiveDenied, Evaluate("77777", []knowledge.Ticket{exclusive}, nil, false).Kind())
	assert.Equal(t, OutcomeAvailable, Evaluate("77777", []knowledge.Ticket{exclusive}, nil, true).Kind())
	assert.Equal(t, OutcomeAvailable, Evaluate("10000", []knowledge.Ticket{regular}, nil, false).Kind())

	o, ok := Evaluate("20000", []knowledge.Ticket{sold}, nil, true).(Unavailable)
	require.True(t, ok)
	assert.Equal(t, "sold", o.Status)
}

func TestOutcomeFallbacksMentionTicket(t *testing.T) {
	outcomes := []Outcome{
		NotFound{Number: "00042"},
		Unavailable{Number: "00042", Status: "reserved", Price: 20},
		ExclusiveDenied{Number: "00042", Price: 50},
		Available{Number: "00042", Price: 15.5},
	}
	for _, o := range outcomes {
		assert.Contains(t, o.Fallback(), "00042", o.Kind())
		assert.Contains(t, o.Summary(), "00042", o.Kind())
		assert.Contains(t, o.UserPrompt(), "00042", o.Kind())
		assert.NotEmpty(t, o.SystemPrompt(WorkflowsProfile, false))
		assert.True(t, o.Step().Valid())
	}
	assert.Contains(t, outcomes[1].Fallback(), "reserved")
	assert.Contains(t, outcomes[2].Fallback(), "50€")
	assert.Contains(t, outcomes[3].Fallback(), "15.5€")
}

func TestTicketWorkflowOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		store      storeFunc
		subscriber bool
		want       OutcomeKind
		wantStep   trace.Step
	}{
		{"no record", ticketStore(), false, OutcomeNotFound, trace.StepTicketNotFound},
		{"store error", failingStore(errors.New("HTTP 500: boom")), false, OutcomeNotFound, trace.StepTicketNotFound},
		{"malformed", ticketStore(`{"id":1}`), false, OutcomeNotFound, trace.StepTicketNotFound},
		{"sold", ticketStore(`{"id":1,"ticket_number":"10000","price":20,"status":"sold","is_exclusive":false}`), false, OutcomeUnavailable, trace.StepTicketNotAvailable},
		{"exclusive denied", ticketStore(`{"id":1,"ticket_number":"10000","price":50,"status":"available","is_exclusive":true}`), false, OutcomeExclusiveDenied, trace.StepTicketExclusiveDenied},
		{"exclusive subscriber", ticketStore(`{"id":1,"ticket_number":"10000","price":50,"status":"available","is_exclusive":true}`), true, OutcomeAvailable, trace.StepTicketAvailable},
		{"available", ticketStore(`{"id":1,"ticket_number":"10000","price":20,"status":"available","is_exclusive":false}`), false, OutcomeAvailable, trace.StepTicketAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ai := &fakeAI{text: "respuesta del modelo"}
			scope := newScope()
			w := NewTicketWorkflow(tc.store, ai, ExpressProfile, zap.NewNop())

			res := w.Run(context.Background(), scope, TicketInquiry{Number: "10000", Subscriber: tc.subscriber})
			assert.Equal(t, tc.want, res.Outcome)
			assert.Equal(t, "respuesta del modelo", res.Message)
			assert.True(t, res.UsedAI)
			assert.True(t, res.UsedDatabase)
			assert.False(t, res.Fallback)
			assert.Contains(t, res.BusinessLogic, "10000")
			assert.Equal(t, 1, ai.calls)
			assert.Contains(t, ai.user, "10000")

			got := steps(scope.Entries())
			assert.Equal(t, trace.StepTicketInquiryStart, got[0])
			assert.Contains(t, got, tc.wantStep)
			assert.Equal(t, trace.StepTicketInquiryComplete, got[len(got)-1])
		})
	}
}

func TestTicketWorkflowFallsBackWhenModelFails(t *testing.T) {
	ai := &fakeAI{err: errors.New("API error 503: unavailable")}
	scope := newScope()
	w := NewTicketWorkflow(ticketStore(`{"id":1,"ticket_number":"00042","price":20,"status":"sold","is_exclusive":false}`),
		ai, WorkflowsProfile, zap.NewNop())

	res := w.Run(context.Background(), scope, TicketInquiry{Number: "00042"})
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.True(t, res.UsedAI)
	assert.True(t, res.Fallback)
	assert.Contains(t, res.Message, "00042")
	assert.Contains(t, res.Message, "sold")
	assert.Equal(t, []string{"ticket_inquiry_workflow", "unavailable_handler_workflow", "ai_response_workflow"}, res.Workflows)

	entries := scope.Entries()
	var aiErr *trace.Entry
	for i := range entries {
		if entries[i].Step == trace.StepAICallError {
			aiErr = &entries[i]
		}
	}
	require.NotNil(t, aiErr)
	assert.Contains(t, aiErr.Error, "503")
	assert.Contains(t, steps(entries), trace.StepFallbackResponse)
}

func TestTicketWorkflowStoreErrorIsTraced(t *testing.T) {
	scope := newScope()
	w := NewTicketWorkflow(failingStore(errors.New("send request: connection refused")), &fakeAI{err: provider.ErrNotConfigured}, ExpressProfile, nil)

	res := w.Run(context.Background(), scope, TicketInquiry{Number: "12345"})
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Contains(t, res.Message, "12345")

	var dbErr *trace.Entry
	for _, e := range scope.Entries() {
		if e.Step == trace.StepDatabaseError {
			e := e
			dbErr = &e
		}
	}
	require.NotNil(t, dbErr)
	assert.Contains(t, dbErr.Error, "connection refused")
	require.NotNil(t, dbErr.DurationMs)
}

func TestTicketWorkflowQueriesByNumber(t *testing.T) {
	var seen knowledge.Query
	store := storeFunc(func(q knowledge.Query) knowledge.Result {
		seen = q
		return knowledge.Result{Records: []json.RawMessage{}}
	})
	w := NewTicketWorkflow(store, &fakeAI{text: "ok"}, ExpressProfile, nil)
	w.Run(context.Background(), newScope(), TicketInquiry{Number: "00007"})

	assert.Equal(t, knowledge.ResourceTickets, seen.Resource)
	require.NotNil(t, seen.Filter)
	assert.Equal(t, "ticket_number", seen.Filter.Field)
	assert.Equal(t, "00007", seen.Filter.Value)
}

func TestGeneralWorkflowUsesKnowledge(t *testing.T) {
	store := storeFunc(func(q knowledge.Query) knowledge.Result {
		assert.Equal(t, knowledge.ResourceKnowledge, q.Resource)
		assert.Equal(t, 3, q.Limit)
		return knowledge.Result{Records: []json.RawMessage{
			json.RawMessage(`{"id":1,"title":"Promoción","content":"Este mes los abonados tienen un 10% de descuento."}`),
		}}
	})
	ai := &fakeAI{text: "¡Hola!"}
	scope := newScope()
	w := NewGeneralWorkflow(store, ai, ExpressProfile, GeneralOptions{KnowledgeLookup: true, KnowledgeLimit: 3}, nil)

	res := w.Run(context.Background(), scope, GeneralInquiry{Message: "¿Hay promociones?"})
	assert.Equal(t, "¡Hola!", res.Message)
	assert.Equal(t, OutcomeGeneral, res.Outcome)
	assert.True(t, res.UsedDatabase)
	assert.Contains(t, ai.system, "10% de descuento")
	assert.Contains(t, ai.system, "Calle Principal 123")
	assert.Equal(t, "¿Hay promociones?", ai.user)

	got := steps(scope.Entries())
	assert.Equal(t, trace.StepGeneralChatStart, got[0])
	assert.Contains(t, got, trace.StepDatabaseResponse)
	assert.Equal(t, trace.StepGeneralChatComplete, got[len(got)-1])
}

func TestGeneralWorkflowSurvivesLookupFailure(t *testing.T) {
	ai := &fakeAI{text: "respuesta"}
	scope := newScope()
	w := NewGeneralWorkflow(failingStore(errors.New("timeout")), ai, ExpressProfile, GeneralOptions{KnowledgeLookup: true}, nil)

	res := w.Run(context.Background(), scope, GeneralInquiry{Message: "hola"})
	assert.Equal(t, "respuesta", res.Message)
	assert.NotContains(t, ai.system, "BASE DE CONOCIMIENTO")
	assert.Contains(t, steps(scope.Entries()), trace.StepDatabaseError)
}

func TestGeneralWorkflowSkipsLookup(t *testing.T) {
	store := storeFunc(func(q knowledge.Query) knowledge.Result {
		t.Fatal("store must not be called")
		return knowledge.Result{}
	})
	scope := newScope()
	w := NewGeneralWorkflow(store, &fakeAI{text: "ok"}, WorkflowsProfile, GeneralOptions{}, nil)

	res := w.Run(context.Background(), scope, GeneralInquiry{Message: "hola"})
	assert.False(t, res.UsedDatabase)
	assert.Contains(t, steps(scope.Entries()), trace.StepKnowledgeLookupSkipped)
	assert.Equal(t, []string{"general_chat_workflow", "ai_response_workflow"}, res.Workflows)
}

func TestGeneralWorkflowFallbacks(t *testing.T) {
	cases := map[string]string{
		"¿Cuál es el HORARIO?":     "9:00 a 18:00",
		"¿Dónde está la ubicación?": "Calle Principal 123",
		"¿Cuándo es el sorteo?":     "sábados a las 20:00",
		"quiero ser abonado":        "20€ anuales",
		"cuéntame un chiste":        "problema técnico",
	}
	for msg, want := range cases {
		ai := &fakeAI{err: errors.New("down")}
		w := NewGeneralWorkflow(ticketStore(), ai, ExpressProfile, GeneralOptions{}, nil)
		res := w.Run(context.Background(), newScope(), GeneralInquiry{Message: msg})
		assert.True(t, res.Fallback, msg)
		assert.True(t, res.UsedAI, msg)
		assert.Contains(t, res.Message, want, msg)
	}
}

func TestGeneralWorkflowEmptyMessage(t *testing.T) {
	ai := &fakeAI{text: "¡Hola! ¿En qué puedo ayudarte?"}
	w := NewGeneralWorkflow(ticketStore(), ai, ExpressProfile, GeneralOptions{}, nil)
	res := w.Run(context.Background(), newScope(), GeneralInquiry{Message: "   "})
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, "Hola", ai.user)
}

func TestProfileFor(t *testing.T) {
	p, err := ProfileFor("")
	require.NoError(t, err)
	assert.Equal(t, "nodejs-express", p.Label)

	p, err = ProfileFor("n8n-workflows")
	require.NoError(t, err)
	assert.Equal(t, "workflows", p.Key)

	_, err = ProfileFor("django")
	assert.Error(t, err)

	assert.Equal(t, []string{"error_handler"}, ExpressProfile.ErrorWorkflows())
	assert.True(t, strings.HasPrefix(ExpressProfile.TicketWorkflows(OutcomeAvailable)[1], "purchase"))
}
