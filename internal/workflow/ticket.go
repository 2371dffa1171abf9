package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/trace"
)

// TicketInquiry is the input of the ticket workflow.
type TicketInquiry struct {
	UserID     string
	Number     string
	Subscriber bool
}

// TicketWorkflow looks a ticket up, applies the business rules and asks the
// model to phrase the decision.
type TicketWorkflow struct {
	store   knowledge.Store
	ai      Completer
	profile Profile
	logger  *zap.Logger
}

// NewTicketWorkflow creates a ticket workflow.
func NewTicketWorkflow(store knowledge.Store, ai Completer, profile Profile, logger *zap.Logger) *TicketWorkflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketWorkflow{store: store, ai: ai, profile: profile, logger: logger}
}

// Run executes the workflow. It always returns a non-empty message.
func (w *TicketWorkflow) Run(ctx context.Context, scope *trace.Scope, in TicketInquiry) Result {
	start := time.Now()
	scope.Record(trace.StepTicketInquiryStart, "Iniciando consulta de billete", map[string]interface{}{
		"ticket_number": in.Number,
		"user_id":       in.UserID,
		"is_subscriber": in.Subscriber,
	})

	tickets, lookupErr := w.lookup(ctx, scope, in.Number)
	if lookupErr == nil && len(tickets) > 0 {
		scope.Record(trace.StepTicketFound, "Billete encontrado en base de datos",
			map[string]interface{}{"ticket": tickets[0]})
	}

	outcome := Evaluate(in.Number, tickets, lookupErr, in.Subscriber)
	scope.Record(outcome.Step(), outcomeMessage(outcome.Kind()), outcome.Data())

	scope.Record(trace.StepAIProcessing, "Enviando resultado al modelo para redactar la respuesta", map[string]interface{}{
		"outcome":       outcome.Kind(),
		"workflow_node": w.profile.name(string(outcome.Kind())),
	})
	message, fellBack := complete(ctx, scope, w.ai,
		outcome.SystemPrompt(w.profile, in.Subscriber), outcome.UserPrompt(), outcome.Fallback())

	elapsed := time.Since(start)
	scope.Timed(trace.StepTicketInquiryComplete, "Consulta de billete completada", map[string]interface{}{
		"outcome":           outcome.Kind(),
		"fallback":          fellBack,
		"total_duration_ms": trace.Millis(elapsed),
	}, elapsed)

	w.logger.Debug("ticket inquiry done",
		zap.String("request_id", scope.RequestID()),
		zap.String("ticket", in.Number),
		zap.String("outcome", string(outcome.Kind())),
		zap.Bool("fallback", fellBack))

	return Result{
		Message:       message,
		Outcome:       outcome.Kind(),
		UsedAI:        true,
		UsedDatabase:  true,
		Fallback:      fellBack,
		BusinessLogic: outcome.Summary(),
		Workflows:     w.profile.TicketWorkflows(outcome.Kind()),
		Elapsed:       elapsed,
	}
}

// lookup fetches the ticket. Store failures and malformed records are both
// returned as the error.
func (w *TicketWorkflow) lookup(ctx context.Context, scope *trace.Scope, number string) ([]knowledge.Ticket, error) {
	q := knowledge.Query{
		Resource: knowledge.ResourceTickets,
		Filter:   knowledge.Eq("ticket_number", number),
	}
	scope.Record(trace.StepDatabaseQuery, "Consultando billete en base de datos", map[string]interface{}{
		"resource": q.Resource,
		"filter":   q.Filter.Field + "=" + q.Filter.Value,
	})

	res := w.store.Fetch(ctx, q)
	if !res.OK() {
		scope.Fail(trace.StepDatabaseError, "Error en consulta de base de datos",
			map[string]interface{}{"source": res.Source}, res.Err, res.Elapsed)
		return nil, res.Err
	}
	tickets, err := knowledge.DecodeTickets(res.Records)
	if err != nil {
		scope.Fail(trace.StepDatabaseError, "Respuesta de base de datos con formato inesperado",
			map[string]interface{}{"source": res.Source, "records": len(res.Records)}, err, res.Elapsed)
		return nil, err
	}
	scope.Timed(trace.StepDatabaseResponse, "Respuesta de base de datos recibida", map[string]interface{}{
		"source":  res.Source,
		"records": len(tickets),
	}, res.Elapsed)
	return tickets, nil
}

func outcomeMessage(kind OutcomeKind) string {
	switch kind {
	case OutcomeNotFound:
		return "Billete no encontrado"
	case OutcomeUnavailable:
		return "Billete no disponible"
	case OutcomeExclusiveDenied:
		return "Acceso denegado a billete exclusivo"
	default:
		return "Billete disponible para compra"
	}
}
