// Package dispatch is the entry point of a chat request: it assigns the
// request id, routes the message and assembles the response envelope.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/trace"
	"github.com/nidhogg/trebol/internal/workflow"
)

// DefaultUserID is used when the caller does not identify itself.
const DefaultUserID = "anonymous"

// ChatRequest is one inbound chat message.
type ChatRequest struct {
	UserID       string
	Message      string
	IsSubscriber bool
	RemoteAddr   string
	Method       string
}

// Response is the envelope returned for every chat request, successful or
// not. Status is the HTTP status the transport should use.
type Response struct {
	Success           bool          `json:"success"`
	Message           string        `json:"message"`
	RequestID         string        `json:"requestId"`
	Trace             []trace.Entry `json:"trace"`
	UsedAI            bool          `json:"usedAI"`
	UsedDatabase      bool          `json:"usedDatabase"`
	FallbackUsed      bool          `json:"fallbackUsed"`
	ProcessingTime    float64       `json:"processingTime"`
	Backend           string        `json:"backend"`
	ProcessedBy       string        `json:"processedBy"`
	WorkflowsExecuted []string      `json:"workflowsExecuted"`
	Outcome           string        `json:"outcome"`
	BusinessLogic     string        `json:"businessLogic,omitempty"`
	Error             string        `json:"error,omitempty"`
	Status            int           `json:"-"`
}

// TicketRunner runs the ticket branch.
type TicketRunner interface {
	Run(ctx context.Context, scope *trace.Scope, in workflow.TicketInquiry) workflow.Result
}

// GeneralRunner runs the general branch.
type GeneralRunner interface {
	Run(ctx context.Context, scope *trace.Scope, in workflow.GeneralInquiry) workflow.Result
}

// Dispatcher handles chat requests.
type Dispatcher struct {
	rec     *trace.Recorder
	ticket  TicketRunner
	general GeneralRunner
	profile workflow.Profile
	stats   *counters
	logger  *zap.Logger
}

// New creates a dispatcher writing traces into rec.
func New(rec *trace.Recorder, ticket TicketRunner, general GeneralRunner, profile workflow.Profile, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		rec:     rec,
		ticket:  ticket,
		general: general,
		profile: profile,
		stats:   newCounters(),
		logger:  logger,
	}
}

// Profile returns the backend profile the dispatcher reports.
func (d *Dispatcher) Profile() workflow.Profile { return d.profile }

// Recorder returns the trace recorder shared by all requests.
func (d *Dispatcher) Recorder() *trace.Recorder { return d.rec }

// Stats returns a snapshot of the request counters.
func (d *Dispatcher) Stats() Stats { return d.stats.snapshot() }

// Handle processes one request. It never panics: unexpected failures are
// traced and returned as a 500 envelope.
func (d *Dispatcher) Handle(ctx context.Context, req ChatRequest) (resp Response) {
	start := time.Now()
	scope := trace.NewScope(d.rec, trace.NewRequestID(), d.profile.Label)
	d.stats.total.Add(1)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected failure: %v", r)
			d.logger.Error("chat request panicked",
				zap.String("request_id", scope.RequestID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			scope.Fail(trace.StepError, "Error crítico procesando la solicitud",
				map[string]interface{}{"last_step": scope.Last()}, err, time.Since(start))
			d.stats.failures.Add(1)
			d.stats.outcome(workflow.OutcomeError)
			resp = d.failure(scope, err, start)
		}
	}()

	scope.Record(trace.StepRequestStart, "Iniciando procesamiento de chat", map[string]interface{}{
		"method":      req.Method,
		"remote_addr": req.RemoteAddr,
	})

	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	scope.Record(trace.StepRequestParsed, "Datos de la solicitud procesados", map[string]interface{}{
		"user_id":        userID,
		"message_length": len([]rune(req.Message)),
		"is_subscriber":  req.IsSubscriber,
	})

	c := workflow.Classify(req.Message)
	routeData := map[string]interface{}{"route": c.Route}
	if c.Route == workflow.RouteTicket {
		routeData["ticket_number"] = c.TicketNumber
	} else {
		routeData["message_preview"] = preview(req.Message, 50)
	}
	scope.Record(trace.StepRouteDetected, "Ruta detectada: "+string(c.Route), routeData)

	var res workflow.Result
	switch c.Route {
	case workflow.RouteTicket:
		d.stats.ticket.Add(1)
		res = d.ticket.Run(ctx, scope, workflow.TicketInquiry{
			UserID:     userID,
			Number:     c.TicketNumber,
			Subscriber: req.IsSubscriber,
		})
	default:
		d.stats.general.Add(1)
		res = d.general.Run(ctx, scope, workflow.GeneralInquiry{
			UserID:     userID,
			Message:    req.Message,
			Subscriber: req.IsSubscriber,
		})
	}

	if res.Fallback {
		d.stats.fallbacks.Add(1)
	}
	d.stats.outcome(res.Outcome)

	d.logger.Info("chat request handled",
		zap.String("request_id", scope.RequestID()),
		zap.String("route", string(c.Route)),
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("fallback", res.Fallback),
		zap.Duration("elapsed", time.Since(start)))

	return Response{
		Success:           true,
		Message:           res.Message,
		RequestID:         scope.RequestID(),
		Trace:             scope.Entries(),
		UsedAI:            res.UsedAI,
		UsedDatabase:      res.UsedDatabase,
		FallbackUsed:      res.Fallback,
		ProcessingTime:    trace.Millis(time.Since(start)),
		Backend:           d.profile.Label,
		ProcessedBy:       d.profile.Label,
		WorkflowsExecuted: res.Workflows,
		Outcome:           string(res.Outcome),
		BusinessLogic:     res.BusinessLogic,
		Status:            http.StatusOK,
	}
}

func (d *Dispatcher) failure(scope *trace.Scope, err error, start time.Time) Response {
	return Response{
		Success:           false,
		Message:           "❌ Lo siento, ocurrió un error inesperado al procesar tu mensaje. Por favor, inténtalo de nuevo.",
		RequestID:         scope.RequestID(),
		Trace:             scope.Entries(),
		ProcessingTime:    trace.Millis(time.Since(start)),
		Backend:           d.profile.Label,
		ProcessedBy:       d.profile.Label,
		WorkflowsExecuted: d.profile.ErrorWorkflows(),
		Outcome:           string(workflow.OutcomeError),
		Error:             err.Error(),
		Status:            http.StatusInternalServerError,
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
