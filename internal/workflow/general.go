package workflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/trace"
)

// DefaultKnowledgeLimit bounds how many knowledge entries reach the prompt.
const DefaultKnowledgeLimit = 5

// GeneralInquiry is the input of the general workflow.
type GeneralInquiry struct {
	UserID     string
	Message    string
	Subscriber bool
}

// GeneralOptions tunes the general workflow.
type GeneralOptions struct {
	KnowledgeLookup bool
	KnowledgeLimit  int
}

// GeneralWorkflow answers free-form questions about the business.
type GeneralWorkflow struct {
	store   knowledge.Store
	ai      Completer
	profile Profile
	opts    GeneralOptions
	logger  *zap.Logger
}

// NewGeneralWorkflow creates a general workflow.
func NewGeneralWorkflow(store knowledge.Store, ai Completer, profile Profile, opts GeneralOptions, logger *zap.Logger) *GeneralWorkflow {
	if opts.KnowledgeLimit <= 0 {
		opts.KnowledgeLimit = DefaultKnowledgeLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneralWorkflow{store: store, ai: ai, profile: profile, opts: opts, logger: logger}
}

// Run executes the workflow. A failed knowledge lookup or completion call
// never aborts it.
func (w *GeneralWorkflow) Run(ctx context.Context, scope *trace.Scope, in GeneralInquiry) Result {
	start := time.Now()
	scope.Record(trace.StepGeneralChatStart, "Iniciando chat general", map[string]interface{}{
		"user_id":         in.UserID,
		"message_preview": truncate(in.Message, 100),
		"is_subscriber":   in.Subscriber,
	})

	var entries []knowledge.Entry
	if w.opts.KnowledgeLookup {
		entries = w.lookup(ctx, scope)
	} else {
		scope.Record(trace.StepKnowledgeLookupSkipped, "Consulta a la base de conocimiento desactivada", nil)
	}

	user := strings.TrimSpace(in.Message)
	if user == "" {
		user = "Hola"
	}
	scope.Record(trace.StepAIProcessing, "Procesando consulta general con el modelo", map[string]interface{}{
		"knowledge_entries": len(entries),
		"workflow_node":     w.profile.name("ai"),
	})
	message, fellBack := complete(ctx, scope, w.ai,
		systemPrompt(w.profile, in.Subscriber, knowledgeContext(entries)), user, generalFallback(in.Message))

	elapsed := time.Since(start)
	scope.Timed(trace.StepGeneralChatComplete, "Chat general completado", map[string]interface{}{
		"fallback":          fellBack,
		"total_duration_ms": trace.Millis(elapsed),
	}, elapsed)

	return Result{
		Message:      message,
		Outcome:      OutcomeGeneral,
		UsedAI:       true,
		UsedDatabase: w.opts.KnowledgeLookup,
		Fallback:     fellBack,
		Workflows:    w.profile.GeneralWorkflows(w.opts.KnowledgeLookup),
		Elapsed:      elapsed,
	}
}

func (w *GeneralWorkflow) lookup(ctx context.Context, scope *trace.Scope) []knowledge.Entry {
	q := knowledge.Query{Resource: knowledge.ResourceKnowledge, Limit: w.opts.KnowledgeLimit}
	scope.Record(trace.StepDatabaseQuery, "Consultando base de conocimiento", map[string]interface{}{
		"resource": q.Resource,
		"limit":    q.Limit,
	})

	res := w.store.Fetch(ctx, q)
	if !res.OK() {
		scope.Fail(trace.StepDatabaseError, "Error consultando base de conocimiento",
			map[string]interface{}{"source": res.Source}, res.Err, res.Elapsed)
		return nil
	}
	entries, err := knowledge.DecodeEntries(res.Records)
	if err != nil {
		scope.Fail(trace.StepDatabaseError, "Base de conocimiento con formato inesperado",
			map[string]interface{}{"source": res.Source}, err, res.Elapsed)
		return nil
	}
	scope.Timed(trace.StepDatabaseResponse, "Base de conocimiento recibida", map[string]interface{}{
		"source":            res.Source,
		"knowledge_entries": len(entries),
	}, res.Elapsed)
	return entries
}
