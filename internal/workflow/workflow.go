// Package workflow implements the two fixed business branches of the chat
// assistant: ticket inquiries and general inquiries.
package workflow

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/nidhogg/trebol/internal/provider"
	"github.com/nidhogg/trebol/internal/trace"
)

// Completer is the completion gateway as seen by the workflows.
type Completer interface {
	Complete(ctx context.Context, system, user string) provider.Completion
	Model() string
}

// Result is what a workflow hands back to the dispatcher.
type Result struct {
	Message       string
	Outcome       OutcomeKind
	UsedAI        bool
	UsedDatabase  bool
	Fallback      bool // Message is canned text, the completion failed
	BusinessLogic string
	Workflows     []string
	Elapsed       time.Duration
}

// complete runs one traced completion call. It returns the model text, or
// fallback and true when the call failed.
func complete(ctx context.Context, scope *trace.Scope, ai Completer, system, user, fallback string) (string, bool) {
	scope.Record(trace.StepAICallStart, "Enviando solicitud al modelo de lenguaje", map[string]interface{}{
		"model":                ai.Model(),
		"temperature":          provider.Temperature,
		"max_tokens":           provider.MaxTokens,
		"system_prompt_length": utf8.RuneCountInString(system),
		"user_message_length":  utf8.RuneCountInString(user),
	})

	c := ai.Complete(ctx, system, user)
	if c.Err != nil {
		scope.Fail(trace.StepAICallError, "Error en la llamada al modelo de lenguaje",
			map[string]interface{}{"model": c.Model}, c.Err, c.Elapsed)
		scope.Record(trace.StepFallbackResponse, "Usando respuesta de fallback",
			map[string]interface{}{"response_length": utf8.RuneCountInString(fallback)})
		return fallback, true
	}

	scope.Timed(trace.StepAICallSuccess, "Respuesta del modelo recibida", map[string]interface{}{
		"provider":        c.Provider,
		"model":           c.Model,
		"response_length": utf8.RuneCountInString(c.Text),
		"tokens_used":     c.Usage,
	}, c.Elapsed)
	return c.Text, false
}
