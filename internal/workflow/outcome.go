package workflow

import (
	"fmt"

	"github.com/nidhogg/trebol/internal/knowledge"
	"github.com/nidhogg/trebol/internal/trace"
)

// OutcomeKind is the wire name of a ticket inquiry outcome.
type OutcomeKind string

const (
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeUnavailable     OutcomeKind = "unavailable"
	OutcomeExclusiveDenied OutcomeKind = "exclusive_denied"
	OutcomeAvailable       OutcomeKind = "available"
	OutcomeGeneral         OutcomeKind = "general"
	OutcomeError           OutcomeKind = "error"
)

// Outcome is the result of evaluating the ticket business rules. It is one
// of NotFound, Unavailable, ExclusiveDenied or Available.
type Outcome interface {
	Kind() OutcomeKind
	TicketNumber() string
	// Step is the trace step recorded when the outcome is reached.
	Step() trace.Step
	SystemPrompt(p Profile, subscriber bool) string
	UserPrompt() string
	// Fallback is the canned reply used when the completion call fails.
	Fallback() string
	// Summary is a plain statement of the business decision.
	Summary() string
	Data() map[string]interface{}
	outcome()
}

// NotFound: the store had no record, failed, or returned a malformed one.
type NotFound struct {
	Number string
	Reason string
}

// Unavailable: the ticket exists but its status is not available.
type Unavailable struct {
	Number string
	Status string
	Price  float64
}

// ExclusiveDenied: the ticket is available but reserved for subscribers.
type ExclusiveDenied struct {
	Number string
	Price  float64
}

// Available: the ticket can be sold to this caller.
type Available struct {
	Number     string
	Price      float64
	Exclusive  bool
	Subscriber bool
}

// Evaluate applies the business rules in their fixed order: not found,
// unavailable, exclusive denied, available. lookupErr covers both store
// failures and malformed records.
func Evaluate(number string, tickets []knowledge.Ticket, lookupErr error, subscriber bool) Outcome {
	if lookupErr != nil {
		return NotFound{Number: number, Reason: lookupErr.Error()}
	}
	if len(tickets) == 0 {
		return NotFound{Number: number, Reason: "no record"}
	}
	t := tickets[0]
	switch {
	case !t.Available():
		return Unavailable{Number: number, Status: t.Status, Price: t.Price}
	case t.IsExclusive && !subscriber:
		return ExclusiveDenied{Number: number, Price: t.Price}
	default:
		return Available{Number: number, Price: t.Price, Exclusive: t.IsExclusive, Subscriber: subscriber}
	}
}

func (NotFound) outcome()        {}
func (Unavailable) outcome()     {}
func (ExclusiveDenied) outcome() {}
func (Available) outcome()       {}

func (o NotFound) Kind() OutcomeKind        { return OutcomeNotFound }
func (o Unavailable) Kind() OutcomeKind     { return OutcomeUnavailable }
func (o ExclusiveDenied) Kind() OutcomeKind { return OutcomeExclusiveDenied }
func (o Available) Kind() OutcomeKind       { return OutcomeAvailable }

func (o NotFound) TicketNumber() string        { return o.Number }
func (o Unavailable) TicketNumber() string     { return o.Number }
func (o ExclusiveDenied) TicketNumber() string { return o.Number }
func (o Available) TicketNumber() string       { return o.Number }

func (o NotFound) Step() trace.Step        { return trace.StepTicketNotFound }
func (o Unavailable) Step() trace.Step     { return trace.StepTicketNotAvailable }
func (o ExclusiveDenied) Step() trace.Step { return trace.StepTicketExclusiveDenied }
func (o Available) Step() trace.Step       { return trace.StepTicketAvailable }

func (o NotFound) SystemPrompt(p Profile, subscriber bool) string {
	return systemPrompt(p, subscriber,
		"El billete consultado no existe en nuestra base de datos. Explica de manera amigable que el billete no está disponible y sugiere consultar otros números.")
}

func (o Unavailable) SystemPrompt(p Profile, subscriber bool) string {
	return systemPrompt(p, subscriber,
		"El billete consultado existe pero no está disponible (vendido o reservado). Explica su estado de manera amigable y sugiere consultar otros números.")
}

func (o ExclusiveDenied) SystemPrompt(p Profile, subscriber bool) string {
	return systemPrompt(p, subscriber,
		"El billete consultado es exclusivo para abonados y el usuario no es abonado. Explica amablemente que necesita ser abonado para acceder a este billete y los beneficios de la suscripción.")
}

func (o Available) SystemPrompt(p Profile, subscriber bool) string {
	return systemPrompt(p, subscriber,
		"El billete consultado está disponible para compra. Proporciona la información del billete y pregunta si quiere comprarlo.")
}

func (o NotFound) UserPrompt() string {
	return fmt.Sprintf("El usuario consultó el billete %s pero no existe en la base de datos.", o.Number)
}

func (o Unavailable) UserPrompt() string {
	return fmt.Sprintf("El billete %s está %s y cuesta %s.", o.Number, o.Status, formatPrice(o.Price))
}

func (o ExclusiveDenied) UserPrompt() string {
	return fmt.Sprintf("El billete %s es exclusivo para abonados, cuesta %s, pero el usuario no es abonado.",
		o.Number, formatPrice(o.Price))
}

func (o Available) UserPrompt() string {
	return fmt.Sprintf("El usuario consultó el billete %s.\nInformación del billete:\n- Número: %s\n- Precio: %s\n- Estado: %s\n- Exclusivo: %s\n- Usuario abonado: %s",
		o.Number, o.Number, formatPrice(o.Price), knowledge.StatusAvailable, yesNo(o.Exclusive), yesNo(o.Subscriber))
}

func (o NotFound) Fallback() string {
	return fmt.Sprintf("❌ Lo siento, el billete %s no está disponible en nuestro sistema. ¿Te gustaría consultar otro número?", o.Number)
}

func (o Unavailable) Fallback() string {
	return fmt.Sprintf("❌ Lo siento, el billete %s ya está %s. ¿Te gustaría consultar otro número?", o.Number, o.Status)
}

func (o ExclusiveDenied) Fallback() string {
	return fmt.Sprintf("🔒 El billete %s es exclusivo para abonados. Su precio es de %s. ¿Te gustaría información sobre cómo ser abonado?",
		o.Number, formatPrice(o.Price))
}

func (o Available) Fallback() string {
	return fmt.Sprintf("✅ ¡Perfecto! El billete %s está disponible y cuesta %s. ¿Te gustaría comprarlo?", o.Number, formatPrice(o.Price))
}

func (o NotFound) Summary() string {
	return fmt.Sprintf("El billete número %s no existe en nuestro sistema.", o.Number)
}

func (o Unavailable) Summary() string {
	return fmt.Sprintf("El billete número %s no está disponible (estado: %s).", o.Number, o.Status)
}

func (o ExclusiveDenied) Summary() string {
	return fmt.Sprintf("El billete número %s es exclusivo para abonados. Precio: %s. Hazte abonado por 20€ anuales para acceder a billetes exclusivos.",
		o.Number, formatPrice(o.Price))
}

func (o Available) Summary() string {
	kind := "Es un billete regular."
	if o.Exclusive {
		kind = "Es un billete exclusivo para abonados."
	}
	return fmt.Sprintf("¡Perfecto! El billete número %s está disponible. Precio: %s. %s ¿Te gustaría reservarlo?",
		o.Number, formatPrice(o.Price), kind)
}

func (o NotFound) Data() map[string]interface{} {
	return map[string]interface{}{"ticket_number": o.Number, "reason": o.Reason}
}

func (o Unavailable) Data() map[string]interface{} {
	return map[string]interface{}{"ticket_number": o.Number, "status": o.Status}
}

func (o ExclusiveDenied) Data() map[string]interface{} {
	return map[string]interface{}{"ticket_number": o.Number, "is_exclusive": true, "is_subscriber": false, "price": o.Price}
}

func (o Available) Data() map[string]interface{} {
	return map[string]interface{}{"ticket_number": o.Number, "price": o.Price, "is_exclusive": o.Exclusive}
}
