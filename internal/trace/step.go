package trace

// Step names a phase of request processing. The set is closed: every value
// a recorder accepts is listed in Steps.
type Step string

const (
	StepRequestStart           Step = "REQUEST_START"
	StepRequestParsed          Step = "REQUEST_PARSED"
	StepRouteDetected          Step = "ROUTE_DETECTED"
	StepTicketInquiryStart     Step = "TICKET_INQUIRY_START"
	StepDatabaseQuery          Step = "DATABASE_QUERY"
	StepDatabaseResponse       Step = "DATABASE_RESPONSE"
	StepDatabaseError          Step = "DATABASE_ERROR"
	StepTicketNotFound         Step = "TICKET_NOT_FOUND"
	StepTicketFound            Step = "TICKET_FOUND"
	StepTicketNotAvailable     Step = "TICKET_NOT_AVAILABLE"
	StepTicketExclusiveDenied  Step = "TICKET_EXCLUSIVE_DENIED"
	StepTicketAvailable        Step = "TICKET_AVAILABLE"
	StepGeneralChatStart       Step = "GENERAL_CHAT_START"
	StepKnowledgeLookupSkipped Step = "KNOWLEDGE_LOOKUP_SKIPPED"
	StepAIProcessing           Step = "AI_PROCESSING"
	StepAICallStart            Step = "AI_CALL_START"
	StepAICallSuccess          Step = "AI_CALL_SUCCESS"
	StepAICallError            Step = "AI_CALL_ERROR"
	StepFallbackResponse       Step = "FALLBACK_RESPONSE"
	StepTicketInquiryComplete  Step = "TICKET_INQUIRY_COMPLETE"
	StepGeneralChatComplete    Step = "GENERAL_CHAT_COMPLETE"
	StepError                  Step = "ERROR"
)

var allSteps = []Step{
	StepRequestStart,
	StepRequestParsed,
	StepRouteDetected,
	StepTicketInquiryStart,
	StepDatabaseQuery,
	StepDatabaseResponse,
	StepDatabaseError,
	StepTicketNotFound,
	StepTicketFound,
	StepTicketNotAvailable,
	StepTicketExclusiveDenied,
	StepTicketAvailable,
	StepGeneralChatStart,
	StepKnowledgeLookupSkipped,
	StepAIProcessing,
	StepAICallStart,
	StepAICallSuccess,
	StepAICallError,
	StepFallbackResponse,
	StepTicketInquiryComplete,
	StepGeneralChatComplete,
	StepError,
}

// Steps returns every known step in pipeline order.
func Steps() []Step {
	out := make([]Step, len(allSteps))
	copy(out, allSteps)
	return out
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	for _, known := range allSteps {
		if s == known {
			return true
		}
	}
	return false
}

// IsCompletion reports whether s closes out a successful request.
func (s Step) IsCompletion() bool {
	return s == StepTicketInquiryComplete || s == StepGeneralChatComplete
}

// IsFailure reports whether entries with this step describe a failure and
// are expected to carry an error text.
func (s Step) IsFailure() bool {
	switch s {
	case StepDatabaseError, StepAICallError, StepError:
		return true
	}
	return false
}

// IsTerminal reports whether s may be the last entry of a request.
func (s Step) IsTerminal() bool {
	return s.IsCompletion() || s == StepError
}
