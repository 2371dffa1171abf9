package workflow

import "fmt"

// Profile identifies which backend flavour is answering. Both flavours run
// the same workflows; they differ only in the labels they report.
type Profile struct {
	Key   string // config value
	Label string // reported as backend / processedBy
	Intro string // how the assistant introduces the processing pipeline
	names map[string]string
}

var (
	ExpressProfile = Profile{
		Key:   "express",
		Label: "nodejs-express",
		Intro: "Este mensaje está siendo procesado por el backend Node.js + Express.",
		names: map[string]string{
			"ticket":                       "ticket_inquiry_handler",
			"general":                      "general_chat_handler",
			"knowledge":                    "knowledge_lookup",
			"ai":                           "completion_handler",
			"error":                        "error_handler",
			string(OutcomeNotFound):        "not_found_rule",
			string(OutcomeUnavailable):     "availability_rule",
			string(OutcomeExclusiveDenied): "exclusive_access_rule",
			string(OutcomeAvailable):       "purchase_rule",
		},
	}
	WorkflowsProfile = Profile{
		Key:   "workflows",
		Label: "n8n-workflows",
		Intro: "Este mensaje está siendo procesado mediante automatización visual con workflows de n8n.",
		names: map[string]string{
			"ticket":                       "ticket_inquiry_workflow",
			"general":                      "general_chat_workflow",
			"knowledge":                    "knowledge_search_workflow",
			"ai":                           "ai_response_workflow",
			"error":                        "error_handler_workflow",
			string(OutcomeNotFound):        "not_found_handler_workflow",
			string(OutcomeUnavailable):     "unavailable_handler_workflow",
			string(OutcomeExclusiveDenied): "exclusive_access_workflow",
			string(OutcomeAvailable):       "availability_workflow",
		},
	}
)

// ProfileFor returns the profile registered under key. An empty key
// selects the express profile.
func ProfileFor(key string) (Profile, error) {
	switch key {
	case "", ExpressProfile.Key, ExpressProfile.Label:
		return ExpressProfile, nil
	case WorkflowsProfile.Key, WorkflowsProfile.Label:
		return WorkflowsProfile, nil
	}
	return Profile{}, fmt.Errorf("unknown backend profile %q", key)
}

func (p Profile) name(stage string) string {
	if n, ok := p.names[stage]; ok {
		return n
	}
	return stage
}

// TicketWorkflows lists the stages a ticket inquiry ran through.
func (p Profile) TicketWorkflows(kind OutcomeKind) []string {
	return []string{p.name("ticket"), p.name(string(kind)), p.name("ai")}
}

// GeneralWorkflows lists the stages a general inquiry ran through.
func (p Profile) GeneralWorkflows(lookedUp bool) []string {
	if lookedUp {
		return []string{p.name("general"), p.name("knowledge"), p.name("ai")}
	}
	return []string{p.name("general"), p.name("ai")}
}

// ErrorWorkflows is reported when the dispatcher recovered a failure.
func (p Profile) ErrorWorkflows() []string {
	return []string{p.name("error")}
}
