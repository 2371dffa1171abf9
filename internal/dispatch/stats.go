package dispatch

import (
	"sync/atomic"

	"github.com/nidhogg/trebol/internal/workflow"
)

// Stats is a snapshot of the dispatcher counters since start.
type Stats struct {
	Total     uint64            `json:"total"`
	Ticket    uint64            `json:"ticket_inquiries"`
	General   uint64            `json:"general_inquiries"`
	Fallbacks uint64            `json:"fallbacks"`
	Failures  uint64            `json:"failures"`
	Outcomes  map[string]uint64 `json:"outcomes"`
}

type counters struct {
	total     atomic.Uint64
	ticket    atomic.Uint64
	general   atomic.Uint64
	fallbacks atomic.Uint64
	failures  atomic.Uint64
	// keys are fixed at construction, so the map itself is never written
	outcomes map[workflow.OutcomeKind]*atomic.Uint64
}

func newCounters() *counters {
	c := &counters{outcomes: make(map[workflow.OutcomeKind]*atomic.Uint64)}
	for _, k := range []workflow.OutcomeKind{
		workflow.OutcomeNotFound,
		workflow.OutcomeUnavailable,
		workflow.OutcomeExclusiveDenied,
		workflow.OutcomeAvailable,
		workflow.OutcomeGeneral,
		workflow.OutcomeError,
	} {
		c.outcomes[k] = new(atomic.Uint64)
	}
	return c
}

func (c *counters) outcome(k workflow.OutcomeKind) {
	if n, ok := c.outcomes[k]; ok {
		n.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Total:     c.total.Load(),
		Ticket:    c.ticket.Load(),
		General:   c.general.Load(),
		Fallbacks: c.fallbacks.Load(),
		Failures:  c.failures.Load(),
		Outcomes:  make(map[string]uint64, len(c.outcomes)),
	}
	for k, n := range c.outcomes {
		s.Outcomes[string(k)] = n.Load()
	}
	return s
}
