package trace

import "time"

// Scope binds a Recorder to a single request so that every entry written
// through it carries the same request id and backend label.
type Scope struct {
	rec       *Recorder
	requestID string
	backend   string
	last      Step
}

// NewScope returns a scope writing entries for requestID into rec.
func NewScope(rec *Recorder, requestID, backend string) *Scope {
	return &Scope{rec: rec, requestID: requestID, backend: backend}
}

// RequestID returns the id shared by every entry of this scope.
func (s *Scope) RequestID() string { return s.requestID }

// Backend returns the implementation label stamped on entries.
func (s *Scope) Backend() string { return s.backend }

// Record appends a plain step.
func (s *Scope) Record(step Step, msg string, data map[string]interface{}) Entry {
	return s.append(Entry{Step: step, Message: msg, Data: data})
}

// Timed appends a step closing out an operation that took d.
func (s *Scope) Timed(step Step, msg string, data map[string]interface{}, d time.Duration) Entry {
	return s.append(Entry{Step: step, Message: msg, Data: data, DurationMs: DurationPtr(d)})
}

// Fail appends a failure step. A zero d leaves the duration unset.
func (s *Scope) Fail(step Step, msg string, data map[string]interface{}, err error, d time.Duration) Entry {
	e := Entry{Step: step, Message: msg, Data: data}
	if err != nil {
		e.Error = err.Error()
	}
	if d > 0 {
		e.DurationMs = DurationPtr(d)
	}
	return s.append(e)
}

// Last returns the most recent step written through this scope.
func (s *Scope) Last() Step { return s.last }

// Entries returns the retained entries of this request in order.
func (s *Scope) Entries() []Entry {
	return s.rec.Query(s.requestID)
}

func (s *Scope) append(e Entry) Entry {
	e.RequestID = s.requestID
	e.Backend = s.backend
	s.last = e.Step
	return s.rec.Append(e)
}
