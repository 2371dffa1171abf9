package trace

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one observation of a step in processing a single request.
type Entry struct {
	RequestID  string                 `json:"request_id"`
	Seq        uint64                 `json:"seq"`
	Step       Step                   `json:"step"`
	Message    string                 `json:"message"`
	Timestamp  time.Time              `json:"timestamp"`
	Backend    string                 `json:"backend,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMs *float64               `json:"duration_ms,omitempty"`
}

// NewRequestID returns a short opaque identifier for one inbound request.
func NewRequestID() string {
	return uuid.New().String()[:8]
}

// Millis converts d to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// DurationPtr is a helper for filling Entry.DurationMs.
func DurationPtr(d time.Duration) *float64 {
	ms := Millis(d)
	return &ms
}
