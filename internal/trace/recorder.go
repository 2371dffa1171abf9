package trace

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxEntries is the retained entry count when none is configured.
const DefaultMaxEntries = 1000

// Recorder is a bounded, append-only log of trace entries shared by all
// requests of a process. Once the bound is reached the oldest entries are
// evicted first. All methods are safe for concurrent use; the lock is only
// held for the in-memory copy, never across I/O.
type Recorder struct {
	mu     sync.Mutex
	buf    []Entry
	head   int // index of the oldest retained entry
	count  int
	seq    uint64
	lastTS time.Time
	now    func() time.Time
	logger *zap.Logger
}

// NewRecorder creates a recorder retaining at most max entries.
func NewRecorder(max int, logger *zap.Logger) *Recorder {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		buf:    make([]Entry, max),
		now:    time.Now,
		logger: logger,
	}
}

// Append stores e at the tail of the log and returns the stored copy with
// its sequence number and timestamp filled in.
func (r *Recorder) Append(e Entry) Entry {
	r.mu.Lock()
	r.seq++
	e.Seq = r.seq
	ts := r.now()
	if ts.Before(r.lastTS) {
		ts = r.lastTS
	}
	r.lastTS = ts
	e.Timestamp = ts

	capacity := len(r.buf)
	if r.count < capacity {
		r.buf[(r.head+r.count)%capacity] = e
		r.count++
	} else {
		// Full: overwrite the oldest slot and advance head.
		r.buf[r.head] = e
		r.head = (r.head + 1) % capacity
	}
	r.mu.Unlock()

	if ce := r.logger.Check(zap.DebugLevel, e.Message); ce != nil {
		fields := []zap.Field{
			zap.String("request_id", e.RequestID),
			zap.String("step", string(e.Step)),
			zap.Uint64("seq", e.Seq),
		}
		if e.DurationMs != nil {
			fields = append(fields, zap.Float64("duration_ms", *e.DurationMs))
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}
		if len(e.Data) > 0 {
			fields = append(fields, zap.Any("data", e.Data))
		}
		ce.Write(fields...)
	}
	return e
}

// Query returns, in insertion order, every retained entry for requestID.
func (r *Recorder) Query(requestID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, 16)
	r.each(func(e *Entry) {
		if e.RequestID == requestID {
			out = append(out, *e)
		}
	})
	return out
}

// Recent returns the last limit entries across all requests, oldest first.
// A non-positive limit returns everything retained.
func (r *Recorder) Recent(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]Entry, 0, limit)
	capacity := len(r.buf)
	start := r.count - limit
	for i := start; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%capacity])
	}
	return out
}

// Clear drops every retained entry. Sequence numbers keep increasing.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.buf {
		r.buf[i] = Entry{}
	}
	r.head = 0
	r.count = 0
}

// Len returns the number of retained entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Max returns the retention bound.
func (r *Recorder) Max() int { return len(r.buf) }

// Total returns the number of entries ever appended.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Recorder) each(fn func(e *Entry)) {
	capacity := len(r.buf)
	for i := 0; i < r.count; i++ {
		fn(&r.buf[(r.head+i)%capacity])
	}
}
