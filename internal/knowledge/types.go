package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Logical resource names understood by every Store.
const (
	ResourceTickets   = "tickets"
	ResourceKnowledge = "knowledge"
)

// Ticket status values the workflows care about.
const (
	StatusAvailable = "available"
	StatusSold      = "sold"
	StatusReserved  = "reserved"
)

var (
	ErrUnknownResource    = errors.New("unknown resource")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrMalformedResponse  = errors.New("malformed store response")
	identifierRe          = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	defaultResourceTables = map[string]string{
		ResourceTickets:   "lottery_tickets",
		ResourceKnowledge: "knowledge_base",
	}
)

// Store is the gateway to the ticket and knowledge store. Implementations
// never return failures out of band: every outcome, including transport
// errors and timeouts, is reported in the Result.
type Store interface {
	Fetch(ctx context.Context, q Query) Result
}

// Query selects records from a logical resource. Filter is an equality
// predicate; when RPC is non-empty Function is called with those named
// parameters instead of reading the resource.
type Query struct {
	Resource string
	Filter   *Filter
	Select   []string
	Limit    int
	Function string
	RPC      map[string]interface{}
}

// Filter is a single field = value predicate.
type Filter struct {
	Field string
	Value string
}

// Eq builds an equality filter.
func Eq(field, value string) *Filter {
	return &Filter{Field: field, Value: value}
}

// Result is the tri-state outcome of a Fetch: records on success, Err on
// failure, and the elapsed wall-clock time in both cases.
type Result struct {
	Records []json.RawMessage
	Elapsed time.Duration
	Err     error
	Source  string
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Ticket is a lottery ticket as stored in the knowledge store.
type Ticket struct {
	ID           interface{} `json:"id"`
	TicketNumber string      `json:"ticket_number"`
	Price        float64     `json:"price"`
	Status       string      `json:"status"`
	IsExclusive  bool        `json:"is_exclusive"`
}

// Available reports whether the ticket can be sold.
func (t Ticket) Available() bool { return t.Status == StatusAvailable }

// Entry is one background knowledge record.
type Entry struct {
	ID       interface{} `json:"id"`
	Title    string      `json:"title,omitempty"`
	Category string      `json:"category,omitempty"`
	Content  string      `json:"content"`
}

// DecodeTickets parses ticket records. A record that is not a ticket
// object is reported as ErrMalformedResponse.
func DecodeTickets(records []json.RawMessage) ([]Ticket, error) {
	out := make([]Ticket, 0, len(records))
	for i, raw := range records {
		var t Ticket
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%w: ticket %d: %v", ErrMalformedResponse, i, err)
		}
		if t.TicketNumber == "" || t.Status == "" {
			return nil, fmt.Errorf("%w: ticket %d missing ticket_number or status", ErrMalformedResponse, i)
		}
		out = append(out, t)
	}
	return out, nil
}

// DecodeEntries parses knowledge records, skipping ones without content.
func DecodeEntries(records []json.RawMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(records))
	for i, raw := range records {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedResponse, i, err)
		}
		if e.Content == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Tables maps logical resources to physical table names.
type Tables map[string]string

// NewTables returns the default mapping overlaid with overrides.
func NewTables(overrides map[string]string) Tables {
	t := make(Tables, len(defaultResourceTables))
	for k, v := range defaultResourceTables {
		t[k] = v
	}
	for k, v := range overrides {
		if v != "" {
			t[k] = v
		}
	}
	return t
}

// Resolve returns the table for a logical resource.
func (t Tables) Resolve(resource string) (string, error) {
	table, ok := t[resource]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	if err := checkIdentifier(table); err != nil {
		return "", err
	}
	return table, nil
}

func checkIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validateQuery(q Query) error {
	if q.Filter != nil {
		if err := checkIdentifier(q.Filter.Field); err != nil {
			return err
		}
	}
	for _, col := range q.Select {
		if err := checkIdentifier(col); err != nil {
			return err
		}
	}
	if q.Function != "" {
		if err := checkIdentifier(q.Function); err != nil {
			return err
		}
		for name := range q.RPC {
			if err := checkIdentifier(name); err != nil {
				return err
			}
		}
	}
	return nil
}
