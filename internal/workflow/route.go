package workflow

import "strings"

// Route names one of the two fixed workflow branches.
type Route string

const (
	RouteTicket  Route = "ticket_inquiry"
	RouteGeneral Route = "general_chat"
)

// TicketNumberLen is the fixed width of a ticket number.
const TicketNumberLen = 5

// Classification is the router's decision for one message.
type Classification struct {
	Route        Route
	TicketNumber string // set only for RouteTicket
}

// Classify routes a message. A trimmed message of exactly five ASCII digits
// is a ticket inquiry for that number, leading zeros included; anything
// else is a general inquiry.
func Classify(message string) Classification {
	trimmed := strings.TrimSpace(message)
	if isTicketNumber(trimmed) {
		return Classification{Route: RouteTicket, TicketNumber: trimmed}
	}
	return Classification{Route: RouteGeneral}
}

func isTicketNumber(s string) bool {
	if len(s) != TicketNumberLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
