package queue

import (
	"fmt"
	"math/rand"
)

var ticketPrefix = map[Type]string{
	WalkIn:      "W",
	Appointment: "A",
	Emergency:   "E",
}

// NewTicketNumber generates a human-readable ticket like "W-4821". The
// prefix encodes the lane; uniqueness is enforced at enqueue time.
func NewTicketNumber(qt Type) string {
	prefix, ok := ticketPrefix[qt]
	if !ok {
		prefix = "C"
	}
	return fmt.Sprintf("%s-%04d", prefix, rand.Intn(10000))
}
