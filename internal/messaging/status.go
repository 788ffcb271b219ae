package messaging

import "strings"

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ProcessingStatus is the lifecycle of a stored message. It only moves
// forward: pending -> sent -> delivered, or pending -> failed.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusSent      ProcessingStatus = "sent"
	StatusDelivered ProcessingStatus = "delivered"
	StatusFailed    ProcessingStatus = "failed"
)

var statusRank = map[ProcessingStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
}

// CanTransition reports whether a message may move from one status to another.
// pending may skip straight to delivered when the sent callback is lost.
func CanTransition(from, to ProcessingStatus) bool {
	if to == StatusFailed {
		return from == StatusPending
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}

// Predecessors lists every status that may transition to the given one.
func Predecessors(to ProcessingStatus) []string {
	var out []string
	for _, from := range []ProcessingStatus{StatusPending, StatusSent, StatusDelivered, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

// MapCarrierStatus converts a carrier MessageStatus value into a processing
// status. The boolean is false for statuses that carry no transition
// (queued, accepted, sending, receiving).
func MapCarrierStatus(carrierStatus string) (ProcessingStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(carrierStatus)) {
	case "sent":
		return StatusSent, true
	case "delivered", "read":
		return StatusDelivered, true
	case "failed", "undelivered", "canceled":
		return StatusFailed, true
	default:
		return "", false
	}
}
