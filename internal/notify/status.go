package notify

// Status is the delivery state of a queued email.
type Status string

const (
	Pending          Status = "pending"
	Sending          Status = "sending"
	Created          Status = "created"
	Delivered        Status = "delivered"
	PermanentFailure Status = "permanent-failure"
	TemporaryFailure Status = "temporary-failure"
	TechnicalFailure Status = "technical-failure"
	TooManyAttempts  Status = "too-many-attempts"
)

// Statuses lists every recognised status.
var Statuses = []Status{
	Pending, Sending, Created, Delivered,
	PermanentFailure, TemporaryFailure, TechnicalFailure, TooManyAttempts,
}

// Valid reports whether s is a recognised status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == Delivered || s == PermanentFailure || s == TooManyAttempts
}

// Retryable reports whether the send task will pick the email up again.
func (s Status) Retryable() bool {
	return s == Pending || s == TemporaryFailure || s == TechnicalFailure
}

// CanTransition reports whether moving from one status to another is a
// forward move. Terminal statuses never move and nothing returns to pending.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to != Pending
}

func statusStrings(statuses ...Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// toSend are the statuses the send task picks up.
var toSend = statusStrings(Pending, TechnicalFailure, TemporaryFailure)

// inFlight are the statuses polled when receipts are late.
var inFlight = statusStrings(Sending, Created)
