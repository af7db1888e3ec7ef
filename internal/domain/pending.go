package domain

import "time"

// Operation names a queued mutation.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// PendingOperation is a mutation issued while the remote store was
// unreachable and not yet confirmed by it. Records are appended once,
// removed once replayed successfully, and never edited in between.
//
// RetryCount is part of the persisted shape but nothing increments it.
type PendingOperation struct {
	ID         string    `json:"id"`
	Operation  Operation `json:"operation"`
	Data       Contact   `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}
