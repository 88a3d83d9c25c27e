package partnersync

import "time"

// Status tracks how far one convention got through partner broadcast.
type Status string

const (
	// StatusToProcess marks a convention awaiting its first broadcast.
	StatusToProcess Status = "TO_PROCESS"
	// StatusSuccess marks a convention the partner acknowledged.
	StatusSuccess Status = "SUCCESS"
	// StatusError marks a failed broadcast the worker will re-drive.
	StatusError Status = "ERROR"
	// StatusSkip marks a convention an operator excluded from broadcast.
	// The worker never enters or leaves this state on its own.
	StatusSkip Status = "SKIP"
)

// ConventionToSync is the per-convention broadcast ledger entry. Its id is
// the convention id: one convention, one row, latest outcome wins.
type ConventionToSync struct {
	ID          string
	Status      Status
	ProcessDate *time.Time
	Reason      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
