package history

import "time"

// Run states stored in the ledger.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Ledger defines the run history operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type Ledger interface {
	BeginRun(id, archiveName string, startedAt time.Time) error
	FinishRun(id string, f Finish) error
	FailRun(id, msg string, at time.Time) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	RunFiles(id string) ([]File, error)
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)
