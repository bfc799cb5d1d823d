package app

import "time"

// Operation tracks one CLI invocation. Its RunID tags every log line the
// invocation writes, so a single command can be followed in geowatch.log.
type Operation struct {
	Name      string
	RunID     string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation starts tracking the named command.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		Name:      name,
		RunID:     now.UTC().Format("20060102T150405Z"),
		StartedAt: now,
		Status:    "success",
	}
}

// Record marks the operation failed when err is non-nil and passes err through.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
