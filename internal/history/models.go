package history

import "time"

// Status is the lifecycle state of an invocation record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusRejected marks invocations that never reached a worker process:
	// invalid requests and resolution failures.
	StatusRejected Status = "rejected"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s != StatusRunning
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusRejected:
		return Status(value), true
	default:
		return "", false
	}
}

// Record is one invocation.
type Record struct {
	ID        string
	Operation string
	Files     []string
	Format    string
	Output    string
	Status    Status

	// Populated when the invocation finishes.
	ResultStatus   string
	Message        string
	Outputs        []string
	ErrorMessage   string
	ExitCode       *int
	Interpreter    string
	WorkerEntry    string
	BundledRuntime bool
	ProgressEvents int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of a finished record.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Completion is the data recorded when an invocation ends.
type Completion struct {
	Status         Status
	ResultStatus   string
	Message        string
	Outputs        []string
	ErrorMessage   string
	ExitCode       *int
	Interpreter    string
	WorkerEntry    string
	BundledRuntime bool
	ProgressEvents int
	FinishedAt     time.Time
}

// ListOptions filters List.
type ListOptions struct {
	Limit    int
	Statuses []Status
}
