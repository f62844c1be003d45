package host

import (
	"time"

	"harmonix/internal/history"
	"harmonix/internal/protocol"
)

// Outcome is the settled state of one invocation.
type Outcome struct {
	InvocationID string          `json:"invocation_id"`
	Status       history.Status  `json:"status"`
	Result       protocol.Result `json:"result"`
	// Error is the failure text; empty on success.
	Error          string    `json:"error,omitempty"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	Interpreter    string    `json:"interpreter,omitempty"`
	BundledRuntime bool      `json:"bundled_runtime"`
	ProgressEvents int       `json:"progress_events"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Succeeded reports whether the invocation produced a result.
func (o Outcome) Succeeded() bool {
	return o.Status == history.StatusSucceeded
}

// Duration is the invocation's wall time.
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// FromRecord rebuilds an outcome from a history record.
func FromRecord(rec history.Record) Outcome {
	return Outcome{
		InvocationID: rec.ID,
		Status:       rec.Status,
		Result: protocol.Result{
			Status:  rec.ResultStatus,
			Message: rec.Message,
			Outputs: rec.Outputs,
		},
		Error:          rec.ErrorMessage,
		ExitCode:       rec.ExitCode,
		Interpreter:    rec.Interpreter,
		BundledRuntime: rec.BundledRuntime,
		ProgressEvents: rec.ProgressEvents,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
}
