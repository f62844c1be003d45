package ipc

import (
	"time"

	"harmonix/internal/deps"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/preflight"
	"harmonix/internal/progress"
	"harmonix/internal/protocol"
)

// serviceName prefixes every RPC method.
const serviceName = "Harmonix"

// Outcome is the wire form of a settled invocation.
type Outcome = host.Outcome

// ProgressEvent is one worker message as buffered by the daemon.
type ProgressEvent = progress.Event

// ConvertRequest runs one invocation and waits for it.
type ConvertRequest struct {
	Request protocol.Request `json:"request"`
}

// ConvertResponse carries the settled invocation.
type ConvertResponse struct {
	Outcome Outcome `json:"outcome"`
}

// StartRequest launches an invocation in the background.
type StartRequest struct {
	Request protocol.Request `json:"request"`
}

// StartResponse identifies the launched invocation.
type StartResponse struct {
	InvocationID string `json:"invocation_id"`
}

// ProgressRequest pages through an invocation's worker messages.
type ProgressRequest struct {
	InvocationID string `json:"invocation_id"`
	Since        uint64 `json:"since"`
	Limit        int    `json:"limit"`
	// WaitMillis blocks for new events when none are buffered.
	WaitMillis int `json:"wait_millis"`
}

// ProgressResponse contains events after the cursor.
type ProgressResponse struct {
	Events []ProgressEvent `json:"events"`
	Next   uint64          `json:"next"`
	Done   bool            `json:"done"`
	// Dropped is set when events after Since were evicted before delivery.
	Dropped bool `json:"dropped,omitempty"`
}

// OutcomeRequest fetches an invocation's state.
type OutcomeRequest struct {
	InvocationID string `json:"invocation_id"`
	// WaitMillis blocks until the invocation settles, up to this long.
	WaitMillis int `json:"wait_millis"`
}

// OutcomeResponse reports the invocation.
type OutcomeResponse struct {
	Outcome Outcome `json:"outcome"`
	Running bool    `json:"running"`
}

// CancelRequest stops a running invocation.
type CancelRequest struct {
	InvocationID string `json:"invocation_id"`
}

// CancelResponse reports whether a running invocation was found.
type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// CheckResult is one startup check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// StatusResponse represents daemon status information.
type StatusResponse struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	StartedAt   time.Time      `json:"started_at"`
	Active      []string       `json:"active"`
	Stats       map[string]int `json:"stats"`
	HistoryPath string         `json:"history_path"`
	LockPath    string         `json:"lock_path"`
	SocketPath  string         `json:"socket_path"`
	Checks      []CheckResult  `json:"checks"`

	// Dependencies is filled by callers that check binaries locally.
	Dependencies []deps.Status `json:"dependencies,omitempty"`
}

// HistoryRequest filters the invocation history.
type HistoryRequest struct {
	Limit    int      `json:"limit"`
	Statuses []string `json:"statuses"`
}

// HistoryRecord is the wire form of a history record.
type HistoryRecord struct {
	ID             string    `json:"id"`
	Operation      string    `json:"operation"`
	Files          []string  `json:"files"`
	Format         string    `json:"format"`
	Output         string    `json:"output"`
	Status         string    `json:"status"`
	ResultStatus   string    `json:"result_status,omitempty"`
	Message        string    `json:"message,omitempty"`
	Outputs        []string  `json:"outputs,omitempty"`
	ErrorMessage   string    `json:"error,omitempty"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	Interpreter    string    `json:"interpreter,omitempty"`
	BundledRuntime bool      `json:"bundled_runtime"`
	ProgressEvents int       `json:"progress_events"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// HistoryResponse lists records newest first.
type HistoryResponse struct {
	Records []HistoryRecord `json:"records"`
}

// FromRecord converts a history record to its wire form.
func FromRecord(rec history.Record) HistoryRecord {
	return HistoryRecord{
		ID:             rec.ID,
		Operation:      rec.Operation,
		Files:          rec.Files,
		Format:         rec.Format,
		Output:         rec.Output,
		Status:         string(rec.Status),
		ResultStatus:   rec.ResultStatus,
		Message:        rec.Message,
		Outputs:        rec.Outputs,
		ErrorMessage:   rec.ErrorMessage,
		ExitCode:       rec.ExitCode,
		Interpreter:    rec.Interpreter,
		BundledRuntime: rec.BundledRuntime,
		ProgressEvents: rec.ProgressEvents,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
}

func fromChecks(results []preflight.Result) []CheckResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}
