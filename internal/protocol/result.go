package protocol

import "slices"

// Result is the terminal value of a successful invocation.
type Result struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Outputs []string `json:"outputs"`
}

// Statuses the worker uses to report success.
var successStatuses = []string{"ok", "success", defaultCompleteStatus}

// Succeeded reports whether the worker described its run as successful.
func (r Result) Succeeded() bool {
	return slices.Contains(successStatuses, r.Status)
}
