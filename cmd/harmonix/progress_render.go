package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// progressRenderer prints worker messages as they arrive. On a terminal it
// rewrites one status line; otherwise each message gets its own line, either
// summarized or as the worker's raw JSON.
type progressRenderer struct {
	out      io.Writer
	jsonMode bool
	live     bool

	mu      sync.Mutex
	pending bool
}

func newProgressRenderer(out io.Writer, jsonMode bool) *progressRenderer {
	return &progressRenderer{
		out:      out,
		jsonMode: jsonMode,
		live:     !jsonMode && isTerminal(out),
	}
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Render prints one message. kind is "progress" or "complete".
func (r *progressRenderer) Render(kind string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jsonMode {
		if len(payload) == 0 {
			return
		}
		fmt.Fprintf(r.out, "%s\n", compactJSON(payload))
		return
	}
	if kind == "complete" {
		// The outcome summary replaces the terminal message.
		return
	}
	line := summarizeProgress(payload)
	if line == "" {
		return
	}
	if r.live {
		fmt.Fprintf(r.out, "\r\033[K%s", line)
		r.pending = true
		return
	}
	fmt.Fprintln(r.out, line)
}

// Finish ends a live status line.
func (r *progressRenderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending {
		fmt.Fprintln(r.out)
		r.pending = false
	}
}

func compactJSON(payload json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Compact(&b, payload); err != nil {
		return string(payload)
	}
	return b.String()
}

// summarizeProgress renders the worker's progress fields as one line:
// "[index/total] status file", with percent or message when present.
func summarizeProgress(payload json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return strings.TrimSpace(string(payload))
	}

	var parts []string
	index, hasIndex := number(fields["index"])
	total, hasTotal := number(fields["total"])
	switch {
	case hasIndex && hasTotal:
		parts = append(parts, fmt.Sprintf("[%d/%d]", int(index), int(total)))
	case hasIndex:
		parts = append(parts, fmt.Sprintf("[%d]", int(index)))
	}
	for _, key := range []string{"pct", "percent", "progress"} {
		if pct, ok := number(fields[key]); ok {
			parts = append(parts, fmt.Sprintf("%.0f%%", pct))
			break
		}
	}
	if status, ok := fields["status"].(string); ok && status != "" {
		parts = append(parts, status)
	}
	if file, ok := fields["file"].(string); ok && file != "" {
		parts = append(parts, filepath.Base(file))
	}
	if msg, ok := fields["message"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return compactJSON(payload)
	}
	return strings.Join(parts, " ")
}

func number(v any) (float64, bool) {
	n, ok := v.(float64)
	return n, ok
}
