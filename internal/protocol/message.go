package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind tags the variant held by a Message.
type Kind int

const (
	KindMalformed Kind = iota
	KindProgress
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindComplete:
		return "complete"
	default:
		return "malformed"
	}
}

// EventComplete is the event tag of the terminal message.
const EventComplete = "complete"

// Status reported when a terminal message has no status of its own.
const defaultCompleteStatus = "complete"

var (
	errBlankLine = errors.New("blank line")
	errNotObject = errors.New("message is not a JSON object")
)

// Message is one decoded stdout line.
type Message struct {
	Kind Kind
	// Raw is the trimmed line as read.
	Raw string
	// Fields holds the decoded object; nil for malformed lines.
	Fields map[string]json.RawMessage
	// Result is set for KindComplete.
	Result Result
	// Err explains why a line is malformed.
	Err error
}

// Event returns the message's "event" tag, if it is a string.
func (m Message) Event() string {
	return m.Text("event")
}

// Payload returns the raw object for forwarding, or nil for malformed lines.
func (m Message) Payload() json.RawMessage {
	if m.Kind == KindMalformed {
		return nil
	}
	return json.RawMessage(m.Raw)
}

// Text returns the string value of a top-level field, or "" when the field is
// absent or not a string.
func (m Message) Text(key string) string {
	value, _ := m.lookupString(key)
	return value
}

// Percent returns the first numeric pct, percent or progress field.
func (m Message) Percent() (float64, bool) {
	for _, key := range []string{"pct", "percent", "progress"} {
		raw, ok := m.Fields[key]
		if !ok {
			continue
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, true
		}
	}
	return 0, false
}

func (m Message) lookupString(key string) (string, bool) {
	raw, ok := m.Fields[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// ParseLine decodes one stdout line. It never fails: undecodable input is
// returned as KindMalformed with Err set.
func ParseLine(line string) Message {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Message{Kind: KindMalformed, Err: errBlankLine}
	}
	if trimmed[0] != '{' {
		var value any
		if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
			return Message{Kind: KindMalformed, Raw: trimmed, Err: err}
		}
		return Message{Kind: KindMalformed, Raw: trimmed, Err: errNotObject}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return Message{Kind: KindMalformed, Raw: trimmed, Err: err}
	}
	msg := Message{Kind: KindProgress, Raw: trimmed, Fields: fields}
	if msg.Event() == EventComplete {
		msg.Kind = KindComplete
		msg.Result = resultFrom(msg)
	}
	return msg
}

func resultFrom(msg Message) Result {
	result := Result{
		Status:  defaultCompleteStatus,
		Message: msg.Text("message"),
		Outputs: []string{},
	}
	if status, ok := msg.lookupString("status"); ok {
		result.Status = status
	}
	if raw, ok := msg.Fields["outputs"]; ok {
		var outputs []string
		if err := json.Unmarshal(raw, &outputs); err == nil && outputs != nil {
			result.Outputs = outputs
		}
	}
	return result
}
