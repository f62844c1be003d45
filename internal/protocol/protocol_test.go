package protocol_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"harmonix/internal/protocol"
)

func TestRequestEncodeSingleLine(t *testing.T) {
	req := protocol.Request{
		Operation: protocol.OpConvert,
		Files:     []string{"a.wav"},
		Format:    "mp3",
		Output:    "/tmp/a.mp3",
	}
	data, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"operation":"convert","files":["a.wav"],"format":"mp3","output":"/tmp/a.mp3"}` + "\n"
	if string(data) != want {
		t.Fatalf("Encode = %q, want %q", data, want)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Fatalf("request must be exactly one line: %q", data)
	}
}

func TestRequestEncodeOptionalFields(t *testing.T) {
	overwrite := false
	req := protocol.Request{
		Operation:         protocol.OpConvert,
		Files:             []string{"a.wav", "b.wav"},
		Format:            "flac",
		Output:            "/out",
		OverwriteExisting: &overwrite,
		ConcurrentFiles:   2,
	}
	data, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, fragment := range []string{`"overwrite_existing":false`, `"concurrent_files":2`} {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("encoded request %s missing %s", data, fragment)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	valid := protocol.Request{Operation: protocol.OpConvert, Files: []string{"a.wav"}, Format: "mp3", Output: "/tmp"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*protocol.Request)
		want   string
	}{
		{"unknown operation", func(r *protocol.Request) { r.Operation = "explode" }, "/operation"},
		{"no files", func(r *protocol.Request) { r.Files = nil }, "/files"},
		{"empty file", func(r *protocol.Request) { r.Files = []string{""} }, "/files/0"},
		{"no format", func(r *protocol.Request) { r.Format = "" }, "/format"},
		{"no output", func(r *protocol.Request) { r.Output = "" }, "/output"},
		{"negative concurrency", func(r *protocol.Request) { r.ConcurrentFiles = -1 }, "/concurrent_files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			req.Files = slices.Clone(valid.Files)
			tt.mutate(&req)
			err := req.Validate()
			if !errors.Is(err, protocol.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not point at %s", err, tt.want)
			}
		})
	}
}

func TestParseLineProgress(t *testing.T) {
	msg := protocol.ParseLine(`  {"event":"progress","pct":50}  `)
	if msg.Kind != protocol.KindProgress {
		t.Fatalf("kind = %v", msg.Kind)
	}
	if msg.Event() != "progress" {
		t.Fatalf("event = %q", msg.Event())
	}
	if string(msg.Payload()) != `{"event":"progress","pct":50}` {
		t.Fatalf("payload = %s", msg.Payload())
	}
}

func TestParseLineComplete(t *testing.T) {
	tests := []struct {
		name string
		line string
		want protocol.Result
	}{
		{
			name: "full",
			line: `{"event":"complete","status":"ok","message":"done","outputs":["/tmp/a.mp3"]}`,
			want: protocol.Result{Status: "ok", Message: "done", Outputs: []string{"/tmp/a.mp3"}},
		},
		{
			name: "defaults",
			line: `{"event":"complete"}`,
			want: protocol.Result{Status: "complete", Message: "", Outputs: []string{}},
		},
		{
			name: "undecodable outputs",
			line: `{"event":"complete","status":"error","outputs":"nope"}`,
			want: protocol.Result{Status: "error", Outputs: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := protocol.ParseLine(tt.line)
			if msg.Kind != protocol.KindComplete {
				t.Fatalf("kind = %v", msg.Kind)
			}
			got := msg.Result
			if got.Status != tt.want.Status || got.Message != tt.want.Message || !slices.Equal(got.Outputs, tt.want.Outputs) {
				t.Fatalf("result = %+v, want %+v", got, tt.want)
			}
			if got.Outputs == nil {
				t.Fatal("outputs must never be nil")
			}
		})
	}
}

func TestParseLineStatusAloneIsNotTerminal(t *testing.T) {
	msg := protocol.ParseLine(`{"status":"ready","message":"Backend ready"}`)
	if msg.Kind != protocol.KindProgress {
		t.Fatalf("kind = %v, want progress", msg.Kind)
	}
}

func TestParseLineMalformed(t *testing.T) {
	for _, line := range []string{"", "   ", "not json", "[1,2]", "42", `{"event":`} {
		msg := protocol.ParseLine(line)
		if msg.Kind != protocol.KindMalformed {
			t.Fatalf("ParseLine(%q) kind = %v", line, msg.Kind)
		}
		if msg.Err == nil {
			t.Fatalf("ParseLine(%q) must explain the failure", line)
		}
		if msg.Payload() != nil {
			t.Fatalf("malformed lines carry no payload")
		}
	}
}

func TestResultSucceeded(t *testing.T) {
	for status, want := range map[string]bool{"ok": true, "success": true, "complete": true, "error": false, "fatal": false} {
		if got := (protocol.Result{Status: status}).Succeeded(); got != want {
			t.Errorf("Succeeded(%q) = %v", status, got)
		}
	}
}

func TestMessagePercent(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{`{"event":"progress","pct":12.5}`, 12.5, true},
		{`{"event":"progress","percent":40}`, 40, true},
		{`{"event":"progress","pct":"n/a","progress":75}`, 75, true},
		{`{"event":"progress","file":"a.wav"}`, 0, false},
	}
	for _, tc := range cases {
		got, ok := protocol.ParseLine(tc.line).Percent()
		if ok != tc.ok || got != tc.want {
			t.Errorf("Percent(%s) = %v, %v; want %v, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}
