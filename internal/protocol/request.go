package protocol

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Operation names the work the worker should perform.
type Operation string

const (
	OpConvert Operation = "convert"
	OpMaster  Operation = "master"
	OpTrim    Operation = "trim"
)

// ErrInvalidRequest marks requests rejected before any process is started.
var ErrInvalidRequest = errors.New("invalid request")

//go:embed request.schema.json
var requestSchema string

const requestSchemaURL = "request.schema.json"

var compileRequestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(requestSchemaURL, strings.NewReader(requestSchema)); err != nil {
		return nil, err
	}
	return c.Compile(requestSchemaURL)
})

// Request is the single payload written to the worker's stdin.
type Request struct {
	Operation Operation `json:"operation"`
	Files     []string  `json:"files"`
	Format    string    `json:"format"`
	Output    string    `json:"output"`
	// OverwriteExisting and ConcurrentFiles are honoured by the convert
	// operation; they are omitted when unset so the worker's defaults apply.
	OverwriteExisting *bool `json:"overwrite_existing,omitempty"`
	ConcurrentFiles   int   `json:"concurrent_files,omitempty"`
}

// Encode renders the request as one JSON line including the trailing newline.
func (r Request) Encode() ([]byte, error) {
	if r.Files == nil {
		r.Files = []string{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(data, '\n'), nil
}

// Validate checks the request against the embedded request schema.
func (r Request) Validate() error {
	schema, err := compileRequestSchema()
	if err != nil {
		return fmt.Errorf("compile request schema: %w", err)
	}
	encoded, err := r.Encode()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidRequest, describeViolation(verr))
		}
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// describeViolation flattens the innermost schema violations into one line.
func describeViolation(verr *jsonschema.ValidationError) string {
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			parts = append(parts, location+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}
