// Package schema implements the registry of spec.md §4.A: JSON Schema
// documents loaded once from disk at startup and indexed by each
// document's own declared id, with a schema's "/test" sibling treated as
// interchangeable for validation.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknown is returned by Validate when no schema is indexed under the
// requested ID (or its /test sibling).
var ErrUnknown = errors.New("unknown schema")

// TestSuffix is the schema-ID suffix spec.md §3 treats as interchangeable
// with its production sibling for validation purposes.
const TestSuffix = "/test"

// InvalidError reports a schema validation failure at a specific JSON
// pointer path within the message body.
type InvalidError struct {
	Path   string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Registry holds compiled schemas indexed by their declared id.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// LoadDir compiles every *.json file under dir, indexing each by the "id"
// (or "$id") field declared inside it. It does not watch for changes — a
// restart is required to pick up new schemas, per spec.md §4.A.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading schema directory %s: %w", dir, err)
	}

	compiler := jsonschema.NewCompiler()
	var ids []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", path, err)
		}

		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", path, err)
		}
		id, _ := doc["id"].(string)
		if id == "" {
			id, _ = doc["$id"].(string)
		}
		if id == "" {
			return nil, fmt.Errorf("schema %s declares no id", path)
		}

		if err := compiler.AddResource(id, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", path, err)
		}
		ids = append(ids, id)
	}

	schemas := make(map[string]*jsonschema.Schema, len(ids))
	for _, id := range ids {
		sch, err := compiler.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", id, err)
		}
		schemas[id] = sch
	}

	return &Registry{schemas: schemas}, nil
}

func (r *Registry) lookup(schemaID string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sch, ok := r.schemas[schemaID]; ok {
		return sch, true
	}
	if strings.HasSuffix(schemaID, TestSuffix) {
		if sch, ok := r.schemas[strings.TrimSuffix(schemaID, TestSuffix)]; ok {
			return sch, true
		}
	} else if sch, ok := r.schemas[schemaID+TestSuffix]; ok {
		return sch, true
	}
	return nil, false
}

// Validate validates message against the schema named schemaID. It returns
// ErrUnknown if no such schema is indexed, or an *InvalidError describing
// the first validation failure.
func (r *Registry) Validate(schemaID string, message any) error {
	sch, ok := r.lookup(schemaID)
	if !ok {
		return ErrUnknown
	}
	if err := sch.Validate(message); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepestCause(ve)
			return &InvalidError{Path: leaf.InstanceLocation, Reason: leaf.Message}
		}
		return &InvalidError{Path: "/", Reason: err.Error()}
	}
	return nil
}

// Count returns the number of distinct schema IDs loaded.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return ve
	}
	return deepestCause(ve.Causes[0])
}
