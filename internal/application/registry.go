package application

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// NormalizeFunc rewrites a payload that already passed schema validation into
// its canonical form (trimmed ids, uppercased currency, ...).
type NormalizeFunc func(payload json.RawMessage) (json.RawMessage, error)

// Definition binds a command type to its payload schema and optional
// normalization.
type Definition struct {
	Type      string
	Schema    string // JSON Schema, draft 2020-12
	Normalize NormalizeFunc
}

type compiledDefinition struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry validates and normalizes payloads before they enter the durable
// queue, so malformed data never reaches storage.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]compiledDefinition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]compiledDefinition)}
}

// Register adds a definition. Registering a duplicate type or an
// uncompilable schema is a startup programming error and panics.
func (r *Registry) Register(def Definition) {
	if def.Type == "" {
		panic("registry: empty command type")
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://corely.schemas.local/commands/%s.schema.json", def.Type)
	if err := c.AddResource(schemaURL, strings.NewReader(def.Schema)); err != nil {
		panic(fmt.Sprintf("registry: schema load failed for %s: %v", def.Type, err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("registry: schema compile failed for %s: %v", def.Type, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type]; exists {
		panic(fmt.Sprintf("registry: command type %s already registered", def.Type))
	}
	r.defs[def.Type] = compiledDefinition{def: def, schema: compiled}
}

// Validate parses rawPayload against the schema for cmdType and returns the
// normalized payload. Unknown types and schema mismatches never reach the
// queue.
func (r *Registry) Validate(cmdType string, rawPayload json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	cd, ok := r.defs[cmdType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCommandType, cmdType)
	}

	var decoded any
	if err := json.Unmarshal(rawPayload, &decoded); err != nil {
		return nil, &domain.InvalidPayloadError{
			Type:       cmdType,
			Violations: []domain.FieldViolation{{Field: "$", Detail: fmt.Sprintf("not valid JSON: %v", err)}},
		}
	}

	if err := cd.schema.Validate(decoded); err != nil {
		return nil, &domain.InvalidPayloadError{
			Type:       cmdType,
			Violations: violationsFrom(err),
		}
	}

	if cd.def.Normalize != nil {
		normalized, err := cd.def.Normalize(rawPayload)
		if err != nil {
			return nil, &domain.InvalidPayloadError{
				Type:       cmdType,
				Violations: []domain.FieldViolation{{Field: "$", Detail: err.Error()}},
			}
		}
		return normalized, nil
	}
	return rawPayload, nil
}

// List returns the registered definitions for diagnostics, sorted by type.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, cd := range r.defs {
		out = append(out, cd.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// violationsFrom flattens the validator's cause tree into leaf violations.
func violationsFrom(err error) []domain.FieldViolation {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []domain.FieldViolation{{Field: "$", Detail: err.Error()}}
	}

	var out []domain.FieldViolation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := e.InstanceLocation
			if field == "" {
				field = "$"
			}
			out = append(out, domain.FieldViolation{Field: field, Detail: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
