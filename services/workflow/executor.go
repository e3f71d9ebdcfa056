package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// NodeExecutor runs a single node type. Implementations report failures in the
// returned NodeResult and never panic on bad input.
type NodeExecutor interface {
	Execute(ctx context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult
}

// ExecutorFunc adapts a function to NodeExecutor.
type ExecutorFunc func(ctx context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult

func (f ExecutorFunc) Execute(ctx context.Context, node Node, ec *ExecutionContext, input map[string]any) NodeResult {
	return f(ctx, node, ec, input)
}

// SchemaProvider is implemented by executors that publish a JSON schema for
// their node config.
type SchemaProvider interface {
	ConfigSchema() string
}

// Registry maps node type strings to their executor implementation. Executors
// may be registered at any time; lookups of unknown types fail per run.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]NodeExecutor
	schemas   map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]NodeExecutor),
		schemas:   make(map[string]*gojsonschema.Schema),
	}
}

// NewDefaultRegistry creates a registry populated with the built-in executors.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()
	r.MustRegister("start", NewStartExecutor())
	r.MustRegister("action", NewActionExecutor(client))
	r.MustRegister("condition", NewConditionExecutor())
	r.MustRegister("end", NewEndExecutor())
	r.MustRegister("http", NewHTTPExecutor(client))
	return r
}

// Register adds or replaces the executor for nodeType. If the executor
// implements SchemaProvider its schema is compiled here.
func (r *Registry) Register(nodeType string, ex NodeExecutor) error {
	if nodeType == "" {
		return fmt.Errorf("register executor: empty node type")
	}

	var schema *gojsonschema.Schema
	if cs, ok := ex.(SchemaProvider); ok {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(cs.ConfigSchema()))
		if err != nil {
			return fmt.Errorf("compile %s config schema: %w", nodeType, err)
		}
		schema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = ex
	if schema != nil {
		r.schemas[nodeType] = schema
	} else {
		delete(r.schemas, nodeType)
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(nodeType string, ex NodeExecutor) {
	if err := r.Register(nodeType, ex); err != nil {
		panic(err)
	}
}

// Lookup returns the executor for nodeType.
func (r *Registry) Lookup(nodeType string) (NodeExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[nodeType]
	return ex, ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// ValidateNode checks a node's config against its executor's schema. Types
// without a schema, and unregistered types, are accepted.
func (r *Registry) ValidateNode(node Node) error {
	r.mu.RLock()
	schema := r.schemas[node.Type]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	config := node.Data.Config
	if config == nil {
		config = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("node %s: validate config: %w", node.ID, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("node %s: invalid %s config: %s", node.ID, node.Type, strings.Join(msgs, "; "))
}

// decodeConfig copies a node's config map into a typed struct.
func decodeConfig(node Node, dst any) error {
	if node.Data.Config == nil {
		return nil
	}
	raw, err := json.Marshal(node.Data.Config)
	if err != nil {
		return fmt.Errorf("invalid %s config: %w", node.Type, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s config: %w", node.Type, err)
	}
	return nil
}
