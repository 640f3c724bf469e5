package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ZhyangJ/Agent-chat/internal/tracer"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

// Registry manages available tools for the agent
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry
// Returns an error if a tool with the same name already exists or its
// parameter schema does not compile
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	schema, err := compileSchema(name, tool.Parameters())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	r.tools[name] = tool
	r.schemas[name] = schema
	r.order = append(r.order, name)
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("tool %q has no parameter schema", name)
	}
	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	return schema, nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tool names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions converts all registered tools to the model-facing catalog,
// in registration order
func (r *Registry) Definitions() []openai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		definitions = append(definitions, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// VerifyCatalog fails when the advertised names and the registered tools differ.
func (r *Registry) VerifyCatalog(names []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range names {
		if _, ok := r.tools[name]; !ok {
			return fmt.Errorf("catalog advertises %q but no such tool is registered", name)
		}
	}
	for _, name := range r.order {
		if !slices.Contains(names, name) {
			return fmt.Errorf("tool %q is registered but not advertised", name)
		}
	}
	return nil
}

// Execute runs the named tool and always returns a JSON document. Failures
// of any kind (unknown tool, invalid arguments, tool error, panic) come back
// as {"error": "..."}.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (result json.RawMessage) {
	ctx, span := tracer.StartSpan(ctx, "tool.execute", tracer.StringAttr("tool.name", name))
	defer span.End()

	tool, schema, ok := r.lookup(name)
	if !ok {
		log.Warn("Unknown tool requested: %s", name)
		return errorResult("unknown tool: " + name)
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := schema.Validate(decoded); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err))
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("Tool %s panicked: %v", name, p)
			result = errorResult(fmt.Sprintf("tool %s panicked: %v", name, p))
		}
	}()

	out, err := tool.Execute(ctx, args)
	if err != nil {
		log.Warn("Tool %s failed: %v", name, err)
		tracer.RecordError(span, err)
		return errorResult(err.Error())
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}
	tracer.SetOK(span)
	return encoded
}

func (r *Registry) lookup(name string) (Tool, *jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, r.schemas[name], ok
}

func errorResult(msg string) json.RawMessage {
	encoded, _ := json.Marshal(ErrorResult{Error: msg})
	return encoded
}
