package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/haloweave/cortana/internal/llm"
)

type registeredTool struct {
	schema   ToolSchema
	handler  Handler
	resolved *jsonschema.Resolved
}

// Registry holds the tools available to the engine, in registration order.
// Registering a name twice replaces the earlier definition.
type Registry struct {
	tools *orderedmap.OrderedMap[string, *registeredTool]
}

func NewRegistry() *Registry {
	return &Registry{tools: orderedmap.NewOrderedMap[string, *registeredTool]()}
}

// Register synthesizes the tool's schema, compiles its argument validator
// and stores the tool. The handler is never invoked here.
func (r *Registry) Register(def *Definition) error {
	schema, err := Synthesize(def)
	if err != nil {
		return err
	}
	if def.handler == nil {
		return fmt.Errorf("tool %s: no handler", schema.Name)
	}
	resolved, err := compileSchema(schema.ParametersJSON())
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", schema.Name, err)
	}
	if _, exists := r.tools.Get(schema.Name); exists {
		log.Printf("[agent] tool %q re-registered, replacing previous definition", schema.Name)
	}
	r.tools.Set(schema.Name, &registeredTool{schema: schema, handler: def.handler, resolved: resolved})
	return nil
}

// MustRegister panics on a registration error. Tool declarations are static,
// so a failure here is a programming mistake caught at startup.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *Registry) Len() int {
	return r.tools.Len()
}

func (r *Registry) Contains(name string) bool {
	_, ok := r.tools.Get(name)
	return ok
}

// Names lists the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, r.tools.Len())
	for el := r.tools.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}

// Schemas returns the tool schemas in registration order.
func (r *Registry) Schemas() []ToolSchema {
	out := make([]ToolSchema, 0, r.tools.Len())
	for el := r.tools.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.schema)
	}
	return out
}

// ProviderTools renders every schema into the provider payload shape.
// A nil result means the completion request should omit tools entirely.
func (r *Registry) ProviderTools() []llm.Tool {
	if r.tools.Len() == 0 {
		return nil
	}
	out := make([]llm.Tool, 0, r.tools.Len())
	for el := r.tools.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.schema.ProviderTool())
	}
	return out
}

// Dispatch executes one requested tool call and always returns text for the
// model. Unknown names, malformed JSON, schema violations, handler errors
// and handler panics all come back as error text rather than failing the
// run, so the model can see what went wrong and retry or rephrase.
func (r *Registry) Dispatch(ctx context.Context, rc *RunContext, name, rawArgs string) string {
	tool, ok := r.tools.Get(name)
	if !ok {
		log.Printf("[agent] model requested unknown tool %q", name)
		return fmt.Sprintf("Error: Unknown tool '%s'. Available tools: %s", name, strings.Join(r.Names(), ", "))
	}

	args, err := r.decodeArgs(tool, rawArgs)
	if err != nil {
		log.Printf("[agent] tool %s: bad arguments: %v", name, err)
		return err.Error()
	}

	result, err := safeInvoke(ctx, tool.handler, rc, args)
	if err != nil {
		log.Printf("[agent] tool %s failed: %v", name, err)
		return fmt.Sprintf("Error executing tool '%s': %v", name, err)
	}
	return result
}

// decodeArgs parses, validates and coerces the raw argument payload. The
// returned error messages are already model-facing.
func (r *Registry) decodeArgs(tool *registeredTool, rawArgs string) (Args, error) {
	name := tool.schema.Name

	var decoded map[string]any
	if strings.TrimSpace(rawArgs) == "" {
		decoded = map[string]any{}
	} else if err := json.Unmarshal([]byte(rawArgs), &decoded); err != nil {
		return nil, fmt.Errorf("Error: Invalid JSON arguments for tool '%s': %v", name, err)
	}

	if err := tool.resolved.Validate(decoded); err != nil {
		return nil, fmt.Errorf("Error: Invalid arguments for tool '%s': %v", name, err)
	}

	args := Args(decoded)
	for _, p := range tool.schema.Params {
		v, present := args[p.Name]
		if !present {
			if !p.Required && p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		if p.Kind == DateTime {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("Error: Invalid arguments for tool '%s': parameter %q must be a date-time string", name, p.Name)
			}
			t, err := parseDateTime(s)
			if err != nil {
				return nil, fmt.Errorf("Error: Invalid arguments for tool '%s': parameter %q: %v", name, p.Name, err)
			}
			args[p.Name] = t
		}
	}
	return args, nil
}

// safeInvoke runs the handler with panic containment.
func safeInvoke(ctx context.Context, h Handler, rc *RunContext, args Args) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, rc, args)
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date-time", s)
}

func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
