package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haloweave/cortana/internal/llm"
)

// ParamKind is the value type of a tool parameter.
type ParamKind int

const (
	String ParamKind = iota
	Integer
	Number
	Boolean
	DateTime
	StringList
)

func (k ParamKind) jsonType() string {
	switch k {
	case Integer:
		return "integer"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case StringList:
		return "array"
	default:
		return "string"
	}
}

// Param describes one declared tool parameter. Order of declaration is
// preserved all the way into the provider payload so that repeated schema
// output is reproducible.
type Param struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Default     any
	Description string
}

// Args holds the validated, decoded arguments for one tool invocation.
type Args map[string]any

// String returns a string argument, or "" when absent.
func (a Args) String(name string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer argument, accepting the float64 that JSON
// decoding produces.
func (a Args) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a numeric argument, or 0.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns a boolean argument, or false.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Time returns a date-time argument. The registry parses date-time
// parameters into time.Time before dispatch, so the ok flag is false only
// for absent values.
func (a Args) Time(name string) (t time.Time, ok bool) {
	t, ok = a[name].(time.Time)
	return t, ok
}

// Strings returns a string-list argument.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Handler executes one tool call. A returned error (or panic) is converted
// by the engine into model-visible result text, never into a run failure.
type Handler func(ctx context.Context, rc *RunContext, args Args) (string, error)

// Definition declares a tool ahead of registration: name, a doc block, the
// ordered parameter list, and the handler. The doc block's first line is
// the tool description, and an "Args:" section supplies per-parameter
// descriptions as "name: description" lines.
type Definition struct {
	name    string
	doc     string
	params  []Param
	handler Handler
}

// NewDefinition starts a tool declaration.
func NewDefinition(name, doc string) *Definition {
	return &Definition{name: name, doc: doc}
}

// Param declares a required parameter.
func (d *Definition) Param(name string, kind ParamKind) *Definition {
	d.params = append(d.params, Param{Name: name, Kind: kind, Required: true})
	return d
}

// Optional declares an optional parameter. def is carried into the schema
// as the parameter default; pass nil for an optional with no default.
func (d *Definition) Optional(name string, kind ParamKind, def any) *Definition {
	d.params = append(d.params, Param{Name: name, Kind: kind, Default: def})
	return d
}

// Handle sets the handler and returns the definition for registration.
func (d *Definition) Handle(h Handler) *Definition {
	d.handler = h
	return d
}

// ToolSchema is the immutable machine-readable description of one tool,
// derived exactly once at registration time.
type ToolSchema struct {
	Name        string
	Description string
	Params      []Param
}

// Synthesize derives a ToolSchema from a definition without invoking the
// handler. Parameter descriptions come from the doc block's Args section;
// a parameter with no matching doc line simply has none.
func Synthesize(def *Definition) (ToolSchema, error) {
	if def == nil {
		return ToolSchema{}, fmt.Errorf("nil tool definition")
	}
	name := strings.TrimSpace(def.name)
	if name == "" {
		return ToolSchema{}, fmt.Errorf("tool definition has no name")
	}

	description := firstDocLine(def.doc)
	if description == "" {
		description = name
	}

	seen := make(map[string]struct{}, len(def.params))
	params := make([]Param, len(def.params))
	for i, p := range def.params {
		if p.Name == "" {
			return ToolSchema{}, fmt.Errorf("tool %s: parameter %d has no name", name, i)
		}
		if _, dup := seen[p.Name]; dup {
			return ToolSchema{}, fmt.Errorf("tool %s: duplicate parameter %q", name, p.Name)
		}
		seen[p.Name] = struct{}{}
		p.Description = argDescription(def.doc, p.Name)
		params[i] = p
	}

	return ToolSchema{Name: name, Description: description, Params: params}, nil
}

// ParametersJSON renders the parameter set as a JSON Schema object. The
// output is built positionally from the declared parameter order, so two
// calls always produce identical bytes.
func (s ToolSchema) ParametersJSON() json.RawMessage {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	var required []string
	for i, p := range s.Params {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONValue(&buf, p.Name)
		buf.WriteByte(':')
		writeProperty(&buf, p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	buf.WriteByte('}')
	if len(required) > 0 {
		buf.WriteString(`,"required":`)
		writeJSONValue(&buf, required)
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes())
}

func writeProperty(buf *bytes.Buffer, p Param) {
	buf.WriteString(`{"type":`)
	writeJSONValue(buf, p.Kind.jsonType())
	if p.Kind == DateTime {
		buf.WriteString(`,"format":"date-time"`)
	}
	if p.Kind == StringList {
		buf.WriteString(`,"items":{"type":"string"}`)
	}
	if p.Description != "" {
		buf.WriteString(`,"description":`)
		writeJSONValue(buf, p.Description)
	}
	if !p.Required && p.Default != nil {
		buf.WriteString(`,"default":`)
		writeJSONValue(buf, p.Default)
	}
	buf.WriteByte('}')
}

func writeJSONValue(buf *bytes.Buffer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`null`)
	}
	buf.Write(data)
}

// ProviderTool converts the schema to the function-calling payload shape
// expected by the completion provider.
func (s ToolSchema) ProviderTool() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.ParametersJSON(),
		},
	}
}

// firstDocLine returns the first non-empty line of a doc block, trimmed.
func firstDocLine(doc string) string {
	for _, line := range strings.Split(doc, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// argDescription scans doc for an "Args:" section and returns the text
// after the first "name:" line within it, or "" when the parameter is not
// documented.
func argDescription(doc, name string) string {
	inArgs := false
	for _, line := range strings.Split(doc, "\n") {
		stripped := strings.TrimSpace(line)
		lower := strings.ToLower(stripped)
		if strings.HasPrefix(lower, "args:") {
			inArgs = true
			continue
		}
		if !inArgs {
			continue
		}
		if strings.HasPrefix(lower, "returns:") || strings.HasPrefix(lower, "raises:") || strings.HasPrefix(lower, "example") {
			return ""
		}
		if strings.HasPrefix(stripped, name+":") {
			return strings.TrimSpace(stripped[len(name)+1:])
		}
	}
	return ""
}
