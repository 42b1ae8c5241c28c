package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, _ *RunContext, args Args) (string, error) {
	return "echo: " + args.String("text"), nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDefinition("echo", "Echoes text back.\n\nArgs:\n    text: The text to echo.").
			Param("text", String).
			Handle(echoHandler)))
	require.NoError(t, r.Register(
		NewDefinition("add", "Adds two numbers.").
			Param("a", Number).
			Param("b", Number).
			Handle(func(_ context.Context, _ *RunContext, args Args) (string, error) {
				return fmt.Sprintf("%g", args.Float("a")+args.Float("b")), nil
			})))
	return r
}

func TestRegistryOrder(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"echo", "add"}, r.Names())

	tools := r.ProviderTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Function.Name)
	assert.Equal(t, "add", tools[1].Function.Name)
}

func TestRegistryEmptyProviderTools(t *testing.T) {
	assert.Nil(t, NewRegistry().ProviderTools())
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := NewRegistry()
	err := r.Register(NewDefinition("no_handler", "doc").Param("x", String))
	assert.Error(t, err)
}

func TestRegistryReRegisterOverwrites(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(
		NewDefinition("echo", "Echoes louder.").
			Param("text", String).
			Handle(func(_ context.Context, _ *RunContext, args Args) (string, error) {
				return "ECHO: " + args.String("text"), nil
			})))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"echo", "add"}, r.Names())
	got := r.Dispatch(context.Background(), NewRunContext(), "echo", `{"text":"hi"}`)
	assert.Equal(t, "ECHO: hi", got)
}

func TestDispatchSuccess(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Dispatch(context.Background(), NewRunContext(), "echo", `{"text":"hello"}`)
	assert.Equal(t, "echo: hello", got)
}

func TestDispatchUnknownTool(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Dispatch(context.Background(), NewRunContext(), "nope", `{}`)
	assert.Equal(t, "Error: Unknown tool 'nope'. Available tools: echo, add", got)
}

func TestDispatchInvalidJSON(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Dispatch(context.Background(), NewRunContext(), "echo", `{"text":`)
	assert.Contains(t, got, "Error: Invalid JSON arguments for tool 'echo':")
}

func TestDispatchMissingRequired(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Dispatch(context.Background(), NewRunContext(), "echo", `{}`)
	assert.Contains(t, got, "Error: Invalid arguments for tool 'echo':")
}

func TestDispatchWrongType(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Dispatch(context.Background(), NewRunContext(), "add", `{"a":"one","b":2}`)
	assert.Contains(t, got, "Error: Invalid arguments for tool 'add':")
}

func TestDispatchEmptyArgsTreatedAsObject(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDefinition("now", "Tells the time.").
			Handle(func(_ context.Context, _ *RunContext, _ Args) (string, error) {
				return "noonish", nil
			})))
	assert.Equal(t, "noonish", r.Dispatch(context.Background(), NewRunContext(), "now", ""))
}

func TestDispatchDefaultInjection(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDefinition("list_todos", "Lists to-dos.").
			Optional("limit", Integer, 10).
			Handle(func(_ context.Context, _ *RunContext, args Args) (string, error) {
				return fmt.Sprintf("limit=%d", args.Int("limit")), nil
			})))

	assert.Equal(t, "limit=10", r.Dispatch(context.Background(), NewRunContext(), "list_todos", `{}`))
	assert.Equal(t, "limit=3", r.Dispatch(context.Background(), NewRunContext(), "list_todos", `{"limit":3}`))
}

func TestDispatchDateTimeCoercion(t *testing.T) {
	var got time.Time
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDefinition("remind", "Sets a reminder.").
			Param("at", DateTime).
			Handle(func(_ context.Context, _ *RunContext, args Args) (string, error) {
				var ok bool
				got, ok = args.Time("at")
				if !ok {
					return "", errors.New("no time")
				}
				return "ok", nil
			})))

	out := r.Dispatch(context.Background(), NewRunContext(), "remind", `{"at":"2026-08-30T10:15:00Z"}`)
	require.Equal(t, "ok", out)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC), got)

	out = r.Dispatch(context.Background(), NewRunContext(), "remind", `{"at":"not a date"}`)
	assert.Contains(t, out, "Error: Invalid arguments for tool 'remind':")
}

func TestDispatchHandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDefinition("boom", "Always fails.").
			Handle(func(_ context.Context, _ *RunContext, _ Args) (string, error) {
				return "", errors.New("database unavailable")
			})))

	got := r.Dispatch(context.Background(), NewRunContext(), "boom", `{}`)
	assert.Equal(t, "Error executing tool 'boom': database unavailable", got)
}

func TestDispatchHandlerPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		NewDefinition("crash", "Panics.").
			Handle(func(_ context.Context, _ *RunContext, _ Args) (string, error) {
				panic("index out of range")
			})))

	got := r.Dispatch(context.Background(), NewRunContext(), "crash", `{}`)
	assert.Contains(t, got, "Error executing tool 'crash':")
	assert.Contains(t, got, "index out of range")
}
