// Package tools holds the builtin tool handlers the assistant exposes to
// the model: todos, calendar, reminders, memory, web fetch, file access,
// and shell execution. Handlers return plain text for the model; errors
// are converted to tool-result text upstream.
package tools

import (
	"github.com/haloweave/cortana/internal/agent"
	"github.com/haloweave/cortana/internal/config"
	"github.com/haloweave/cortana/internal/store"
)

// Deps carries what the handlers need at registration time.
type Deps struct {
	Store     *store.Store
	Config    config.ToolsConfig
	Workspace string
}

// RegisterAll registers every builtin tool enabled by the config.
func RegisterAll(reg *agent.Registry, deps Deps) error {
	defs := make([]*agent.Definition, 0, 16)
	defs = append(defs, todoDefinitions(deps.Store)...)
	defs = append(defs, calendarDefinitions(deps.Store)...)
	defs = append(defs, reminderDefinitions(deps.Store)...)
	defs = append(defs, memoryDefinitions(deps.Store)...)

	if deps.Config.EnableWeb {
		defs = append(defs, webDefinitions()...)
	}
	if deps.Config.EnableFiles {
		defs = append(defs, fileDefinitions(deps.Workspace, deps.Config.RestrictToWorkspace)...)
	}
	if deps.Config.EnableShell {
		defs = append(defs, shellDefinitions(deps.Workspace, deps.Config.ExecTimeout)...)
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
