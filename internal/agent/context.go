package agent

// RunContext is the per-run dependency bag threaded unchanged through every
// tool invocation. The engine never reads its fields; tools do. It is
// created fresh for each Run call and must not be shared across runs.
type RunContext struct {
	UserID        string
	UserName      string
	ChatID        string
	Channel       string
	Timezone      string
	MemoryContext string

	// Extra carries tool-specific dependencies that have no named field.
	Extra map[string]any
}

// NewRunContext returns an empty context with Extra initialized.
func NewRunContext() *RunContext {
	return &RunContext{Extra: map[string]any{}}
}

// Get looks up a key in Extra, returning def when absent.
func (rc *RunContext) Get(key string, def any) any {
	if rc == nil || rc.Extra == nil {
		return def
	}
	if v, ok := rc.Extra[key]; ok {
		return v
	}
	return def
}
