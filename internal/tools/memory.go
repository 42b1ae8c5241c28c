package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haloweave/cortana/internal/agent"
	"github.com/haloweave/cortana/internal/store"
)

const saveMemoryDoc = `Saves a fact about the user to long-term memory.

Args:
    content: The fact to remember.
`

const searchMemoryDoc = `Searches the user's long-term memory (facts).

Args:
    query: The search query.
    limit: Number of results to return.
`

func memoryDefinitions(st *store.Store) []*agent.Definition {
	return []*agent.Definition{
		agent.NewDefinition("save_memory", saveMemoryDoc).
			Param("content", agent.String).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				content := strings.TrimSpace(args.String("content"))
				if content == "" {
					return "Nothing to remember.", nil
				}
				if _, err := st.AddMemory(rc.UserID, content); err != nil {
					return "", err
				}
				return "Memory saved.", nil
			}),

		agent.NewDefinition("search_long_term_memory", searchMemoryDoc).
			Param("query", agent.String).
			Optional("limit", agent.Integer, 3).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				memories, err := st.SearchMemories(rc.UserID, args.String("query"), args.Int("limit"))
				if err != nil {
					return "", err
				}
				if len(memories) == 0 {
					return "No relevant memories found.", nil
				}
				var b strings.Builder
				b.WriteString("Found relevant context:\n")
				for _, m := range memories {
					fmt.Fprintf(&b, "- %s\n", m.Content)
				}
				return b.String(), nil
			}),
	}
}
