package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haloweave/cortana/internal/agent"
	"github.com/haloweave/cortana/internal/store"
)

const addTodoDoc = `Adds a new item to the user's To-Do list.

Args:
    content: The content of the task.
    due_date: Optional deadline for the task.
    priority: Priority level (1=High, 5=Low, default=3).
`

const listTodosDoc = `Lists the user's To-Do items.

Args:
    status: Filter by status ('PENDING', 'COMPLETED', 'ARCHIVED').
    limit: Max number of items to return.
`

const completeTodoDoc = `Marks a To-Do item as completed.

Args:
    todo_id: The ID of the todo item to complete.
`

func todoDefinitions(st *store.Store) []*agent.Definition {
	return []*agent.Definition{
		agent.NewDefinition("add_todo", addTodoDoc).
			Param("content", agent.String).
			Optional("due_date", agent.DateTime, nil).
			Optional("priority", agent.Integer, 3).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				content := args.String("content")
				var due *time.Time
				if t, ok := args.Time("due_date"); ok {
					due = &t
				}
				if _, err := st.AddTodo(rc.UserID, content, due, args.Int("priority")); err != nil {
					return "", err
				}
				return fmt.Sprintf("Todo added: %s", content), nil
			}),

		agent.NewDefinition("list_todos", listTodosDoc).
			Optional("status", agent.String, "PENDING").
			Optional("limit", agent.Integer, 10).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				status := strings.ToUpper(args.String("status"))
				todos, err := st.ListTodos(rc.UserID, status, args.Int("limit"))
				if err != nil {
					return "", err
				}
				if len(todos) == 0 {
					return fmt.Sprintf("No %s todos found.", strings.ToLower(status)), nil
				}
				var b strings.Builder
				fmt.Fprintf(&b, "**%s Todos:**\n", status)
				for _, todo := range todos {
					due := ""
					if todo.DueDate != nil {
						due = fmt.Sprintf(" (Due: %s)", todo.DueDate.Format("2006-01-02 15:04"))
					}
					fmt.Fprintf(&b, "- [%d] %s%s\n", todo.ID, todo.Content, due)
				}
				return b.String(), nil
			}),

		agent.NewDefinition("complete_todo", completeTodoDoc).
			Param("todo_id", agent.Integer).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				id := int64(args.Int("todo_id"))
				if err := st.CompleteTodo(rc.UserID, id); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return "Todo not found or access denied.", nil
					}
					return "", err
				}
				return fmt.Sprintf("Todo %d marked as completed.", id), nil
			}),
	}
}
