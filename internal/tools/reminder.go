package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haloweave/cortana/internal/agent"
	"github.com/haloweave/cortana/internal/store"
)

const addReminderDoc = `Sets a reminder that will be delivered to the user at the given time.

Args:
    message: What to remind the user about.
    remind_time: When to deliver the reminder.
`

const listRemindersDoc = `Lists the user's pending reminders.
`

const cancelReminderDoc = `Cancels a pending reminder.

Args:
    reminder_id: The ID of the reminder to cancel.
`

func reminderDefinitions(st *store.Store) []*agent.Definition {
	return []*agent.Definition{
		agent.NewDefinition("add_reminder", addReminderDoc).
			Param("message", agent.String).
			Param("remind_time", agent.DateTime).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				message := args.String("message")
				remindTime, _ := args.Time("remind_time")
				id, err := st.AddReminder(rc.UserID, rc.ChatID, rc.Channel, message, remindTime)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Reminder %d set for %s: %s", id, remindTime.Format("2006-01-02 15:04"), message), nil
			}),

		agent.NewDefinition("list_reminders", listRemindersDoc).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				reminders, err := st.ListPendingReminders(rc.UserID)
				if err != nil {
					return "", err
				}
				if len(reminders) == 0 {
					return "No pending reminders.", nil
				}
				var b strings.Builder
				b.WriteString("**Pending Reminders:**\n")
				for _, r := range reminders {
					fmt.Fprintf(&b, "- [%d] %s (at %s)\n", r.ID, r.Message, r.RemindTime.Format("2006-01-02 15:04"))
				}
				return b.String(), nil
			}),

		agent.NewDefinition("cancel_reminder", cancelReminderDoc).
			Param("reminder_id", agent.Integer).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				id := int64(args.Int("reminder_id"))
				if err := st.CancelReminder(rc.UserID, id); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return "Reminder not found or already sent.", nil
					}
					return "", err
				}
				return fmt.Sprintf("Reminder %d cancelled.", id), nil
			}),
	}
}
