package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haloweave/cortana/internal/agent"
	"github.com/haloweave/cortana/internal/store"
)

const addEventDoc = `Adds an event to the user's calendar.

Args:
    title: Title of the event.
    start_time: Start time of the event.
    end_time: End time of the event.
    location: Optional location.
`

const checkAvailabilityDoc = `Checks for conflicting events in a given time range.

Args:
    start_range: Start of the range to check.
    end_range: End of the range to check.
`

const eventTimeLayout = "2006-01-02 15:04"

func calendarDefinitions(st *store.Store) []*agent.Definition {
	return []*agent.Definition{
		agent.NewDefinition("add_calendar_event", addEventDoc).
			Param("title", agent.String).
			Param("start_time", agent.DateTime).
			Param("end_time", agent.DateTime).
			Optional("location", agent.String, nil).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				title := args.String("title")
				start, _ := args.Time("start_time")
				end, _ := args.Time("end_time")
				if !end.After(start) {
					return "End time must be after start time.", nil
				}
				if _, err := st.AddEvent(rc.UserID, title, start, end, args.String("location")); err != nil {
					return "", err
				}
				return fmt.Sprintf("Event added: %s at %s", title, start.Format(eventTimeLayout)), nil
			}),

		agent.NewDefinition("check_calendar_availability", checkAvailabilityDoc).
			Param("start_range", agent.DateTime).
			Param("end_range", agent.DateTime).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				start, _ := args.Time("start_range")
				end, _ := args.Time("end_range")
				events, err := st.EventsOverlapping(rc.UserID, start, end)
				if err != nil {
					return "", err
				}
				if len(events) == 0 {
					return "No conflicts found in this time range.", nil
				}
				parts := make([]string, 0, len(events))
				for _, e := range events {
					parts = append(parts, fmt.Sprintf("%s (%s - %s)",
						e.Title, e.StartTime.Format(eventTimeLayout), e.EndTime.Format(eventTimeLayout)))
				}
				return fmt.Sprintf("Conflicts found: %s", strings.Join(parts, ", ")), nil
			}),
	}
}
