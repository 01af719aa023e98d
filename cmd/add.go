package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/output"
	"github.com/spf13/cobra"
)

var (
	addDate     string
	addTime     string
	addPriority = models.PriorityMedium
	addAllDay   bool
)

var addCmd = &cobra.Command{
	Use:     "add <text>",
	Aliases: []string{"new", "create"},
	Short:   "Add a reminder",
	Long: `Add a reminder. It is saved locally right away and pushed to the sync
server when one is reachable.

Dates accept YYYY-MM-DD, today, tomorrow, weekday names and offsets like +3d.
Times accept HH:MM, 9am or 9:30pm. Without --time the reminder is all-day.`,
	Example: `  rem add "Call the dentist" --date tomorrow --time 9am
  rem add "Pay rent" --date 2026-11-01 --priority high`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		date := addDate
		if date == "" {
			date = time.Now().Format(models.DateLayout)
		}
		allDay := addAllDay || addTime == ""
		tod := addTime
		if allDay {
			tod = ""
		}
		prio := addPriority
		patch := models.ReminderPatch{
			Text:         &text,
			ReminderDate: &date,
			ReminderTime: &tod,
			IsAllDay:     &allDay,
			Priority:     &prio,
		}

		return withApp(func(a *app) error {
			p, err := a.coord.Create(cmd.Context(), patch)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			autoSyncAfterMutation(cmd.Context(), a, cmd.Name())
			return reportPending(p, fmt.Sprintf("ADDED %s", output.ShortID(p.LocalID)))
		})
	},
}

func init() {
	addCmd.Flags().Var(dateValue{&addDate}, "date", "reminder date (default today)")
	addCmd.Flags().Var(timeValue{&addTime}, "time", "time of day")
	addCmd.Flags().VarP(newPriorityValue(&addPriority), "priority", "p", "priority (low, medium, high)")
	addCmd.Flags().BoolVar(&addAllDay, "all-day", false, "mark as all-day even if --time is given")
	rootCmd.AddCommand(addCmd)
}
