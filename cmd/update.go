package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/output"
	"github.com/spf13/cobra"
)

var (
	updateDate     string
	updateTime     string
	updatePriority models.Priority
)

var updateCmd = &cobra.Command{
	Use:     "update <id>",
	Aliases: []string{"edit"},
	Short:   "Change a reminder",
	Example: `  rem update 3f2a --text "Call the dentist back" --time 4pm
  rem update #12 --all-day`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := updatePatch(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if patch.IsEmpty() {
			err := fmt.Errorf("nothing to update")
			output.Error("%v", err)
			return err
		}

		return withApp(func(a *app) error {
			r, err := resolveReminder(a.coord.View(), args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			p, err := a.coord.Update(cmd.Context(), r.LocalID, patch)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			autoSyncAfterMutation(cmd.Context(), a, cmd.Name())
			return reportPending(p, fmt.Sprintf("UPDATED %s", output.ShortID(r.LocalID)))
		})
	},
}

// updatePatch turns the flags that were set into a patch.
func updatePatch(cmd *cobra.Command) (models.ReminderPatch, error) {
	var p models.ReminderPatch
	flags := cmd.Flags()
	if flags.Changed("text") {
		s, _ := flags.GetString("text")
		s = strings.TrimSpace(s)
		p.Text = &s
	}
	if flags.Changed("date") {
		p.ReminderDate = &updateDate
	}
	if flags.Changed("priority") {
		p.Priority = &updatePriority
	}

	allDay, _ := flags.GetBool("all-day")
	switch {
	case allDay && flags.Changed("time"):
		return p, fmt.Errorf("--all-day and --time are mutually exclusive")
	case allDay:
		on, empty := true, ""
		p.IsAllDay, p.ReminderTime = &on, &empty
	case flags.Changed("time"):
		off := false
		p.IsAllDay, p.ReminderTime = &off, &updateTime
	}
	return p, nil
}

func init() {
	updateCmd.Flags().String("text", "", "new text")
	updateCmd.Flags().Var(dateValue{&updateDate}, "date", "new date")
	updateCmd.Flags().Var(timeValue{&updateTime}, "time", "new time of day (clears all-day)")
	updateCmd.Flags().VarP(newPriorityValue(&updatePriority), "priority", "p", "new priority (low, medium, high)")
	updateCmd.Flags().Bool("all-day", false, "make the reminder all-day (clears time)")
	rootCmd.AddCommand(updateCmd)
}
