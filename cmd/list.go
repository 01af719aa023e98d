package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/rem/internal/dateparse"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/output"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reminders",
	Long: `List reminders from the local store, ordered by date.

Rows marked ↑ have changes waiting to sync; rows marked ! are in conflict.`,
	Example: `  rem list --pending --from today --to +7d
  rem list --priority high --search dentist`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := listFilter(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(func(a *app) error {
			rows, err := a.db.ListFiltered(f)
			if err != nil {
				output.Error("list: %v", err)
				return err
			}
			if jsonOutput {
				if rows == nil {
					rows = []models.Reminder{}
				}
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("No reminders.")
				return nil
			}
			width := output.TerminalWidth(100)
			for _, r := range rows {
				fmt.Println(output.FormatReminderShort(r, width))
			}
			return nil
		})
	},
}

// listFilter builds the store filter from list flags.
func listFilter(cmd *cobra.Command) (models.ReminderFilter, error) {
	var f models.ReminderFilter
	flags := cmd.Flags()

	done, _ := flags.GetBool("done")
	open, _ := flags.GetBool("open")
	switch {
	case done && open:
		return f, fmt.Errorf("--done and --open are mutually exclusive")
	case done:
		f.Completed = &done
	case open:
		completed := false
		f.Completed = &completed
	}

	if s, _ := flags.GetString("priority"); s != "" {
		p, err := models.ParsePriority(s)
		if err != nil {
			return f, err
		}
		f.Priority = p
	}

	pending, _ := flags.GetBool("pending")
	conflicts, _ := flags.GetBool("conflicts")
	switch {
	case pending && conflicts:
		return f, fmt.Errorf("--pending and --conflicts are mutually exclusive")
	case pending:
		f.Status = models.StatusPending
	case conflicts:
		f.Status = models.StatusConflict
	}

	for _, b := range []struct {
		flag string
		dst  *string
	}{{"from", &f.From}, {"to", &f.To}} {
		s, _ := flags.GetString(b.flag)
		if s == "" {
			continue
		}
		d, err := dateparse.ParseDate(s)
		if err != nil {
			return f, fmt.Errorf("--%s: %w", b.flag, err)
		}
		*b.dst = d
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return f, fmt.Errorf("--from %s is after --to %s", f.From, f.To)
	}

	q, _ := flags.GetString("search")
	f.Query = strings.TrimSpace(q)
	f.IncludeDeleted, _ = flags.GetBool("deleted")
	return f, nil
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("done", false, "only completed reminders")
	cmd.Flags().Bool("open", false, "only open reminders")
	cmd.Flags().String("priority", "", "filter by priority (low, medium, high)")
	cmd.Flags().Bool("pending", false, "only reminders with unsynced changes")
	cmd.Flags().Bool("conflicts", false, "only reminders in conflict")
	cmd.Flags().String("from", "", "earliest reminder date (inclusive)")
	cmd.Flags().String("to", "", "latest reminder date (inclusive)")
	cmd.Flags().StringP("search", "s", "", "text search")
	cmd.Flags().Bool("deleted", false, "include reminders deleted locally but not yet synced")
	cmd.Flags().Bool("json", false, "JSON output")
}

func init() {
	addListFlags(listCmd)
	rootCmd.AddCommand(listCmd)
}
