package cmd

import (
	"fmt"

	"github.com/marcus/rem/internal/output"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Aliases: []string{"view"},
	Short:   "Show a reminder and its queued changes",
	Long:    `Show a reminder by local id, unique id prefix, or #<server id>.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withApp(func(a *app) error {
			rows, err := a.db.ListAll()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			r, err := resolveReminder(rows, args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			ops, err := a.db.ListOperationsForEntity(r.LocalID)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if jsonOutput {
				return output.JSON(map[string]any{"reminder": r, "queued": ops})
			}
			fmt.Print(output.FormatReminderLong(r, ops))
			return nil
		})
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(showCmd)
}
