package cmd

import (
	"fmt"

	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/output"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/spf13/cobra"
)

var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show reminders whose local and server copies diverged",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withApp(func(a *app) error {
			cs, err := a.orch.Conflicts()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if jsonOutput {
				if cs == nil {
					cs = []models.Conflict{}
				}
				return output.JSON(cs)
			}
			if len(cs) == 0 {
				fmt.Println("No conflicts.")
				return nil
			}
			for _, c := range cs {
				local, err := a.db.Get(c.LocalID)
				if err != nil {
					output.Warning("%s: %v", output.ShortID(c.LocalID), err)
					continue
				}
				fmt.Print(output.RenderConflict(*local, c))
			}
			fmt.Println("Resolve with: rem sync resolve <id> --keep local|server")
			return nil
		})
	},
}

var syncResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Settle a conflict by keeping the local or the server copy",
	Example: `  rem sync resolve 3f2a --keep server
  rem sync resolve #12 --keep local`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetString("keep")
		res, err := remsync.ParseResolution(keep)
		if err != nil {
			output.Error("%v", err)
			return err
		}
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
			dropped, err := a.orch.ResolveConflict(cmd.Context(), r.LocalID, res)
			if err != nil {
				output.Error("resolve %s: %v", output.ShortID(r.LocalID), err)
				return err
			}
			output.Success("RESOLVED %s (kept %s)", output.ShortID(r.LocalID), res)
			if len(dropped) > 0 {
				fmt.Printf("Dropped %d queued change(s)\n", len(dropped))
			}
			autoSyncAfterMutation(cmd.Context(), a, cmd.Name())
			return nil
		})
	},
}

func init() {
	syncConflictsCmd.Flags().Bool("json", false, "JSON output")
	syncResolveCmd.Flags().String("keep", "", "which copy wins: local or server")
	syncResolveCmd.MarkFlagRequired("keep")

	syncCmd.AddCommand(syncConflictsCmd)
	syncCmd.AddCommand(syncResolveCmd)
}
