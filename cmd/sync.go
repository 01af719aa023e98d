package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/output"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Pull server changes and push queued ones",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pullOnly, _ := cmd.Flags().GetBool("pull")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: rem auth login)")
			return fmt.Errorf("not authenticated")
		}

		return withApp(func(a *app) error {
			if verbose {
				defer a.orch.Events().Subscribe(func(e events.Event) {
					output.Info("  %s", e.Message())
				})()
			}

			var err error
			if pullOnly {
				err = a.orch.PullOnly(cmd.Context())
			} else {
				err = a.orch.SyncNow(cmd.Context())
			}
			st := a.orch.Status()
			switch {
			case errors.Is(err, remsync.ErrAuthHalted):
				output.Error("session expired (run: rem auth login)")
				return err
			case errors.Is(err, remsync.ErrOffline):
				output.Warning("server unreachable; %d change(s) stay queued", st.PendingCount)
				return err
			case err != nil:
				output.Error("sync: %v", err)
				return err
			}

			output.Success("Synced")
			printSyncCounts(st)
			return nil
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued changes and the last sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withApp(func(a *app) error {
			st := a.orch.Status()
			ops, err := a.orch.PendingOperations()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if jsonOutput {
				return output.JSON(map[string]any{"status": st, "operations": ops})
			}

			fmt.Printf("Server:    %s\n", syncconfig.GetServerURL())
			if creds, _ := syncconfig.LoadAuth(); creds != nil && creds.Username != "" {
				fmt.Printf("User:      %s\n", creds.Username)
			} else {
				fmt.Println("User:      not logged in")
			}
			fmt.Printf("Last sync: %s\n", output.FormatTimeAgo(st.LastSyncTime))
			if st.AuthExpired {
				output.Warning("sync halted until you log in again")
			}
			if st.LastError != "" {
				fmt.Printf("Last error: %s\n", st.LastError)
			}
			printSyncCounts(st)

			if len(ops) > 0 {
				fmt.Print(output.SectionHeader("Outbox"))
				for _, op := range ops {
					fmt.Println("  " + output.FormatOperation(op))
				}
			}
			return nil
		})
	},
}

func printSyncCounts(st remsync.Status) {
	fmt.Printf("Pending: %d  Failed: %d  Conflicts: %d\n", st.PendingCount, st.FailedCount, st.ConflictCount)
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry <op-id>",
	Short: "Reset a failed change so it is pushed again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			op, err := a.orch.RetryOperation(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("RESET %s %s %s", output.ShortID(op.ID), op.Type, output.ShortID(op.LocalID))
			autoSyncAfterMutation(cmd.Context(), a, cmd.Name())
			return nil
		})
	},
}

var syncDiscardCmd = &cobra.Command{
	Use:   "discard <op-id>",
	Short: "Abandon a queued change",
	Long: `Abandon a queued change. Discarding a create removes the reminder,
which the server never saw; discarding anything else lets the next sync
restore the server copy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			op, err := a.orch.DiscardOperation(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("DISCARDED %s %s %s", output.ShortID(op.ID), op.Type, output.ShortID(op.LocalID))
			return nil
		})
	},
}

var syncClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued change and the last sync time",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			err := fmt.Errorf("refusing to drop queued changes without --force")
			output.Error("%v", err)
			return err
		}
		return withApp(func(a *app) error {
			n, err := a.orch.ClearOutbox()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("Cleared %d queued change(s)", n)
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().Bool("pull", false, "Pull only")
	syncCmd.Flags().BoolP("verbose", "v", false, "Print retry and auth events")
	syncStatusCmd.Flags().Bool("json", false, "JSON output")
	syncClearCmd.Flags().Bool("force", false, "Confirm dropping queued changes")

	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncRetryCmd)
	syncCmd.AddCommand(syncDiscardCmd)
	syncCmd.AddCommand(syncClearCmd)
	rootCmd.AddCommand(syncCmd)
}
