package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/output"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/marcus/rem/internal/version"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Aliases: []string{"info"},
	Short:   "Show local store statistics",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			stats, err := a.db.Stats()
			if err != nil {
				output.Error("failed to get stats: %v", err)
				return err
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return output.JSON(stats)
			}

			dir, _ := syncconfig.GetDataDir()
			fmt.Printf("Store:      %s (%s, schema v%d)\n", dir, output.FormatBytes(stats.DBSizeBytes), stats.SchemaVersion)
			fmt.Printf("Last sync:  %s\n", output.FormatTimeAgo(stats.LastSyncTime))
			fmt.Printf("\nReminders:  %d (%d done)\n", stats.Total, stats.Completed)
			fmt.Printf("  synced:    %d\n", stats.Synced)
			fmt.Printf("  pending:   %d\n", stats.Pending)
			fmt.Printf("  conflicts: %d\n", stats.Conflicts)
			if stats.Deleted > 0 {
				fmt.Printf("  deleting:  %d\n", stats.Deleted)
			}

			fmt.Println("\nBy priority:")
			for _, p := range []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow} {
				fmt.Printf("  %-7s %d\n", string(p)+":", stats.ByPriority[p])
			}

			fmt.Printf("\nOutbox:     %d queued, %d failed\n", stats.QueuedOps, stats.FailedOps)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Show version and check for updates",
	GroupID: "system",
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Print(versionStr)
			return
		}

		checkUpdates, _ := cmd.Flags().GetBool("check")

		fmt.Printf("rem version %s\n", versionStr)

		if !checkUpdates || version.IsDevelopmentVersion(versionStr) {
			return
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		result := version.CheckCached(ctx, versionStr)
		if result.Error != nil {
			// network errors are not worth reporting here
			return
		}
		if result.HasUpdate {
			fmt.Printf("\nUpdate available: %s → %s\n", versionStr, result.LatestVersion)
			if c := version.UpdateCommand(result.LatestVersion); c != "" {
				fmt.Printf("Run: %s\n", c)
			}
		}
	},
}

// exportData is the rem export document.
type exportData struct {
	ExportedAt time.Time          `json:"exportedAt"`
	Reminders  []models.Reminder  `json:"reminders"`
	Outbox     []models.Operation `json:"outbox"`
	Conflicts  []models.Conflict  `json:"conflicts"`
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export the local store as JSON",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath, _ := cmd.Flags().GetString("output")
		includeAll, _ := cmd.Flags().GetBool("all")

		return withApp(func(a *app) error {
			f := models.ReminderFilter{IncludeDeleted: includeAll}
			rows, err := a.db.ListFiltered(f)
			if err != nil {
				output.Error("failed to list reminders: %v", err)
				return err
			}
			ops, err := a.db.ListOperations()
			if err != nil {
				output.Error("failed to list outbox: %v", err)
				return err
			}
			cs, err := a.db.ListConflicts()
			if err != nil {
				output.Error("failed to list conflicts: %v", err)
				return err
			}
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

			doc := exportData{
				ExportedAt: time.Now().UTC(),
				Reminders:  nonNil(rows),
				Outbox:     nonNil(ops),
				Conflicts:  nonNil(cs),
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}

			if outputPath == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(outputPath, append(data, '\n'), 0644); err != nil {
				output.Error("write %s: %v", outputPath, err)
				return err
			}
			output.Success("Exported %d reminder(s) to %s", len(rows), outputPath)
			return nil
		})
	},
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func init() {
	statsCmd.Flags().Bool("json", false, "JSON output")
	versionCmd.Flags().Bool("short", false, "print only the version")
	versionCmd.Flags().Bool("check", true, "check for updates")
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	exportCmd.Flags().Bool("all", false, "include reminders deleted locally but not yet synced")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(exportCmd)
}
