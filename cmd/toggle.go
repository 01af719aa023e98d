package cmd

import (
	"context"
	"fmt"

	"github.com/marcus/rem/internal/optimistic"
	"github.com/marcus/rem/internal/output"
	"github.com/spf13/cobra"
)

var toggleCmd = &cobra.Command{
	Use:     "toggle <id> [id...]",
	Aliases: []string{"done"},
	Short:   "Flip reminders between open and done",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return mutateEach(cmd, a, args, "TOGGLED", a.coord.Toggle)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id> [id...]",
	Aliases: []string{"rm"},
	Short:   "Delete reminders",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return mutateEach(cmd, a, args, "DELETED", a.coord.Delete)
		})
	},
}

type mutateFunc func(ctx context.Context, localID string) (*optimistic.Pending, error)

// mutateEach applies fn to every referenced reminder, runs one sync pass and
// reports each result. It keeps going past bad references.
func mutateEach(cmd *cobra.Command, a *app, refs []string, verb string, fn mutateFunc) error {
	type applied struct {
		p    *optimistic.Pending
		what string
	}
	var (
		done     []applied
		firstErr error
	)
	for _, ref := range refs {
		r, err := resolveReminder(a.coord.View(), ref)
		if err == nil {
			var p *optimistic.Pending
			if p, err = fn(cmd.Context(), r.LocalID); err == nil {
				done = append(done, applied{p, fmt.Sprintf("%s %s", verb, output.ShortID(r.LocalID))})
				continue
			}
		}
		output.Error("%s: %v", ref, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if len(done) > 0 {
		autoSyncAfterMutation(cmd.Context(), a, cmd.Name())
	}
	for _, d := range done {
		if err := reportPending(d.p, d.what); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func init() {
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(deleteCmd)
}
