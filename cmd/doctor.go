package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/rem/internal/syncclient"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run diagnostic checks for sync setup",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		runDoctor(ctx)
		return nil
	},
}

func runDoctor(ctx context.Context) {
	// 1. Auth config
	auth, err := syncconfig.LoadAuth()
	authOK := err == nil && syncconfig.IsAuthenticated()
	switch {
	case err != nil:
		fmt.Printf("Auth config ............ FAIL (%v)\n", err)
	case authOK && auth != nil:
		fmt.Printf("Auth config ............ OK (%s)\n", auth.Username)
	case authOK:
		fmt.Printf("Auth config ............ OK (REM_AUTH_TOKEN)\n")
	default:
		fmt.Printf("Auth config ............ FAIL (not logged in)\n")
	}

	// 2. Local store; opening it also wires the client we probe with.
	a, err := openApp(nil)
	if err != nil {
		fmt.Printf("Local database ......... FAIL (%v)\n", err)
		fmt.Printf("Server reachable ....... SKIP\n")
		return
	}
	defer a.Close()
	if v, err := a.db.GetSchemaVersion(); err == nil {
		fmt.Printf("Local database ......... OK (schema v%d)\n", v)
	} else {
		fmt.Printf("Local database ......... WARN (%v)\n", err)
	}

	// 3. Server reachable; healthz needs no auth
	serverURL := syncconfig.GetServerURL()
	serverOK := false
	if _, err := a.client.HealthCheck(ctx); err == nil {
		serverOK = true
		fmt.Printf("Server reachable ....... OK (%s)\n", serverURL)
	} else {
		fmt.Printf("Server reachable ....... FAIL (%v)\n", err)
	}

	// 4. Auth valid
	if !authOK || !serverOK {
		fmt.Printf("Auth valid ............. SKIP\n")
	} else {
		err := a.client.Request(ctx, syncclient.RequestSpec{
			Method:  http.MethodGet,
			Path:    "/api/reminders?page=0&size=1",
			NoRetry: true,
		}, nil)
		switch {
		case err == nil:
			fmt.Printf("Auth valid ............. OK\n")
		case errors.Is(err, syncclient.ErrAuthExpired), errors.Is(err, syncclient.ErrUnauthorized):
			fmt.Printf("Auth valid ............. FAIL (session expired, run: rem auth login)\n")
		default:
			fmt.Printf("Auth valid ............. FAIL (%v)\n", err)
		}
	}

	// 5. Sync state
	st := a.orch.Status()
	if st.AuthExpired {
		fmt.Printf("Sync state ............. HALTED (waiting for login)\n")
	} else {
		fmt.Printf("Sync state ............. OK (last sync %s)\n", formatLastSync(st.LastSyncTime))
	}

	// 6. Outbox
	fmt.Printf("Queued changes ......... %d\n", st.PendingCount)
	if st.FailedCount > 0 {
		fmt.Printf("Failed changes ......... %d (see: rem sync status)\n", st.FailedCount)
	}
	if st.ConflictCount > 0 {
		fmt.Printf("Conflicts .............. %d (see: rem sync conflicts)\n", st.ConflictCount)
	}
}

func formatLastSync(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
