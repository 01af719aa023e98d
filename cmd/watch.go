package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/rem/internal/connectivity"
	"github.com/marcus/rem/internal/logging"
	"github.com/marcus/rem/internal/metrics"
	"github.com/marcus/rem/internal/output"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/marcus/rem/internal/tui/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"ui"},
	Short:   "Live reminders view with background sync",
	Long: `Open a live view of your reminders. Changes apply immediately and sync
in the background; the event feed shows retries, conflicts and auth changes.

Logs go to a rotated file (config key log.file) while the view is open.

Key bindings:
  j/k            Move
  space / x      Toggle completed
  a              Add a reminder for today
  d              Delete
  s              Sync now
  ?              Toggle help
  q              Quit`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		probe, _ := cmd.Flags().GetDuration("probe")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		// The alt screen owns the terminal, so logs move to a file.
		if logCloser != nil {
			logCloser.Close()
		}
		logCloser = logging.Setup(logging.Options{
			Level:  effectiveLogLevel(),
			Format: logFormat,
			File:   syncconfig.GetLogFile(),
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var sm *metrics.Sync
		if metricsAddr != "" {
			reg := metrics.NewRegistry()
			sm = metrics.NewSync(reg)
			srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("watch: metrics server", "addr", metricsAddr, "err", err)
				}
			}()
			defer srv.Close()
		}

		a, err := openApp(sm)
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		mon := connectivity.New(a.client, probe)
		go mon.Run(ctx)
		defer a.orch.RegisterBackgroundSync(mon)()

		if syncconfig.IsAuthenticated() {
			a.orch.Start(ctx)
		} else {
			slog.Info("watch: not logged in, sync disabled")
		}

		if err := watch.Run(ctx, a.coord, a.coord, a.orch, versionStr); err != nil {
			return fmt.Errorf("error running watch: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("probe", connectivity.DefaultInterval, "connectivity probe interval")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9091)")
	rootCmd.AddCommand(watchCmd)
}
