package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/marcus/rem/internal/logging"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/spf13/cobra"
)

var (
	versionStr string
	logCloser  io.Closer

	logFormat string
	logLevel  string
	dataDir   string
)

// SetVersion sets the version string
func SetVersion(v string) {
	versionStr = v
}

var rootCmd = &cobra.Command{
	Use:   "rem",
	Short: "Offline-first reminders with background sync",
	Long: `rem - Reminders that work offline.

Every change is applied locally first and queued. Queued changes are pushed
to the sync server when it is reachable; conflicts are kept for you to
resolve instead of being overwritten.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dataDir != "" {
			// Every getter reads REM_DATA_DIR first, so the flag reaches
			// openApp, config and stats alike.
			if err := os.Setenv("REM_DATA_DIR", dataDir); err != nil {
				return err
			}
		}
		logCloser = logging.Setup(logging.Options{Level: effectiveLogLevel(), Format: logFormat})
		return nil
	},
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// effectiveLogLevel is --log-level when given, else the configured level.
func effectiveLogLevel() string {
	if logLevel != "" {
		return logLevel
	}
	return syncconfig.GetLogLevel()
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

// usageTemplate lists aliases next to each command and honours groups.
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })
	rootCmd.SetUsageTemplate(usageTemplate)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); default from config")
	pf.StringVar(&dataDir, "data-dir", "", "directory holding rem.db (overrides REM_DATA_DIR and config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}
