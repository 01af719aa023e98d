package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus/rem/internal/output"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/spf13/cobra"
)

// effectiveConfig reports the value in force for a key after env overrides
// and defaults.
var effectiveConfig = map[string]func() string{
	"data_dir": func() string {
		d, err := syncconfig.GetDataDir()
		if err != nil {
			return ""
		}
		return d
	},
	"sync.url":         syncconfig.GetServerURL,
	"sync.auto":        func() string { return strconv.FormatBool(syncconfig.GetAutoSyncEnabled()) },
	"sync.interval":    func() string { return syncconfig.GetSyncInterval().String() },
	"sync.base_delay":  func() string { return syncconfig.GetOutboxPolicy().BaseDelay.String() },
	"sync.max_delay":   func() string { return syncconfig.GetOutboxPolicy().MaxDelay.String() },
	"sync.max_retries": func() string { return strconv.Itoa(syncconfig.GetOutboxPolicy().MaxRetries) },
	"http.timeout":     func() string { return syncconfig.GetHTTPTimeout().String() },
	"http.max_retries": func() string { return strconv.Itoa(syncconfig.GetTransportPolicy().MaxRetries) },
	"log.level":        syncconfig.GetLogLevel,
	"log.file":         syncconfig.GetLogFile,
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage rem configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value (empty value unsets it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if err := syncconfig.Set(key, val); err != nil {
			output.Error("%v", err)
			if _, ok := effectiveConfig[key]; !ok {
				fmt.Println("Valid keys:", strings.Join(syncconfig.Keys(), ", "))
			}
			return err
		}
		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		val, err := syncconfig.Get(key)
		if err != nil {
			output.Error("%v", err)
			fmt.Println("Valid keys:", strings.Join(syncconfig.Keys(), ", "))
			return err
		}
		if val == "" {
			if eff, ok := effectiveConfig[key]; ok {
				val = eff() + " (default)"
			}
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range syncconfig.Keys() {
			stored, err := syncconfig.Get(key)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			line := fmt.Sprintf("%-17s %s", key, stored)
			if eff, ok := effectiveConfig[key]; ok && stored == "" {
				line = fmt.Sprintf("%-17s %s  (default)", key, eff())
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}
