package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/rem/internal/output"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/marcus/rem/internal/syncclient"
	"github.com/marcus/rem/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errUsernameRequired = errors.New("username required")

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the sync server",
	Long: `Log in to the sync server. In a terminal you are prompted for anything
not given as a flag; otherwise the password is read from the first line of
stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds := syncclient.Credentials{}
		creds.Username, _ = cmd.Flags().GetString("username")
		creds.RememberMe, _ = cmd.Flags().GetBool("remember")

		var err error
		if term.IsTerminal(int(os.Stdin.Fd())) {
			err = promptCredentials(cmd.Context(), &creds)
		} else {
			err = readCredentials(os.Stdin, &creds)
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(func(a *app) error {
			if _, err := a.client.Login(cmd.Context(), creds); err != nil {
				if errors.Is(err, syncclient.ErrUnauthorized) {
					output.Error("invalid username or password")
				} else {
					output.Error("login: %v", err)
				}
				return err
			}
			a.orch.ResumeAuth()
			output.Success("Logged in as %s (%s)", creds.Username, syncconfig.GetServerURL())

			if !syncconfig.GetAutoSyncEnabled() {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), autoSyncTimeout)
			defer cancel()
			if err := a.orch.SyncNow(ctx); err != nil && !errors.Is(err, remsync.ErrOffline) {
				output.Warning("initial sync: %v", err)
			}
			return nil
		})
	},
}

// promptCredentials asks for whatever creds is missing with a huh form.
func promptCredentials(ctx context.Context, creds *syncclient.Credentials) error {
	var fields []huh.Field
	if creds.Username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(&creds.Username).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errUsernameRequired
				}
				return nil
			}))
	}
	fields = append(fields,
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&creds.Password),
		huh.NewConfirm().
			Title("Stay logged in").
			Description("Keep the session for 30 days").
			Value(&creds.RememberMe),
	)
	form := huh.NewForm(huh.NewGroup(fields...).Title("rem sync login"))
	form.WithTheme(huh.ThemeDracula())
	if err := form.RunWithContext(ctx); err != nil {
		return err
	}
	creds.Username = strings.TrimSpace(creds.Username)
	return nil
}

// readCredentials takes the password from the first line of r. The
// username must already be set.
func readCredentials(r io.Reader, creds *syncclient.Credentials) error {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" {
		return fmt.Errorf("%w (use --username when stdin is not a terminal)", errUsernameRequired)
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	creds.Password = strings.TrimRight(line, "\r\n")
	if creds.Password == "" {
		return fmt.Errorf("password required on stdin")
	}
	return nil
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return err
		}
		fmt.Println("Logged out. Local reminders and queued changes are kept.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("load auth: %v", err)
			return err
		}

		if creds == nil || creds.AccessToken == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		tokenPrefix := creds.AccessToken
		if len(tokenPrefix) > 12 {
			tokenPrefix = tokenPrefix[:12] + "..."
		}

		fmt.Printf("User:   %s\n", creds.Username)
		fmt.Printf("Server: %s\n", creds.ServerURL)
		fmt.Printf("Token:  %s\n", tokenPrefix)
		if creds.RefreshToken == "" {
			fmt.Println("Refresh: none (log in again when the token expires)")
		}
		return nil
	},
}

func init() {
	authLoginCmd.Flags().StringP("username", "u", "", "account username")
	authLoginCmd.Flags().Bool("remember", false, "keep the session for 30 days")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
