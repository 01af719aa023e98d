package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/marcus/rem/internal/api"
	"github.com/marcus/rem/internal/serverdb"
	"golang.org/x/term"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "add-user":
		runAdminAddUser(args[1:])
	case "list-users":
		runAdminListUsers(args[1:])
	case "passwd":
		runAdminPasswd(args[1:])
	case "delete-user":
		runAdminDeleteUser(args[1:])
	case "events":
		runAdminEvents(args[1:])
	case "purge-tokens":
		runAdminPurgeTokens(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: rem-server admin <command> [flags]

Commands:
  add-user      Create a user (password read from the terminal or stdin)
  list-users    List users
  passwd        Change a user's password and revoke their sessions
  delete-user   Delete a user with their reminders
  events        Show recent login and refresh events
  purge-tokens  Remove expired and revoked tokens`)
}

const dbFlagUsage = "path to server.db (default: from REM_SERVER_DB_PATH or ./data/server.db)"

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg := api.LoadConfig()
		dbPath = cfg.ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fatalf("open database: %v", err)
	}
	return store
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// readPassword prompts on a terminal without echo, otherwise it reads the
// first line of r.
func readPassword(prompt string, r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no password on stdin")
	}
	return line, nil
}

func requireUsername(fs *flag.FlagSet, username string) {
	if strings.TrimSpace(username) == "" {
		fmt.Fprintln(os.Stderr, "error: --username is required")
		fs.Usage()
		os.Exit(1)
	}
}

func lookupUser(store *serverdb.ServerDB, username string) *serverdb.User {
	user, err := store.GetUserByUsername(username)
	if err != nil {
		fatalf("%v", err)
	}
	if user == nil {
		fatalf("user not found: %s", username)
	}
	return user
}

func runAdminAddUser(args []string) {
	fs := flag.NewFlagSet("admin add-user", flag.ExitOnError)
	username := fs.String("username", "", "login name")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)
	requireUsername(fs, *username)

	password, err := readPassword("Password: ", os.Stdin)
	if err != nil {
		fatalf("read password: %v", err)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.CreateUser(*username, password)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created user %s (%s)\n", user.Username, user.ID)
}

func runAdminListUsers(args []string) {
	fs := flag.NewFlagSet("admin list-users", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		fatalf("%v", err)
	}
	if len(users) == 0 {
		fmt.Println("no users")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tREMINDERS\tCREATED")
	for _, u := range users {
		n, err := store.CountReminders(u.ID)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.ID, u.Username, n, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func runAdminPasswd(args []string) {
	fs := flag.NewFlagSet("admin passwd", flag.ExitOnError)
	username := fs.String("username", "", "login name")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)
	requireUsername(fs, *username)

	store := openDB(*dbPath)
	defer store.Close()
	user := lookupUser(store, *username)

	password, err := readPassword("New password: ", os.Stdin)
	if err != nil {
		fatalf("read password: %v", err)
	}
	if err := store.SetPassword(user.ID, password); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("password changed for %s; existing sessions revoked\n", user.Username)
}

func runAdminDeleteUser(args []string) {
	fs := flag.NewFlagSet("admin delete-user", flag.ExitOnError)
	username := fs.String("username", "", "login name")
	force := fs.Bool("force", false, "confirm deletion")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)
	requireUsername(fs, *username)

	if !*force {
		fatalf("deleting %s removes all their reminders; pass --force to confirm", *username)
	}

	store := openDB(*dbPath)
	defer store.Close()
	user := lookupUser(store, *username)

	if err := store.DeleteUser(user.ID); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("deleted user %s\n", user.Username)
}

func runAdminEvents(args []string) {
	fs := flag.NewFlagSet("admin events", flag.ExitOnError)
	username := fs.String("username", "", "only this user's events")
	limit := fs.Int("limit", 50, "maximum events to show")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	evs, err := store.ListAuthEvents(*username, *limit)
	if err != nil {
		fatalf("%v", err)
	}
	if len(evs) == 0 {
		fmt.Println("no auth events")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tUSER\tEVENT\tREMOTE")
	for _, e := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Username, e.EventType, e.RemoteAddr)
	}
	tw.Flush()
}

func runAdminPurgeTokens(args []string) {
	fs := flag.NewFlagSet("admin purge-tokens", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	n, err := store.PurgeExpiredTokens()
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("purged %d tokens\n", n)
}
