package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/workdesk/termbridge/internal/auth"
	"github.com/workdesk/termbridge/internal/storage"
)

func openStore(database string, stderr io.Writer) (*storage.SQLiteStore, bool) {
	dbPath := database
	if dbPath == "" {
		var err error
		dbPath, err = defaultDatabasePath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return nil, false
		}
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return nil, false
	}
	return store, true
}

func runTokenNew(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token new", flag.ContinueOnError)
	database := fs.String("database", "", "Path to the SQLite database")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: termbridge token new <name>")
		return 1
	}
	name := fs.Arg(0)

	store, ok := openStore(*database, stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	token, secret, err := auth.IssueToken(store, name)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Token %q created.\n", name)
	fmt.Fprintf(stdout, "  ID:     %s\n", token.ID)
	fmt.Fprintf(stdout, "  Secret: %s\n", secret)
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "The secret is shown only once. Pass it as --token when attaching.")
	return 0
}

func runTokenList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token list", flag.ContinueOnError)
	database := fs.String("database", "", "Path to the SQLite database")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	store, ok := openStore(*database, stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	tokens, err := store.ListTokens()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(tokens) == 0 {
		fmt.Fprintln(stdout, "No tokens.")
		return 0
	}
	for _, t := range tokens {
		lastSeen := "never"
		if !t.LastSeen.IsZero() {
			lastSeen = t.LastSeen.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(stdout, "%s  %s  created=%s  last-seen=%s\n",
			t.ID, t.Name, t.CreatedAt.Format("2006-01-02"), lastSeen)
	}
	return 0
}

func runTokenRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token revoke", flag.ContinueOnError)
	database := fs.String("database", "", "Path to the SQLite database")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: termbridge token revoke <id>")
		return 1
	}
	id := fs.Arg(0)

	store, ok := openStore(*database, stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	if err := store.DeleteToken(id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Token %s revoked.\n", id)
	return 0
}
