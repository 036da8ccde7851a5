package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `termbridge - remote terminal bridge

Usage:
  termbridge <command> [options]

Commands:
  serve          Start the bridge server
  attach [id]    Attach this terminal to a session (creates one if needed)
  sessions       List live sessions on a server
  token new <name>    Issue an access token
  token list          List access tokens
  token revoke <id>   Revoke an access token
  doctor         Check environment and server reachability

Run 'termbridge <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "attach":
		return runAttach(args[2:], stdout, stderr)
	case "sessions":
		return runSessions(args[2:], stdout, stderr)
	case "token":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: termbridge token <new|list|revoke>")
			return 1
		}
		switch args[2] {
		case "new":
			return runTokenNew(args[3:], stdout, stderr)
		case "list":
			return runTokenList(args[3:], stdout, stderr)
		case "revoke":
			return runTokenRevoke(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown token command: %s\n", args[2])
			return 1
		}
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "termbridge %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
