package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/workdesk/termbridge/internal/client"
	"github.com/workdesk/termbridge/internal/config"
)

// detachKey is Ctrl-], the one byte intercepted locally instead of being
// forwarded to the remote process.
const detachKey = 0x1d

func runAttach(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	serverURL := fs.String("server", "http://127.0.0.1:7170", "Server base URL")
	token := fs.String("token", "", "Bearer token")
	workDir := fs.String("workdir", "", "Working directory for a new session")
	command := fs.String("command", "", "Command for a new session")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification")
	configPath := fs.String("config", "", "Path to config file")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	base := strings.TrimSuffix(*serverURL, "/")

	sessionID := ""
	if fs.NArg() > 0 {
		sessionID = fs.Arg(0)
	} else {
		sessionID, err = createSession(base, *token, *insecure, *workDir, *command)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Created session %s\n", sessionID)
	}

	endpoint := wsEndpoint(base) + "/terminal/" + sessionID

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		fmt.Fprintln(stderr, "Error: attach requires a terminal on stdin")
		return 1
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to set raw mode: %v\n", err)
		return 1
	}
	defer term.Restore(stdinFd, oldState)

	c := client.NewClient(client.Config{
		Endpoint: endpoint,
		Dialer: &client.WSDialer{
			Token:              *token,
			InsecureSkipVerify: *insecure,
		},
		Output:            os.Stdout,
		PingInterval:      time.Duration(cfg.PingIntervalSec) * time.Second,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    time.Duration(cfg.ReconnectDelaySec) * time.Second,
	})

	if err := c.Connect(); err != nil {
		term.Restore(stdinFd, oldState)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Establish the viewport and track changes.
	sendSize := func() {
		if cols, rows, err := term.GetSize(stdinFd); err == nil {
			c.Resize(rows, cols)
		}
	}
	sendSize()
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			sendSize()
		}
	}()

	go pumpStdin(os.Stdin, c)

	<-c.Done()
	term.Restore(stdinFd, oldState)
	fmt.Fprintln(stdout, "")
	return 0
}

// pumpStdin forwards terminal input to the client, detaching on the
// detach key.
func pumpStdin(in io.Reader, c *client.Client) {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			data := buf[:n]
			if i := bytes.IndexByte(data, detachKey); i >= 0 {
				c.Write(data[:i])
				c.Close()
				return
			}
			c.Write(data)
		}
		if err != nil {
			return
		}
	}
}

// wsEndpoint converts an http(s) base URL into its ws(s) form.
func wsEndpoint(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func httpClient(insecure bool) *http.Client {
	c := &http.Client{Timeout: 10 * time.Second}
	if insecure {
		c.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return c
}

// createSession asks the server for a fresh session and returns its id.
func createSession(base, token string, insecure bool, workDir, command string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"work_dir": workDir,
		"command":  command,
	})

	req, err := http.NewRequest(http.MethodPost, base+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient(insecure).Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create session: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("create session: decode response: %w", err)
	}
	return created.SessionID, nil
}

func runSessions(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	serverURL := fs.String("server", "http://127.0.0.1:7170", "Server base URL")
	token := fs.String("token", "", "Bearer token")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	base := strings.TrimSuffix(*serverURL, "/")
	req, err := http.NewRequest(http.MethodGet, base+"/api/sessions", nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := httpClient(*insecure).Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(stderr, "Error: server returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(raw)))
		return 1
	}

	var sessions []struct {
		SessionID string `json:"session_id"`
		WorkDir   string `json:"work_dir"`
		Command   string `json:"command"`
		Status    string `json:"status"`
		PID       int    `json:"pid"`
		Bound     bool   `json:"bound"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		fmt.Fprintf(stderr, "Error: decode response: %v\n", err)
		return 1
	}

	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No live sessions.")
		return 0
	}
	for _, s := range sessions {
		attached := "detached"
		if s.Bound {
			attached = "attached"
		}
		fmt.Fprintf(stdout, "%s  %s  pid=%d  %s  %s  (%s)\n",
			s.SessionID, s.Status, s.PID, s.Command, s.WorkDir, attached)
	}
	return 0
}
