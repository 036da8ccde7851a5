package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/workdesk/termbridge/internal/config"
	"github.com/workdesk/termbridge/internal/storage"
	bridgetls "github.com/workdesk/termbridge/internal/tls"
)

// runDoctor checks local prerequisites and, when a server is reachable,
// its health endpoint.
func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	serverURL := fs.String("server", "http://127.0.0.1:7170", "Server base URL to probe")
	configPath := fs.String("config", "", "Path to config file")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	failures := 0
	check := func(name string, err error, detail string) {
		if err != nil {
			failures++
			fmt.Fprintf(stdout, "[FAIL] %-18s %v\n", name, err)
			return
		}
		fmt.Fprintf(stdout, "[ OK ] %-18s %s\n", name, detail)
	}

	// Shell for sessions.
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	if _, err := exec.LookPath(shell); err != nil {
		check("shell", fmt.Errorf("%s not found", shell), "")
	} else {
		check("shell", nil, shell)
	}

	// Config file.
	cfg, err := config.Load(*configPath)
	if err != nil {
		check("config", err, "")
		cfg = &config.Config{}
	} else if verr := cfg.Validate(); verr != nil {
		check("config", verr, "")
	} else {
		path := *configPath
		if path == "" {
			path, _ = config.DefaultConfigPath()
		}
		check("config", nil, path)
	}

	// Database.
	dbPath := cfg.Database
	if dbPath == "" {
		dbPath, err = defaultDatabasePath()
	}
	if err != nil {
		check("database", err, "")
	} else if store, serr := storage.NewSQLiteStore(dbPath); serr != nil {
		check("database", serr, "")
	} else {
		store.Close()
		check("database", nil, dbPath)
	}

	// TLS certificate, when configured.
	if cfg.TLSEnabled {
		info, terr := bridgetls.EnsureCertificate(bridgetls.CertConfig{
			CertPath: cfg.TLSCert,
			KeyPath:  cfg.TLSKey,
		})
		if terr != nil {
			check("tls", terr, "")
		} else if time.Now().After(info.NotAfter) {
			check("tls", fmt.Errorf("certificate expired %s", info.NotAfter.Format("2006-01-02")), "")
		} else {
			check("tls", nil, "expires "+info.NotAfter.Format("2006-01-02"))
		}
	}

	// Server health.
	base := strings.TrimSuffix(*serverURL, "/")
	resp, herr := httpClient(*insecure).Get(base + "/healthz")
	if herr != nil {
		fmt.Fprintf(stdout, "[ -- ] %-18s not reachable at %s\n", "server", base)
	} else {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			check("server", fmt.Errorf("healthz returned %d", resp.StatusCode), "")
		} else {
			var health struct {
				Sessions    int `json:"sessions"`
				Connections int `json:"connections"`
			}
			json.NewDecoder(resp.Body).Decode(&health)
			check("server", nil, fmt.Sprintf("%s (%d sessions, %d connections)",
				base, health.Sessions, health.Connections))
		}
	}

	if failures > 0 {
		fmt.Fprintf(stdout, "\n%d check(s) failed.\n", failures)
		return 1
	}
	fmt.Fprintln(stdout, "\nAll checks passed.")
	return 0
}
