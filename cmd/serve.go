package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/workdesk/termbridge/internal/auth"
	"github.com/workdesk/termbridge/internal/config"
	"github.com/workdesk/termbridge/internal/mdns"
	"github.com/workdesk/termbridge/internal/registry"
	"github.com/workdesk/termbridge/internal/server"
	"github.com/workdesk/termbridge/internal/storage"
	bridgetls "github.com/workdesk/termbridge/internal/tls"
)

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file (default ~/.termbridge/config.toml)")
	addr := fs.String("addr", "", "Listen address (host:port)")
	command := fs.String("command", "", "Program run in new sessions (default $SHELL)")
	workDir := fs.String("workdir", "", "Default working directory for sessions")
	attachPolicy := fs.String("attach-policy", "", "What a second attach does: evict or reject")
	maxSessions := fs.Int("max-sessions", 0, "Maximum concurrent sessions")
	idleTimeout := fs.Int("idle-timeout", 0, "Seconds before an unattached session is reaped")
	database := fs.String("database", "", "Path to the SQLite database")
	requireAuth := fs.Bool("require-auth", false, "Require bearer-token authentication")
	tlsEnabled := fs.Bool("tls", false, "Serve wss with a self-signed certificate")
	mdnsEnabled := fs.Bool("mdns", false, "Advertise the server via mDNS (LAN-visible)")
	qr := fs.Bool("qr", false, "Print a QR code of the connect URL")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags given explicitly override file values.
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["addr"] {
		cfg.Addr = *addr
	}
	if explicit["command"] {
		cfg.Command = *command
	}
	if explicit["workdir"] {
		cfg.WorkDir = *workDir
	}
	if explicit["attach-policy"] {
		cfg.AttachPolicy = *attachPolicy
	}
	if explicit["max-sessions"] {
		cfg.MaxSessions = *maxSessions
	}
	if explicit["idle-timeout"] {
		cfg.IdleTimeoutSec = *idleTimeout
	}
	if explicit["database"] {
		cfg.Database = *database
	}
	if explicit["require-auth"] {
		cfg.RequireAuth = *requireAuth
	}
	if explicit["tls"] {
		cfg.TLSEnabled = *tlsEnabled
	}
	if explicit["mdns"] {
		cfg.MdnsEnabled = *mdnsEnabled
	}
	if explicit["qr"] {
		cfg.QR = *qr
	}

	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}
	if cfg.Command == "" {
		cfg.Command = os.Getenv("SHELL")
		if cfg.Command == "" {
			cfg.Command = "/bin/sh"
		}
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir, _ = os.Getwd()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	dbPath := cfg.Database
	if dbPath == "" {
		dbPath, err = defaultDatabasePath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return 1
	}
	defer store.Close()

	reg := registry.New(registry.Config{
		MaxSessions:    cfg.MaxSessions,
		AttachPolicy:   registry.AttachPolicy(cfg.AttachPolicy),
		IdleTimeout:    time.Duration(cfg.IdleTimeoutSec) * time.Second,
		KillGrace:      time.Duration(cfg.KillGraceSec) * time.Second,
		DefaultCommand: cfg.Command,
		DefaultDir:     cfg.WorkDir,
		Recorder:       store,
	})

	srv := server.NewServer(cfg.Addr, reg)
	if cfg.RequireAuth {
		validator := auth.NewTokenValidator(store)
		srv.SetRequireAuth(true)
		srv.SetTokenValidator(func(token string) (string, error) {
			tok, err := validator.ValidateToken(token)
			if err != nil {
				return "", err
			}
			return tok.ID, nil
		})
	}

	scheme := "ws"
	var fingerprint string
	var errCh <-chan error
	if cfg.TLSEnabled {
		scheme = "wss"
		certInfo, err := bridgetls.EnsureCertificate(bridgetls.CertConfig{
			CertPath: cfg.TLSCert,
			KeyPath:  cfg.TLSKey,
			Hosts:    certHosts(cfg.Addr),
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fingerprint = certInfo.Fingerprint
		if certInfo.Generated {
			fmt.Fprintf(stdout, "Generated TLS certificate: %s\n", certInfo.CertPath)
		}
		fmt.Fprintf(stdout, "Certificate fingerprint: %s\n", fingerprint)
		errCh = srv.StartAsyncTLS(server.TLSConfig{
			CertPath: certInfo.CertPath,
			KeyPath:  certInfo.KeyPath,
		})
	} else {
		errCh = srv.StartAsync()
	}
	if err := <-errCh; err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:        addrPort(cfg.Addr),
			Fingerprint: fingerprint,
		})
		if err := advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: mDNS advertisement failed: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "Advertising via mDNS as %s\n", mdns.ServiceType)
		}
	}

	fmt.Fprintf(stdout, "termbridge serving on %s://%s\n", scheme, cfg.Addr)
	fmt.Fprintf(stdout, "Sessions run: %s (in %s)\n", cfg.Command, cfg.WorkDir)

	if cfg.QR {
		displayConnectQR(stdout, scheme, cfg.Addr, fingerprint)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	if advertiser != nil {
		advertiser.Stop()
	}
	reg.CloseAll()
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(stderr, "Error during shutdown: %v\n", err)
		return 1
	}
	return 0
}

func defaultDatabasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".termbridge")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dir, "termbridge.db"), nil
}

// certHosts derives SAN entries from the listen address. A wildcard bind
// falls back to the certificate defaults.
func certHosts(addr string) []string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
		return nil
	}
	return []string{host, "localhost", "127.0.0.1"}
}

func addrPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// displayConnectQR prints the connect URL as a terminal QR code with a
// plain-text fallback.
func displayConnectQR(w io.Writer, scheme, addr, fingerprint string) {
	payload := fmt.Sprintf("termbridge://connect?addr=%s&scheme=%s", url.QueryEscape(addr), scheme)
	if fingerprint != "" {
		payload += "&fp=" + url.QueryEscape(fingerprint)
	}

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Connect URL: %s\n", payload)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Scan to connect:")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintf(w, "Connect URL: %s\n", payload)
	fmt.Fprintln(w, "")
}
