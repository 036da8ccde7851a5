// Package mdns provides optional DNS-SD advertisement of the bridge
// server so clients on the same network can find it without typing an
// address. Opt-in; discovery reveals presence only, the bearer token is
// still required to connect.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for bridge servers.
const ServiceType = "_termbridge._tcp"

// ProtocolVersion in the TXT records lets clients check compatibility
// before connecting.
const ProtocolVersion = "1"

// Config for an Advertiser.
type Config struct {
	// Port the bridge server listens on.
	Port int

	// Fingerprint of the TLS certificate, if serving wss. Lets clients
	// verify the server before trusting a self-signed certificate.
	Fingerprint string

	// Name is the advertised instance name. Defaults to the hostname.
	Name string
}

// Advertiser registers the bridge server with mDNS.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Call Start to begin advertising.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start registers the service. Calling Start on a running advertiser is
// a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "termbridge"
		} else {
			name = hostname
		}
	}

	// TXT strings are capped at 255 bytes each; a SHA-256 fingerprint
	// with colons is 95 chars, well inside the limit.
	txtRecords := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
	}
	if a.config.Fingerprint != "" {
		txtRecords = append(txtRecords, "fp="+a.config.Fingerprint)
	}

	server, err := zeroconf.Register(name, ServiceType, "local.", a.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or without a
// prior Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the advertisement is active.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredServer is one bridge server found on the local network.
type DiscoveredServer struct {
	Name        string
	Host        string
	Port        int
	Fingerprint string
	Version     string
}

// Discover browses for bridge servers until the context ends. Used by
// the attach command when no server address is given.
func Discover(ctx context.Context) ([]DiscoveredServer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		servers []DiscoveredServer
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			srv := DiscoveredServer{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				srv.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				srv.Host = entry.AddrIPv6[0].String()
			}
			for _, txt := range entry.Text {
				switch {
				case strings.HasPrefix(txt, "fp="):
					srv.Fingerprint = txt[3:]
				case strings.HasPrefix(txt, "version="):
					srv.Version = txt[8:]
				case strings.HasPrefix(txt, "name="):
					srv.Name = txt[5:]
				}
			}

			mu.Lock()
			servers = append(servers, srv)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes the entries channel once the context ends.
	<-ctx.Done()
	wg.Wait()

	return servers, nil
}
