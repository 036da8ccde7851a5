package mdns

import (
	"context"
	"testing"
	"time"
)

func TestNewAdvertiser(t *testing.T) {
	a := NewAdvertiser(Config{
		Port:        7170,
		Fingerprint: "AA:BB:CC:DD:EE:FF",
		Name:        "test-server",
	})
	if a == nil {
		t.Fatal("NewAdvertiser returned nil")
	}
	if a.IsRunning() {
		t.Error("advertiser should not be running before Start")
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7170})

	// Stop without Start is a no-op, repeatedly.
	a.Stop()
	a.Stop()

	if a.IsRunning() {
		t.Error("advertiser should not be running after Stop")
	}
}

func TestServiceType(t *testing.T) {
	if ServiceType != "_termbridge._tcp" {
		t.Errorf("service type = %s, want _termbridge._tcp", ServiceType)
	}
}

// TestAdvertiserStartStop needs multicast networking and may not work in
// every CI environment.
func TestAdvertiserStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	a := NewAdvertiser(Config{
		Port:        7170,
		Fingerprint: "AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99",
		Name:        "test-mdns-server",
	})

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !a.IsRunning() {
		t.Error("advertiser should be running after Start")
	}

	if err := a.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}

	a.Stop()
	if a.IsRunning() {
		t.Error("advertiser should not be running after Stop")
	}
}

func TestDiscoverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	a := NewAdvertiser(Config{
		Port:        7171,
		Fingerprint: "TEST:FP:12:34",
		Name:        "discover-test-server",
	})
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	servers, err := Discover(ctx)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	found := false
	for _, srv := range servers {
		if srv.Name == "discover-test-server" {
			found = true
			if srv.Port != 7171 {
				t.Errorf("port = %d, want 7171", srv.Port)
			}
			if srv.Fingerprint != "TEST:FP:12:34" {
				t.Errorf("fingerprint = %s, want TEST:FP:12:34", srv.Fingerprint)
			}
		}
	}

	// mDNS can be unreliable in CI, so a miss is logged, not fatal.
	if !found {
		t.Log("test server not discovered (can happen in restricted environments)")
	}
}
