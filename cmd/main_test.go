package main

import (
	"bytes"
	"strings"
	"testing"
)

func runCapture(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"termbridge"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	code, out, _ := runCapture(t)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("output should contain usage, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCapture(t, "--version")
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, "termbridge") || !strings.Contains(out, Version) {
		t.Errorf("version output = %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runCapture(t, "frobnicate")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Errorf("output = %q, want unknown command message", out)
	}
}

func TestRunTokenWithoutSubcommand(t *testing.T) {
	code, out, _ := runCapture(t, "token")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "Usage: termbridge token") {
		t.Errorf("output = %q", out)
	}
}

func TestWSEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:7170", "ws://127.0.0.1:7170"},
		{"https://example.com:7170", "wss://example.com:7170"},
		{"ws://127.0.0.1:7170", "ws://127.0.0.1:7170"},
	}
	for _, tt := range tests {
		if got := wsEndpoint(tt.base); got != tt.want {
			t.Errorf("wsEndpoint(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestCertHosts(t *testing.T) {
	if hosts := certHosts("0.0.0.0:7170"); hosts != nil {
		t.Errorf("wildcard bind should use defaults, got %v", hosts)
	}
	hosts := certHosts("192.168.1.5:7170")
	want := []string{"192.168.1.5", "localhost", "127.0.0.1"}
	if len(hosts) != len(want) {
		t.Fatalf("hosts = %v, want %v", hosts, want)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Errorf("hosts[%d] = %q, want %q", i, hosts[i], want[i])
		}
	}
}

func TestAddrPort(t *testing.T) {
	if port := addrPort("127.0.0.1:7170"); port != 7170 {
		t.Errorf("addrPort = %d, want 7170", port)
	}
	if port := addrPort("garbage"); port != 0 {
		t.Errorf("addrPort on bad input = %d, want 0", port)
	}
}
