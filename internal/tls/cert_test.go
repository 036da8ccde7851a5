package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenerateCertificate(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "test.crt")
	keyPath := filepath.Join(tmpDir, "test.key")

	info, err := GenerateCertificate(CertConfig{
		CertPath:      certPath,
		KeyPath:       keyPath,
		Hosts:         []string{"localhost", "127.0.0.1", "example.com"},
		ValidDuration: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	if info.CertPath != certPath || info.KeyPath != keyPath {
		t.Errorf("paths = (%s, %s), want (%s, %s)", info.CertPath, info.KeyPath, certPath, keyPath)
	}
	if !info.Generated {
		t.Error("Generated should be true for a new cert")
	}

	// SHA-256 fingerprint is 32 colon-separated hex pairs.
	parts := strings.Split(info.Fingerprint, ":")
	if len(parts) != 32 {
		t.Errorf("fingerprint has %d parts, want 32", len(parts))
	}
	for _, part := range parts {
		if len(part) != 2 {
			t.Errorf("fingerprint part %q should be 2 chars", part)
		}
	}

	if info.NotBefore.After(time.Now()) {
		t.Error("NotBefore should not be in the future")
	}
	expectedExpiry := info.NotBefore.Add(24 * time.Hour)
	if info.NotAfter.Before(expectedExpiry.Add(-time.Minute)) || info.NotAfter.After(expectedExpiry.Add(time.Minute)) {
		t.Error("NotAfter should be ~24 hours after NotBefore")
	}

	keyInfo, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if keyInfo.Mode().Perm() != 0600 {
		t.Errorf("key file permissions = %o, want 0600", keyInfo.Mode().Perm())
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("failed to load generated pair: %v", err)
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if len(x509Cert.Subject.Organization) == 0 || x509Cert.Subject.Organization[0] != "termbridge" {
		t.Errorf("organization = %v, want [termbridge]", x509Cert.Subject.Organization)
	}

	hasLocalhost, hasExample := false, false
	for _, name := range x509Cert.DNSNames {
		if name == "localhost" {
			hasLocalhost = true
		}
		if name == "example.com" {
			hasExample = true
		}
	}
	if !hasLocalhost || !hasExample {
		t.Errorf("DNS names = %v, want localhost and example.com", x509Cert.DNSNames)
	}

	hasIP := false
	for _, ip := range x509Cert.IPAddresses {
		if ip.String() == "127.0.0.1" {
			hasIP = true
		}
	}
	if !hasIP {
		t.Errorf("IP addresses = %v, want 127.0.0.1", x509Cert.IPAddresses)
	}
}

func TestGenerateCertificateDefaultValidity(t *testing.T) {
	tmpDir := t.TempDir()

	info, err := GenerateCertificate(CertConfig{
		CertPath: filepath.Join(tmpDir, "default.crt"),
		KeyPath:  filepath.Join(tmpDir, "default.key"),
	})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	days := int(info.NotAfter.Sub(info.NotBefore).Hours() / 24)
	if days < 364 || days > 366 {
		t.Errorf("default validity = %d days, want ~365", days)
	}
}

func TestLoadCertificate(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "load.crt")
	keyPath := filepath.Join(tmpDir, "load.key")

	genInfo, err := GenerateCertificate(CertConfig{CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	loadInfo, err := LoadCertificate(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadCertificate failed: %v", err)
	}

	if loadInfo.Fingerprint != genInfo.Fingerprint {
		t.Errorf("fingerprint = %s, want %s", loadInfo.Fingerprint, genInfo.Fingerprint)
	}
	if loadInfo.Generated {
		t.Error("Generated should be false for a loaded cert")
	}
}

func TestLoadCertificateNotFound(t *testing.T) {
	if _, err := LoadCertificate("/nonexistent/path.crt", "/nonexistent/path.key"); err == nil {
		t.Error("LoadCertificate should fail for nonexistent files")
	}
}

func TestEnsureCertificateGeneratesThenLoads(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "ensure.crt")
	keyPath := filepath.Join(tmpDir, "ensure.key")

	first, err := EnsureCertificate(CertConfig{CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("EnsureCertificate failed: %v", err)
	}
	if !first.Generated {
		t.Error("first call should generate")
	}

	second, err := EnsureCertificate(CertConfig{CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("EnsureCertificate second call failed: %v", err)
	}
	if second.Generated {
		t.Error("second call should load, not regenerate")
	}
	if second.Fingerprint != first.Fingerprint {
		t.Error("fingerprint changed between calls")
	}
}

func TestEnsureCertificateRegeneratesPartialState(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "partial.crt")
	keyPath := filepath.Join(tmpDir, "partial.key")

	// Only the cert file exists, so the pair is regenerated.
	if err := os.WriteFile(certPath, []byte("dummy"), 0644); err != nil {
		t.Fatalf("write dummy cert: %v", err)
	}

	info, err := EnsureCertificate(CertConfig{CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("EnsureCertificate failed: %v", err)
	}
	if !info.Generated {
		t.Error("partial state should trigger regeneration")
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		t.Errorf("regenerated pair should be valid: %v", err)
	}
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "fp.crt")
	keyPath := filepath.Join(tmpDir, "fp.key")

	if _, err := GenerateCertificate(CertConfig{CertPath: certPath, KeyPath: keyPath}); err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("load cert: %v", err)
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}

	fp := ComputeFingerprint(x509Cert)
	if strings.ToUpper(fp) != fp {
		t.Error("fingerprint should be uppercase")
	}
	if fp != ComputeFingerprint(x509Cert) {
		t.Error("fingerprint should be deterministic")
	}
}

func TestDefaultPaths(t *testing.T) {
	certPath, err := DefaultCertPath()
	if err != nil {
		t.Fatalf("DefaultCertPath failed: %v", err)
	}
	if !strings.Contains(certPath, ".termbridge") || !strings.HasSuffix(certPath, "server.crt") {
		t.Errorf("DefaultCertPath = %q, want .termbridge/certs/server.crt", certPath)
	}

	keyPath, err := DefaultKeyPath()
	if err != nil {
		t.Fatalf("DefaultKeyPath failed: %v", err)
	}
	if !strings.HasSuffix(keyPath, "server.key") {
		t.Errorf("DefaultKeyPath = %q, want suffix server.key", keyPath)
	}
}

func TestGenerateCertificateCreatesDirectory(t *testing.T) {
	nestedDir := filepath.Join(t.TempDir(), "nested", "certs")

	_, err := GenerateCertificate(CertConfig{
		CertPath: filepath.Join(nestedDir, "test.crt"),
		KeyPath:  filepath.Join(nestedDir, "test.key"),
	})
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}
	if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
		t.Error("nested directory should have been created")
	}
}
