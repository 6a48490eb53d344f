package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestSelfSigned_DefaultHosts(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf := cert.Leaf
	if leaf == nil {
		t.Fatal("leaf certificate is nil")
	}
	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}
	if !slices.Contains(leaf.DNSNames, "localhost") {
		t.Errorf("DNS SANs: %v does not contain localhost", leaf.DNSNames)
	}

	var ips []string
	for _, ip := range leaf.IPAddresses {
		ips = append(ips, ip.String())
	}
	if !slices.Contains(ips, "127.0.0.1") || !slices.Contains(ips, "::1") {
		t.Errorf("IP SANs: got %v, want 127.0.0.1 and ::1", ips)
	}

	if d := leaf.NotAfter.Sub(leaf.NotBefore); d < validity || d > validity+time.Hour {
		t.Errorf("validity duration: got %v, want approximately %v", d, validity)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
}

func TestSelfSigned_CustomHosts(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("sink.test", "10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cert.Leaf.Subject.CommonName != "sink.test" {
		t.Errorf("CN: got %q, want %q", cert.Leaf.Subject.CommonName, "sink.test")
	}
	if err := cert.Leaf.VerifyHostname("sink.test"); err != nil {
		t.Errorf("VerifyHostname(sink.test): %v", err)
	}
	if err := cert.Leaf.VerifyHostname("10.0.0.5"); err != nil {
		t.Errorf("VerifyHostname(10.0.0.5): %v", err)
	}
}

func TestServerConfig_SelfSigned(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates: got %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", cfg.MinVersion, standardtls.VersionTLS12)
	}
}

func TestServerConfig_RoundTripPEM(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := WritePEM(cert, certFile, keyFile); err != nil {
		t.Fatalf("WritePEM: %v", err)
	}

	cfg, err := ServerConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse loaded certificate: %v", err)
	}
	if leaf.SerialNumber.Cmp(cert.Leaf.SerialNumber) != 0 {
		t.Error("loaded certificate does not match the written one")
	}
}

func TestServerConfig_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
	if _, err := ServerConfig("/some/cert.pem", ""); err == nil {
		t.Error("expected error when only the certificate is given, got nil")
	}
}

func TestPool(t *testing.T) {
	t.Parallel()

	cfg, err := ServerConfig("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool, err := Pool(cfg)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}

	leaf, _ := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, DNSName: "localhost"}); err != nil {
		t.Errorf("certificate does not verify against its pool: %v", err)
	}
}
