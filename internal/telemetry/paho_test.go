package telemetry

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
}

// writeCertificates creates a self-signed root and a client certificate signed by it
func writeCertificates(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "volp test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "volp-recorder"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatal(err)
	}
	clientDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(clientKey)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "certificate.pem.crt")
	keyFile = filepath.Join(dir, "private.pem.key")
	caFile = filepath.Join(dir, "AmazonRootCA1.pem")
	writePEM(t, certFile, "CERTIFICATE", clientDER)
	writePEM(t, keyFile, "EC PRIVATE KEY", keyDER)
	writePEM(t, caFile, "CERTIFICATE", caDER)
	return certFile, keyFile, caFile
}

func TestLoadTLSConfig(t *testing.T) {
	certFile, keyFile, caFile := writeCertificates(t)

	config, err := LoadTLSConfig(certFile, keyFile, caFile)
	if err != nil {
		t.Fatalf("LoadTLSConfig failed: %v", err)
	}
	if len(config.Certificates) != 1 {
		t.Errorf("Expected one client certificate, got %d", len(config.Certificates))
	}
	if config.RootCAs == nil {
		t.Error("Expected a root CA pool")
	}
}

func TestLoadTLSConfig_Errors(t *testing.T) {
	certFile, keyFile, caFile := writeCertificates(t)
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, []byte("nothing here"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name                  string
		cert, key, rootCAFile string
	}{
		{"missing certificate", filepath.Join(dir, "missing.crt"), keyFile, caFile},
		{"key mismatch", caFile, keyFile, caFile},
		{"missing root", certFile, keyFile, filepath.Join(dir, "missing.pem")},
		{"empty root", certFile, keyFile, empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTLSConfig(tt.cert, tt.key, tt.rootCAFile); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestPahoDialer_Options(t *testing.T) {
	config := DefaultPahoConfig()
	config.Endpoint = "a1b2c3-ats.iot.ap-northeast-1.amazonaws.com"
	config.ClientID = "volp-recorder"

	d := NewPahoDialer(config)
	if d.BrokerURL() != "ssl://a1b2c3-ats.iot.ap-northeast-1.amazonaws.com:8883" {
		t.Errorf("Unexpected broker URL %s", d.BrokerURL())
	}

	opts := d.clientOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != d.BrokerURL() {
		t.Errorf("Unexpected servers %v", opts.Servers)
	}
	if opts.ClientID != "volp-recorder" {
		t.Errorf("Expected client ID volp-recorder, got %s", opts.ClientID)
	}
	if opts.KeepAlive != 5 {
		t.Errorf("Expected 5s keep-alive, got %d", opts.KeepAlive)
	}
	if opts.AutoReconnect {
		t.Error("Auto-reconnect should be disabled")
	}
}

func TestPahoDialer_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	config := DefaultPahoConfig()
	config.Endpoint = "127.0.0.1"
	config.Port = port
	config.ClientID = "volp-test-" + strconv.Itoa(port)
	config.ConnectTimeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := NewPahoDialer(config).Dial(ctx); err == nil {
		t.Error("Expected Dial to fail against a closed port")
	}
}

func TestPahoDialer_NoEndpoint(t *testing.T) {
	if _, err := NewPahoDialer(DefaultPahoConfig()).Dial(context.Background()); err == nil {
		t.Error("Expected Dial to fail without an endpoint")
	}
}
