package mockserver

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/httpmock/interceptor/internal/ca"
	"github.com/httpmock/interceptor/internal/dispatcher"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/rules"
)

func generateTestRoot(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating root key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating root cert: %v", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling root key: %v", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	certPEM, keyPEM := generateTestRoot(t)
	authority, err := ca.New(ca.Options{
		RootCertPEM:   certPEM,
		RootKeyPEM:    keyPEM,
		DefaultDomain: "mockctl.test",
		LeafValidity:  time.Hour,
	})
	if err != nil {
		t.Fatalf("ca.New: %v", err)
	}
	return New(Options{
		CA: authority,
		Policy: dispatcher.Policy{
			SocksEnabled:               true,
			UnknownProtocolPassthrough: true,
		},
	})
}

func TestListenRangeBindsFirstFreePort(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	port, err := s.ListenRange("127.0.0.1", 19000, 19010)
	if err != nil {
		t.Fatalf("ListenRange: %v", err)
	}
	if port < 19000 || port > 19010 {
		t.Fatalf("port %d out of requested range", port)
	}
	if s.Addr() == "" {
		t.Fatal("expected non-empty Addr after successful ListenRange")
	}
}

func TestListenRangeSkipsBusyPort(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:19100")
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer occupied.Close()

	s := newTestServer(t)
	defer s.Close()

	port, err := s.ListenRange("127.0.0.1", 19100, 19105)
	if err != nil {
		t.Fatalf("ListenRange: %v", err)
	}
	if port == 19100 {
		t.Fatal("expected ListenRange to skip the already-bound port")
	}
}

func TestListenRangeExhausted(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:19200")
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer occupied.Close()

	s := newTestServer(t)
	defer s.Close()

	_, err = s.ListenRange("127.0.0.1", 19200, 19200)
	if err != ErrNoPortAvailable {
		t.Fatalf("expected ErrNoPortAvailable, got %v", err)
	}
}

func TestServeDispatchesFixedResponseRule(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	if _, err := s.AddHTTPRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step:     &rules.FixedResponseStep{StatusCode: 200, Body: model.BodySource{Bytes: []byte("hello")}},
	}); err != nil {
		t.Fatalf("AddHTTPRules: %v", err)
	}

	if _, err := s.ListenRange("127.0.0.1", 19300, 19310); err != nil {
		t.Fatalf("ListenRange: %v", err)
	}
	go s.Serve()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGetMockedEndpointsMergesBothTables(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	if _, err := s.AddHTTPRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step:     &rules.FixedResponseStep{StatusCode: 200},
	}); err != nil {
		t.Fatalf("AddHTTPRules: %v", err)
	}
	if _, err := s.AddWSRules(rules.RuleSpec[rules.WSStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step:     &rules.WSEchoStep{},
	}); err != nil {
		t.Fatalf("AddWSRules: %v", err)
	}

	endpoints := s.GetMockedEndpoints()
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}

	s.Reset()
	if got := s.GetMockedEndpoints(); len(got) != 0 {
		t.Fatalf("expected 0 endpoints after Reset, got %d", len(got))
	}
}
