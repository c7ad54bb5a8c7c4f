package dispatcher

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/httpmock/interceptor/internal/eventbus"
)

// fakeHandler records every call so tests can assert which dispatch path
// the sniffer took without needing a real httpserver.Server.
type fakeHandler struct {
	mu       sync.Mutex
	http1    []fakeHTTP1Call
	http2    []*Destination
	response string
}

type fakeHTTP1Call struct {
	method string
	dest   *Destination
}

func (f *fakeHandler) ServeHTTP1WithFirst(conn net.Conn, first *http.Request, dest *Destination) error {
	f.mu.Lock()
	f.http1 = append(f.http1, fakeHTTP1Call{method: first.Method, dest: dest})
	f.mu.Unlock()
	if f.response != "" {
		conn.Write([]byte(f.response))
	}
	return nil
}

func (f *fakeHandler) ServeHTTP2(conn net.Conn, dest *Destination) error {
	f.mu.Lock()
	f.http2 = append(f.http2, dest)
	f.mu.Unlock()
	return nil
}

func (f *fakeHandler) calls() ([]fakeHTTP1Call, []*Destination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeHTTP1Call{}, f.http1...), append([]*Destination{}, f.http2...)
}

func newTestDispatcher(t *testing.T, policy Policy) (*Dispatcher, *fakeHandler) {
	t.Helper()
	h := &fakeHandler{}
	d, err := New(nil, eventbus.New(), h, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, h
}

func TestDispatchPlainHTTPRoutesToHandler(t *testing.T) {
	d, h := newTestDispatcher(t, Policy{})

	client, server := net.Pipe()
	go d.Dispatch(server, nil)

	client.Write([]byte("GET /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	client.Close()

	waitFor(t, func() bool {
		calls, _ := h.calls()
		return len(calls) == 1
	})

	calls, _ := h.calls()
	if calls[0].method != "GET" {
		t.Fatalf("expected GET, got %s", calls[0].method)
	}
	if calls[0].dest.InsideTunnel {
		t.Fatal("a direct connection should not be marked InsideTunnel")
	}
}

func TestDispatchConnectWritesOKThenRecursesIntoHandler(t *testing.T) {
	d, h := newTestDispatcher(t, Policy{})

	client, server := net.Pipe()
	go d.Dispatch(server, nil)

	client.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading CONNECT reply: %v", err)
	}
	if line != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("expected 200 OK connect reply, got %q", line)
	}
	// Consume the blank line terminating the reply headers.
	reader.ReadString('\n')

	// After the CONNECT handshake, further traffic inside the tunnel must
	// route back through the dispatcher's sniff step (here: plain HTTP/1,
	// since nothing is TLS — the client just keeps sending cleartext bytes
	// over the same pipe to exercise the recursion).
	client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	client.Close()

	waitFor(t, func() bool {
		calls, _ := h.calls()
		return len(calls) == 1
	})

	calls, _ := h.calls()
	if !calls[0].dest.InsideTunnel {
		t.Fatal("expected InsideTunnel dest after CONNECT")
	}
	if calls[0].dest.Host != "example.com" || calls[0].dest.Port != 443 {
		t.Fatalf("expected example.com:443, got %s:%d", calls[0].dest.Host, calls[0].dest.Port)
	}
}

func TestDispatchUnparseableOutsideTunnelReturns400(t *testing.T) {
	d, _ := newTestDispatcher(t, Policy{UnknownProtocolPassthrough: true})

	client, server := net.Pipe()
	go d.Dispatch(server, nil)

	// At least len(http2Preface) bytes so the dispatcher's preface peek is
	// satisfied from a single net.Pipe write instead of blocking on more
	// data that will never arrive.
	client.Write([]byte("NOT-A-PROTOCOL-PADDING-BYTES\r\n\r\n"))

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading error reply: %v", err)
	}
	if line != "HTTP/1.1 400 Bad Request\r\n" {
		t.Fatalf("expected 400 reply, got %q", line)
	}
}

func TestDispatchUnparseableInsideTunnelFallsBackToRawPassthrough(t *testing.T) {
	// An upstream that echoes whatever it receives back to the caller.
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer upstreamLn.Close()
	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	d, _ := newTestDispatcher(t, Policy{UnknownProtocolPassthrough: true})

	upstreamHost, upstreamPortStr, _ := net.SplitHostPort(upstreamLn.Addr().String())
	upstreamPort, _ := parsePort(upstreamPortStr)

	client, server := net.Pipe()
	go d.Dispatch(server, &Destination{Host: upstreamHost, Port: upstreamPort, InsideTunnel: true})

	// At least len(http2Preface) bytes so the dispatcher's preface peek is
	// satisfied from a single net.Pipe write instead of blocking on more
	// data that will never arrive.
	payload := []byte("NOTHTTPANDNOTTLSANDNOTHTTP2PREFACEEITHER")
	client.Write(payload)

	echoed := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(client, echoed); err != nil {
		t.Fatalf("reading echoed bytes: %v", err)
	}
	if string(echoed) != string(payload) {
		t.Fatalf("expected raw passthrough echo, got %q want %q", echoed, payload)
	}
	client.Close()
}

func TestShouldPassthroughTLSPassthroughList(t *testing.T) {
	d, _ := newTestDispatcher(t, Policy{TLSPassthrough: []string{"*.internal.example.com"}})

	if !d.shouldPassthroughTLS("api.internal.example.com") {
		t.Fatal("expected passthrough match for api.internal.example.com")
	}
	if d.shouldPassthroughTLS("api.other.com") {
		t.Fatal("did not expect passthrough match for api.other.com")
	}
}

func TestShouldPassthroughTLSInterceptOnlyList(t *testing.T) {
	d, _ := newTestDispatcher(t, Policy{TLSInterceptOnly: []string{"*.mocked.example.com"}})

	if d.shouldPassthroughTLS("api.mocked.example.com") {
		t.Fatal("intercept-only host should not be passed through")
	}
	if !d.shouldPassthroughTLS("api.other.com") {
		t.Fatal("host outside interceptOnly list should be passed through")
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		name       string
		hostHeader string
		urlHost    string
		wantHost   string
		wantPort   int
	}{
		{"url host with port", "ignored.example.com", "example.com:8443", "example.com", 8443},
		{"falls back to host header", "example.com:443", "", "example.com", 443},
		{"no port defaults to 443", "example.com", "", "example.com", 443},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := splitHostPort(tt.hostHeader, tt.urlHost)
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got %s:%d, want %s:%d", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestParsePort(t *testing.T) {
	if p, err := parsePort("8080"); err != nil || p != 8080 {
		t.Fatalf("expected 8080, got %d err=%v", p, err)
	}
	if _, err := parsePort("80x0"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
