// Package dispatcher implements the multi-protocol connection dispatcher
// described in spec.md §4.1: a single listening endpoint that sniffs each
// accepted byte stream and recursively routes it to the correct
// sub-handler, nesting through SOCKS, CONNECT, and TLS envelopes until an
// application protocol is identified.
package dispatcher

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
	"golang.org/x/net/http2"

	"github.com/httpmock/interceptor/internal/ca"
	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/socks"
)

// Destination is the "default destination context" a dispatch level passes
// down to the next, per §9's "function taking an abstract byte stream and a
// default-destination context".
type Destination struct {
	Host string
	Port int

	// InsideTunnel is true once we're nested inside a SOCKS or CONNECT
	// tunnel, gating unknown-protocol raw-passthrough (§4.1 step 6).
	InsideTunnel bool
}

// HTTPHandler is implemented by internal/httpserver: given a connection
// already known to carry an application protocol (and the protocol + default
// destination context), it parses and serves requests until the connection
// closes.
type HTTPHandler interface {
	// ServeHTTP1WithFirst serves an HTTP/1 connection for which the first
	// request has already been parsed off the wire by the dispatcher (so it
	// can distinguish CONNECT from a normal request); it must continue
	// reading subsequent keep-alive requests from conn itself.
	ServeHTTP1WithFirst(conn net.Conn, first *http.Request, dest *Destination) error
	ServeHTTP2(conn net.Conn, dest *Destination) error
}

// Policy groups the wildcard hostname lists and TLS version bounds
// consulted at the TLS-sniff step (§4.1 policies).
type Policy struct {
	SocksEnabled               bool
	UnknownProtocolPassthrough bool

	TLSPassthrough    []string // wildcard hostname patterns
	TLSInterceptOnly  []string // if non-empty, only these are intercepted
	MinTLSVersion     uint16
	MaxTLSVersion     uint16
}

// Dispatcher sniffs accepted connections and routes them.
type Dispatcher struct {
	CA      *ca.CA
	Bus     *eventbus.Bus
	HTTP    HTTPHandler
	Policy  Policy

	passthroughGlobs    []glob.Glob
	interceptOnlyGlobs  []glob.Glob
}

// New compiles the policy's wildcard hostname lists.
func New(authority *ca.CA, bus *eventbus.Bus, handler HTTPHandler, policy Policy) (*Dispatcher, error) {
	d := &Dispatcher{CA: authority, Bus: bus, HTTP: handler, Policy: policy}
	for _, pattern := range policy.TLSPassthrough {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: invalid tlsPassthrough pattern %q: %w", pattern, err)
		}
		d.passthroughGlobs = append(d.passthroughGlobs, g)
	}
	for _, pattern := range policy.TLSInterceptOnly {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: invalid tlsInterceptOnly pattern %q: %w", pattern, err)
		}
		d.interceptOnlyGlobs = append(d.interceptOnlyGlobs, g)
	}
	return d, nil
}

var http2Preface = []byte(http2.ClientPreface)

// Dispatch sniffs conn and routes it, recursing through tunnel envelopes
// until an application protocol is served or the connection closes.
func (d *Dispatcher) Dispatch(conn net.Conn, dest *Destination) {
	if dest == nil {
		dest = &Destination{}
	}
	defer conn.Close()
	if err := d.dispatch(conn, dest); err != nil {
		slog.Debug("dispatch ended", "error", err)
	}
}

func (d *Dispatcher) dispatch(conn net.Conn, dest *Destination) error {
	bc := newBufferedConn(conn)

	first, err := bc.Peek(1)
	if err != nil {
		return fmt.Errorf("dispatcher: peek first byte: %w", err)
	}

	// Step 1: SOCKS.
	if d.Policy.SocksEnabled && (first[0] == 0x04 || first[0] == 0x05) {
		return d.dispatchSocks(bc, first[0])
	}

	// Step 2: TLS ClientHello (0x16 0x03 0x0?).
	helloPrefix, err := bc.Peek(3)
	if err == nil && looksLikeTLS(helloPrefix) {
		return d.dispatchTLS(bc, dest)
	}

	// Step 3: HTTP/2 connection preface.
	prefaceLen := len(http2Preface)
	if prefacePeek, err := bc.Peek(prefaceLen); err == nil && string(prefacePeek) == http2.ClientPreface {
		return d.HTTP.ServeHTTP2(bc, dest)
	}

	// Steps 4-5: HTTP/1 parse, detecting CONNECT specially. Parsing consumes
	// bytes, so it only starts once the buffered bytes open with a method
	// token followed by a space; anything else reaches handleUnparseable
	// with every byte still unread.
	buffered, _ := bc.Peek(bc.Reader().Buffered())
	tokenLen := 0
	for tokenLen < len(buffered) && buffered[tokenLen] > ' ' && buffered[tokenLen] < 0x7f {
		tokenLen++
	}
	if tokenLen == 0 || tokenLen == len(buffered) || buffered[tokenLen] != ' ' {
		return d.handleUnparseable(bc, dest)
	}
	req, err := http.ReadRequest(bc.Reader())
	if err != nil {
		return d.handleUnparseable(bc, dest)
	}

	if req.Method == http.MethodConnect {
		return d.dispatchConnect(bc, req, dest)
	}

	return d.HTTP.ServeHTTP1WithFirst(bc, req, dest)
}

func looksLikeTLS(b []byte) bool {
	return b[0] == 0x16 && b[1] == 0x03 && b[2] <= 0x04
}

func (d *Dispatcher) dispatchSocks(bc *bufferedConn, firstByte byte) error {
	rw := bufio.NewReadWriter(bc.Reader(), bufio.NewWriter(bc))
	negotiated, err := socks.Handshake(bc, rw, firstByte)
	if err != nil {
		d.Bus.Emit(eventbus.EventClientError, err)
		return fmt.Errorf("dispatcher: socks handshake: %w", err)
	}
	return d.dispatch(bc, &Destination{Host: negotiated.Host, Port: negotiated.Port, InsideTunnel: true})
}

func (d *Dispatcher) dispatchConnect(bc *bufferedConn, req *http.Request, dest *Destination) error {
	host, port := splitHostPort(req.Host, req.URL.Host)

	if _, err := io.WriteString(bc, "HTTP/1.1 200 OK\r\n\r\n"); err != nil {
		return fmt.Errorf("dispatcher: writing CONNECT reply: %w", err)
	}

	return d.dispatch(bc, &Destination{Host: host, Port: port, InsideTunnel: true})
}

func (d *Dispatcher) dispatchTLS(bc *bufferedConn, dest *Destination) error {
	sniHolder := &sniCapture{}
	tlsConfig := &tls.Config{
		MinVersion: orDefault(d.Policy.MinTLSVersion, tls.VersionTLS12),
		MaxVersion: orDefault(d.Policy.MaxTLSVersion, tls.VersionTLS13),
		NextProtos: []string{"h2", "http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			sniHolder.sni = hello.ServerName
			if d.shouldPassthroughTLS(hello.ServerName) {
				return nil, errTLSPassthrough
			}
			return d.CA.GenerateCertificate(hello.ServerName)
		},
	}

	// If a passthrough policy applies, don't terminate TLS at all: tunnel
	// the raw bytes to the original destination instead.
	if d.policyKnownPassthrough(dest) {
		return d.rawPassthrough(bc, dest)
	}

	tlsConn := tls.Server(bc, tlsConfig)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if err == errTLSPassthrough {
			return d.rawPassthrough(bc, dest)
		}
		d.Bus.Emit(eventbus.EventTLSClientError, err)
		return fmt.Errorf("dispatcher: tls handshake: %w", err)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		return d.HTTP.ServeHTTP2(tlsConn, dest)
	}
	return d.dispatch(tlsConn, dest)
}

type sniCapture struct{ sni string }

var errTLSPassthrough = fmt.Errorf("dispatcher: sni matches tls passthrough policy")

// shouldPassthroughTLS implements the tlsPassthrough/tlsInterceptOnly policy
// from §4.1: if SNI matches a passthrough entry, or is NOT in a configured
// interceptOnly list, skip TLS termination.
func (d *Dispatcher) shouldPassthroughTLS(sni string) bool {
	for _, g := range d.passthroughGlobs {
		if g.Match(sni) {
			return true
		}
	}
	if len(d.interceptOnlyGlobs) > 0 {
		for _, g := range d.interceptOnlyGlobs {
			if g.Match(sni) {
				return false
			}
		}
		return true
	}
	return false
}

// policyKnownPassthrough is a best-effort pre-check using the destination's
// already-known host (from a CONNECT or SOCKS wrapper) before the SNI is
// even seen, avoiding an unnecessary handshake attempt when we already know
// we'll tunnel raw.
func (d *Dispatcher) policyKnownPassthrough(dest *Destination) bool {
	if dest == nil || dest.Host == "" {
		return false
	}
	return d.shouldPassthroughTLS(dest.Host)
}

func (d *Dispatcher) handleUnparseable(bc *bufferedConn, dest *Destination) error {
	if d.Policy.UnknownProtocolPassthrough && dest.InsideTunnel && dest.Host != "" {
		return d.rawPassthrough(bc, dest)
	}
	d.Bus.Emit(eventbus.EventClientError, fmt.Errorf("dispatcher: unrecognised protocol"))
	io.WriteString(bc, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
	return fmt.Errorf("dispatcher: unrecognised protocol, passthrough disabled or destination unknown")
}

type rawPassthroughOpened struct {
	Host string
	Port int
}

type rawPassthroughClosed struct {
	Host            string
	Port            int
	BytesUp         int64
	BytesDown       int64
	Elapsed         time.Duration
	HumanReadable   string
}

// rawPassthrough opens a TCP connection to dest and copies bytes
// bidirectionally without buffering, per §4.1 step 6 and §9's "avoid
// buffering; bidirectional byte copying with back-pressure".
func (d *Dispatcher) rawPassthrough(bc *bufferedConn, dest *Destination) error {
	upstream, err := net.DialTimeout("tcp", net.JoinHostPort(dest.Host, itoa(dest.Port)), 10*time.Second)
	if err != nil {
		return fmt.Errorf("dispatcher: dialing raw passthrough destination: %w", err)
	}
	defer upstream.Close()

	start := time.Now()
	d.Bus.Emit(eventbus.EventRawPassthroughOpened, rawPassthroughOpened{Host: dest.Host, Port: dest.Port})

	var up, down int64
	done := make(chan struct{}, 2)
	go func() {
		n, _ := io.Copy(upstream, bc)
		up = n
		upstream.Close()
		done <- struct{}{}
	}()
	go func() {
		n, _ := io.Copy(bc, upstream)
		down = n
		done <- struct{}{}
	}()
	<-done
	<-done

	elapsed := time.Since(start)
	d.Bus.Emit(eventbus.EventRawPassthroughClosed, rawPassthroughClosed{
		Host: dest.Host, Port: dest.Port,
		BytesUp: up, BytesDown: down, Elapsed: elapsed,
		HumanReadable: fmt.Sprintf("%s up / %s down in %s", humanize.Bytes(uint64(up)), humanize.Bytes(uint64(down)), elapsed),
	})
	return nil
}

func splitHostPort(hostHeader, urlHost string) (string, int) {
	h := urlHost
	if h == "" {
		h = hostHeader
	}
	host, portStr, err := net.SplitHostPort(h)
	if err != nil {
		return h, 443
	}
	port := 443
	if p, err := parsePort(portStr); err == nil {
		port = p
	}
	return host, port
}

func parsePort(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func orDefault(v, def uint16) uint16 {
	if v == 0 {
		return def
	}
	return v
}
