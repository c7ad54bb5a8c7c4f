// Package mockserver is the in-process Go API that glues the dispatcher,
// CA, rule engines, passthrough pipeline, and event bus into one running
// server — the "rule-builder DSL" named in §1 is just this package's Go
// constructor API: there is no separate external DSL, callers build rules
// by calling Rule/Matcher/Step constructors directly and pass them to
// AddHTTPRules/AddWSRules.
package mockserver

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/httpmock/interceptor/internal/ca"
	"github.com/httpmock/interceptor/internal/dispatcher"
	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/httpserver"
	"github.com/httpmock/interceptor/internal/passthrough"
	"github.com/httpmock/interceptor/internal/rules"
	"github.com/httpmock/interceptor/internal/wsproxy"
)

// Options configures a Server at construction time.
type Options struct {
	CA     *ca.CA
	Policy dispatcher.Policy

	// TrustedCAs extends the passthrough pipeline's default trusted root
	// pool for upstream TLS verification.
	TrustedCAs *x509.CertPool
}

// Server owns the dispatcher's accept loop and every subsystem it wires
// into: the HTTP/WS rule engines, the passthrough pipeline, and the event
// bus. The administrative control surface (internal/control) is built
// separately from this Server's exported fields by whoever owns process
// lifecycle (cmd/mockctl), since it runs its own net/http.Server.
type Server struct {
	Bus        *eventbus.Bus
	HTTPRules  *rules.Engine[rules.HTTPStep]
	WSRules    *rules.Engine[rules.WSStep]
	Pipeline   *passthrough.Pipeline
	Dispatcher *dispatcher.Dispatcher

	listener net.Listener
	addr     string
}

// New wires every subsystem together but does not start listening; call
// ListenRange then Serve to begin accepting connections.
func New(opts Options) *Server {
	bus := eventbus.New()
	httpRules := rules.NewEngine[rules.HTTPStep]()
	wsRules := rules.NewEngine[rules.WSStep]()

	pipeline := passthrough.NewPipeline(bus)
	pipeline.TrustedCAs = opts.TrustedCAs

	httpSrv := httpserver.NewServer(httpRules, pipeline, bus)
	httpSrv.WS = wsproxy.NewHandler(wsRules, bus)

	d, err := dispatcher.New(opts.CA, bus, httpSrv, opts.Policy)
	if err != nil {
		// Policy glob compilation failures are bad wildcard syntax in a
		// config file, caught once at startup, not a runtime condition to
		// recover from.
		panic(fmt.Sprintf("mockserver: invalid dispatcher policy: %v", err))
	}

	return &Server{
		Bus:        bus,
		HTTPRules:  httpRules,
		WSRules:    wsRules,
		Pipeline:   pipeline,
		Dispatcher: d,
	}
}

// ErrNoPortAvailable is returned by ListenRange when every port in the
// configured range is already in use.
var ErrNoPortAvailable = errors.New("mockserver: no port available in range")

// ListenRange binds the main dispatcher listener to the first free port in
// [start, end] on host, per §5's "tries each port in turn, skipping
// EADDRINUSE, fails only if the whole range is busy."
func (s *Server) ListenRange(host string, start, end int) (int, error) {
	for port := start; port <= end; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			s.listener = ln
			s.addr = addr
			return port, nil
		}
		if !isAddrInUse(err) {
			return 0, fmt.Errorf("listening on %s: %w", addr, err)
		}
	}
	return 0, ErrNoPortAvailable
}

// Addr returns the address the main listener bound to, once ListenRange has
// succeeded.
func (s *Server) Addr() string { return s.addr }

// Serve runs the dispatcher's accept loop until the listener is closed.
// Each accepted connection is dispatched in its own goroutine.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("mockserver: Serve called before a successful ListenRange")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
		go s.Dispatcher.Dispatch(conn, nil)
	}
}

// Close shuts down the main listener. Does not attempt to drain in-flight
// connections — spec.md §1 says this system does not persist state across
// restarts, so a hard stop is sufficient.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// AddHTTPRules registers HTTP rules in priority/insertion order, returning
// stable endpoint handles — the Go-native equivalent of a mock/intercept
// library's rule-builder DSL.
func (s *Server) AddHTTPRules(specs ...rules.RuleSpec[rules.HTTPStep]) ([]rules.EndpointHandle, error) {
	return s.HTTPRules.AddRules(specs...)
}

// AddWSRules registers websocket rules the same way.
func (s *Server) AddWSRules(specs ...rules.RuleSpec[rules.WSStep]) ([]rules.EndpointHandle, error) {
	return s.WSRules.AddRules(specs...)
}

// Reset clears both rule tables, per §4.3's explicit reset contract.
func (s *Server) Reset() {
	s.HTTPRules.Reset()
	s.WSRules.Reset()
}

// GetMockedEndpoints returns every registered rule across both tables.
func (s *Server) GetMockedEndpoints() []rules.EndpointHandle {
	out := append([]rules.EndpointHandle{}, s.HTTPRules.GetMockedEndpoints()...)
	out = append(out, s.WSRules.GetMockedEndpoints()...)
	return out
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func isClosedErr(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Err.Error() == "use of closed network connection"
}
