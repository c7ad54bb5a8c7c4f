package rules

import (
	"fmt"
	"time"

	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/transform"
)

// Step is the terminal action a matched rule performs (§3). It is a closed
// sum type: exactly one concrete implementation below is attached to a
// Rule. Step only carries data — execution lives in the packages that know
// how to carry it out (internal/httpserver for fixed/callback/stream/close/
// timeout, internal/passthrough for forward-to/passthrough, internal/
// wsproxy for the websocket variants), keeping this package free of a
// dependency on the network stack.
type Step interface {
	Explain() string
}

// FixedResponseStep replies with a predetermined status/body/headers.
type FixedResponseStep struct {
	StatusCode    int
	StatusMessage string
	Body          model.BodySource
	Headers       []model.HeaderField
	Trailers      []model.HeaderField
}

func (s *FixedResponseStep) Explain() string {
	return fmt.Sprintf("replies with status %d", s.StatusCode)
}

// JSONStep is a convenience over FixedResponseStep that serialises a value
// as JSON and sets the Content-Type header automatically.
type JSONStep struct {
	StatusCode int
	Value      any
}

func (s *JSONStep) Explain() string { return fmt.Sprintf("replies with JSON status %d", s.StatusCode) }

// CallbackStep computes the response dynamically via an external collaborator.
type CallbackStep struct {
	Callback func(req *model.Request) (*model.Response, error)
}

func (s *CallbackStep) Explain() string { return "replies via callback" }

// StreamStep serves a one-shot streaming body; firing it twice is an error.
type StreamStep struct {
	StatusCode int
	Headers    []model.HeaderField
	Body       model.BodySource
}

func (s *StreamStep) Explain() string { return "streams a one-shot response body" }

// ForwardToStep rewrites host+scheme+port, preserving path and query.
type ForwardToStep struct {
	TargetScheme string
	TargetHost   string
	TargetPort   int
	// UpdateHostHeader mirrors the passthrough TransformSpec field: true
	// (default) sets Host to the target authority, false preserves the
	// original, a non-nil string sets an arbitrary value.
	UpdateHostHeader *string
	SetHostHeader    bool
}

func (s *ForwardToStep) Explain() string {
	return fmt.Sprintf("forwards to %s://%s:%d", s.TargetScheme, s.TargetHost, s.TargetPort)
}

// PassthroughStep forwards the request upstream unchanged except for any
// configured transforms, proxy chaining, and TLS options.
type PassthroughStep struct {
	TransformRequest  *transform.Spec
	TransformResponse *transform.Spec

	ProxyConfig                ProxyConfig
	TrustedCAs                  [][]byte
	ClientCert                  *ClientCertificate
	IgnoreHostCertificateErrors []string

	BeforeRequest  func(req *model.Request) (*RequestOverride, error)
	AfterResponse  func(resp *model.Response) (*ResponseOverride, error)
}

func (s *PassthroughStep) Explain() string { return "passes through to the original destination" }

// ClientCertificate is a client certificate+key pair used for mutual TLS to
// the upstream.
type ClientCertificate struct {
	CertPEM []byte
	KeyPEM  []byte
}

// RequestOverride / ResponseOverride are partial override records returned
// by beforeRequest/afterResponse user hooks.
type RequestOverride struct {
	Method  *string
	URL     *string
	Headers []model.HeaderField
	Body    []byte
}

type ResponseOverride struct {
	StatusCode *int
	Headers    []model.HeaderField
	Body       []byte
}

// ProxyConfig decides whether (and how) the upstream request in a
// passthrough/forward-to step is routed through an intermediate proxy.
// Exactly one of Fixed, Callback, or List (evaluated first-non-undefined-
// wins, left to right) is set.
type ProxyConfig struct {
	Fixed    *ProxyServer
	Callback func(hostname string) (*ProxyServer, bool)
	List     []ProxyConfig
	NoProxy  []string
}

// ProxyServer describes one upstream proxy hop.
type ProxyServer struct {
	Kind     ProxyKind
	Host     string
	Port     int
	Username string
	Password string
}

type ProxyKind string

const (
	ProxyKindHTTP  ProxyKind = "http"
	ProxyKindHTTPS ProxyKind = "https"
	ProxyKindSOCKS ProxyKind = "socks"
)

// CloseConnectionStep drops the TCP connection without writing a response.
type CloseConnectionStep struct{}

func (s *CloseConnectionStep) Explain() string { return "closes the connection" }

// TimeoutStep holds the connection open without writing until the peer
// disconnects.
type TimeoutStep struct{}

func (s *TimeoutStep) Explain() string { return "times out without responding" }

// DelayStep wraps an inner step, deferring its execution by Duration. A
// delay of 0 is a direct pass-through.
type DelayStep struct {
	Duration time.Duration
	Inner    Step
}

func (s *DelayStep) Explain() string {
	return fmt.Sprintf("delays %s then %s", s.Duration, s.Inner.Explain())
}

// WebSocket step variants (§3, §4.6's use by wsproxy).

// WSEchoStep echoes every client message back unmodified.
type WSEchoStep struct{}

func (s *WSEchoStep) Explain() string { return "echoes websocket messages" }

// WSListenStep accepts the upgrade and receives messages without replying.
type WSListenStep struct{}

func (s *WSListenStep) Explain() string { return "listens to websocket messages" }

// WSForwardStep proxies the websocket connection to an upstream.
type WSForwardStep struct {
	TargetScheme string
	TargetHost   string
	TargetPort   int
	TargetPath   string
}

func (s *WSForwardStep) Explain() string {
	return fmt.Sprintf("forwards websocket to %s://%s:%d%s", s.TargetScheme, s.TargetHost, s.TargetPort, s.TargetPath)
}

// WSRejectStep rejects the upgrade with a given status code.
type WSRejectStep struct {
	StatusCode int
}

func (s *WSRejectStep) Explain() string { return fmt.Sprintf("rejects websocket upgrade with %d", s.StatusCode) }

// WSAcceptAndCloseStep accepts the upgrade, then immediately closes it.
type WSAcceptAndCloseStep struct{}

func (s *WSAcceptAndCloseStep) Explain() string { return "accepts then closes the websocket" }

// WSStep is the Step implementation used by the WebSocket rule table.
type WSStep interface {
	Step
	isWSStep()
}

func (*WSEchoStep) isWSStep()          {}
func (*WSListenStep) isWSStep()        {}
func (*WSForwardStep) isWSStep()       {}
func (*WSRejectStep) isWSStep()        {}
func (*WSAcceptAndCloseStep) isWSStep() {}

// HTTPStep is the Step implementation used by the HTTP request rule table.
type HTTPStep interface {
	Step
	isHTTPStep()
}

func (*FixedResponseStep) isHTTPStep()   {}
func (*JSONStep) isHTTPStep()            {}
func (*CallbackStep) isHTTPStep()        {}
func (*StreamStep) isHTTPStep()          {}
func (*ForwardToStep) isHTTPStep()       {}
func (*PassthroughStep) isHTTPStep()     {}
func (*CloseConnectionStep) isHTTPStep() {}
func (*TimeoutStep) isHTTPStep()         {}
func (*DelayStep) isHTTPStep()           {}
