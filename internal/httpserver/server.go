// Package httpserver adapts the dispatcher's sniffed HTTP/1 and HTTP/2
// connections to the unified request/response model and the rule engine,
// grounded on the teacher's internal/proxy/proxy.go ServeHTTP flow: parse,
// match, execute, write, emit.
package httpserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2"

	"github.com/httpmock/interceptor/internal/dispatcher"
	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/passthrough"
	"github.com/httpmock/interceptor/internal/rules"
)

// WebSocketHandler is implemented by internal/wsproxy: given a hijacked
// HTTP/1 connection whose request asked for a websocket upgrade, it matches
// the websocket rule table and carries out whichever step fires, running
// until the websocket closes.
type WebSocketHandler interface {
	HandleUpgrade(conn net.Conn, br *bufio.Reader, r *http.Request, req *model.Request) error
}

// Server implements dispatcher.HTTPHandler, serving both HTTP/1 and HTTP/2
// connections against a shared request-rule table.
type Server struct {
	Rules    *rules.Engine[rules.HTTPStep]
	Pipeline *passthrough.Pipeline
	Bus      *eventbus.Bus
	WS       WebSocketHandler // nil rejects every upgrade with 501

	// ReadFile resolves FixedResponseStep/StreamStep file bodies; defaults
	// to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// NewServer wires a Server against the given rule table, passthrough
// pipeline, and event bus.
func NewServer(ruleEngine *rules.Engine[rules.HTTPStep], pipeline *passthrough.Pipeline, bus *eventbus.Bus) *Server {
	return &Server{Rules: ruleEngine, Pipeline: pipeline, Bus: bus}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// ServeHTTP1WithFirst implements dispatcher.HTTPHandler: it serves the
// already-parsed first request, then keeps reading and serving subsequent
// keep-alive requests from conn until the client closes or sends
// "Connection: close".
func (s *Server) ServeHTTP1WithFirst(conn net.Conn, first *http.Request, dest *dispatcher.Destination) error {
	scheme := schemeOf(conn)
	br := bufio.NewReader(conn)

	req := first
	for {
		keepAlive, err := s.serveOne(conn, br, req, dest, scheme)
		if err != nil {
			return err
		}
		if !keepAlive {
			return nil
		}
		req, err = http.ReadRequest(br)
		if err != nil {
			return nil
		}
	}
}

func (s *Server) serveOne(conn net.Conn, br *bufio.Reader, r *http.Request, dest *dispatcher.Destination, scheme model.Scheme) (bool, error) {
	if isWebSocketUpgrade(r) {
		wsScheme := model.SchemeWS
		if scheme == model.SchemeHTTPS {
			wsScheme = model.SchemeWSS
		}
		modelReq, err := toModelRequest(r, dest, wsScheme, model.ProtocolHTTP1)
		if err != nil {
			return false, err
		}
		if s.WS == nil {
			io.WriteString(conn, "HTTP/1.1 501 Not Implemented\r\nConnection: close\r\n\r\n")
			return false, nil
		}
		return false, s.WS.HandleUpgrade(conn, br, r, modelReq)
	}

	modelReq, err := toModelRequest(r, dest, scheme, model.ProtocolHTTP1)
	if err != nil {
		return false, err
	}

	out := s.processRequest(context.Background(), modelReq, dest, scheme)
	if out.timeout {
		// Hold the connection open, writing nothing, until the peer gives up.
		buf := make([]byte, 1)
		conn.Read(buf)
		return false, nil
	}
	if out.closeConn {
		return false, nil
	}
	if err := writeModelResponse(conn, out.response, r.ProtoMajor, r.ProtoMinor); err != nil {
		return false, err
	}
	return !r.Close, nil
}

// ServeHTTP2 implements dispatcher.HTTPHandler for connections whose ALPN
// (or plaintext preface) negotiated HTTP/2.
func (s *Server) ServeHTTP2(conn net.Conn, dest *dispatcher.Destination) error {
	scheme := schemeOf(conn)
	h2s := &http2.Server{}
	h2s.ServeConn(conn, &http2.ServeConnOpts{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			modelReq, err := toModelRequest(r, dest, scheme, model.ProtocolHTTP2)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			out := s.processRequest(r.Context(), modelReq, dest, scheme)
			if out.timeout {
				<-r.Context().Done()
				return
			}
			if out.closeConn {
				return
			}
			writeHTTP2Response(w, out.response)
		}),
	})
	return nil
}

func schemeOf(conn net.Conn) model.Scheme {
	if _, ok := conn.(*tls.Conn); ok {
		return model.SchemeHTTPS
	}
	return model.SchemeHTTP
}

// writeHTTP2Response mirrors writeModelResponse's §4.4 default-header policy
// for HTTP/2: a Content-Length copied verbatim from resp.Headers would be
// stale whenever TransformResponse changed the body's length, and unlike
// http.Response.Write (which recomputes framing from the ContentLength field
// and excludes any literal Content-Length header), http.ResponseWriter copies
// whatever is in w.Header() onto the wire as-is. Recompute it from the actual
// body instead of trusting the header the step or upstream supplied.
func writeHTTP2Response(w http.ResponseWriter, resp *model.Response) {
	h := w.Header()
	headers := resp.Headers
	useDefaults := headers == nil || len(headers.Raw()) == 0
	body := resp.Body.Buffer()
	if useDefaults {
		h.Set("Date", nowFunc().UTC().Format(http.TimeFormat))
	} else {
		for _, field := range headers.Raw() {
			if strings.EqualFold(field.Name, "Content-Length") {
				continue
			}
			h.Add(field.Name, field.Value)
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if resp.Trailers != nil {
		var names []string
		for _, f := range resp.Trailers.Raw() {
			names = append(names, f.Name)
		}
		for _, name := range names {
			h.Add("Trailer", name)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
	if resp.Trailers != nil {
		for _, f := range resp.Trailers.Raw() {
			h.Set(http.TrailerPrefix+f.Name, f.Value)
		}
	}
}
