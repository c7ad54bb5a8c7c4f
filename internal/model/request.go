package model

import (
	"time"

	"github.com/google/uuid"
)

// Protocol identifies the wire protocol a request arrived over.
type Protocol string

const (
	ProtocolHTTP1 Protocol = "http/1.1"
	ProtocolHTTP2 Protocol = "h2"
)

// Scheme identifies the logical scheme of a request.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeWS    Scheme = "ws"
	SchemeWSS   Scheme = "wss"
)

// Timing holds the marks named in §3: start, body-received, headers-sent,
// response-sent, aborted. Zero value means "not yet reached".
type Timing struct {
	Start         time.Time
	BodyReceived  time.Time
	HeadersSent   time.Time
	ResponseSent  time.Time
	Aborted       time.Time
}

// Request is an immutable snapshot of a parsed HTTP request.
type Request struct {
	ID       string // stable, unique per server run
	Protocol Protocol
	Scheme   Scheme
	Method   string

	Host string
	Port int
	Path string
	Query string

	Headers  *Headers
	Trailers *Headers // nil unless chunked HTTP/1 or HTTP/2

	Body *Body

	// MatchedRuleID is set after the rule engine selects a rule for this
	// request (empty beforehand).
	MatchedRuleID string

	Timing Timing
	Tags   map[string]string
}

// NewRequestID returns a fresh stable id, unique for the life of the process.
func NewRequestID() string {
	return uuid.NewString()
}

// AbsoluteURL reconstructs the absolute URL this request targets.
func (r *Request) AbsoluteURL() string {
	authority := r.Host
	if r.Port != 0 && !isDefaultPort(string(r.Scheme), r.Port) {
		authority = r.Host + ":" + itoa(r.Port)
	}
	u := string(r.Scheme) + "://" + authority + r.Path
	if r.Query != "" {
		u += "?" + r.Query
	}
	return u
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "http", "ws":
		return port == 80
	case "https", "wss":
		return port == 443
	}
	return false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Response is a complete HTTP response, either synthesised by a step or
// received from an upstream.
type Response struct {
	RequestID     string
	StatusCode    int
	StatusMessage string

	Headers  *Headers
	Trailers *Headers

	Body *Body

	Timing Timing
	Tags   map[string]string
}
