package passthrough

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	xproxy "golang.org/x/net/proxy"

	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/rules"
	"github.com/httpmock/interceptor/internal/transform"
)

// hopByHopHeaders are connection-specific headers that must never be copied
// across a hop, adapted from the teacher's forwarder.go list.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ReadFile abstracts filesystem access (replaceBodyFromFile / thenFromFile);
// overridden in tests.
var ReadFile = func(path string) ([]byte, error) {
	return readFileOS(path)
}

// Pipeline executes passthrough and forward-to steps.
type Pipeline struct {
	Bus *eventbus.Bus

	// TrustedCAs is the default trusted root pool; a step's own TrustedCAs
	// extend it.
	TrustedCAs *x509.CertPool
}

// NewPipeline builds a Pipeline publishing rule-events onto bus; the
// response/abort events are left to the caller.
func NewPipeline(bus *eventbus.Bus) *Pipeline {
	return &Pipeline{Bus: bus}
}

// Result is what the pipeline hands back to the HTTP adapter to write to the
// downstream client.
type Result struct {
	Response *model.Response
	Err      error
}

// Execute runs the full passthrough flow described in §4.5 for either a
// PassthroughStep or a ForwardToStep (forward-to is modeled as a
// passthrough with a destination override and no transforms beyond the
// rewrite itself).
func (p *Pipeline) Execute(ctx context.Context, req *model.Request, destScheme, destHost string, destPort int, step *rules.PassthroughStep) *Result {
	if step == nil {
		step = &rules.PassthroughStep{}
	}

	newScheme, newHost, newPath, newQuery := destScheme, destHost, req.Path, req.Query
	method := req.Method
	if step.TransformRequest != nil {
		if step.TransformRequest.ReplaceMethod != nil {
			method = *step.TransformRequest.ReplaceMethod
		}
		var err error
		newScheme, newHost, newPath, newQuery, err = transform.ApplyURL(step.TransformRequest, destScheme, destHost, req.Path, req.Query)
		if err != nil {
			return &Result{Err: fmt.Errorf("transform: %w", err)}
		}
	}

	targetAuthority := newHost
	if destPort != 0 && !isDefaultPort(newScheme, destPort) {
		targetAuthority = newHost + ":" + strconv.Itoa(destPort)
	}

	headers := req.Headers
	if step.TransformRequest != nil {
		headers = transform.ApplyHeaders(step.TransformRequest, headers)
		if step.TransformRequest.ReplaceHost != nil {
			headers = transform.ApplyHostHeader(headers, step.TransformRequest.ReplaceHost, targetAuthority)
		}
	}

	bodyResult, err := transform.ApplyBody(requestTransformOrEmpty(step.TransformRequest), req.Body.Buffer(), contentEncodingOf(headers), ReadFile)
	if err != nil {
		return &Result{Err: err}
	}

	p.Bus.Emit(eventbus.EventRuleEvent, ruleEventHead{
		Kind:      "passthrough-request-head",
		RequestID: req.ID,
		Method:    method,
		URL:       newScheme + "://" + targetAuthority + newPath + queryWithPrefix(newQuery),
		Headers:   headers.Raw(),
	})
	p.Bus.Emit(eventbus.EventRuleEvent, ruleEventBody{
		Kind:       "passthrough-request-body",
		RequestID:  req.ID,
		Overridden: bodyResult.Overridden,
		RawBody:    bodyResult.Body,
	})

	upstreamURL := newScheme + "://" + targetAuthority + newPath + queryWithPrefix(newQuery)

	client, err := p.buildClient(req.Protocol, newScheme, newHost, destPort, step)
	if err != nil {
		return &Result{Err: fmt.Errorf("upstream connection: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, upstreamURL, bytes.NewReader(bodyResult.Body))
	if err != nil {
		return &Result{Err: fmt.Errorf("building upstream request: %w", err)}
	}
	copyHeadersToHTTP(httpReq.Header, headers)
	httpReq.ContentLength = int64(len(bodyResult.Body))

	resp, err := client.Do(httpReq)
	if err != nil {
		return &Result{Err: fmt.Errorf("upstream request failed: %w", err)}
	}
	defer resp.Body.Close()

	respHeaders := headersFromHTTP(resp.Header)
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{Err: fmt.Errorf("reading upstream response: %w", err)}
	}

	p.Bus.Emit(eventbus.EventRuleEvent, ruleEventHead{
		Kind:      "passthrough-response-head",
		RequestID: req.ID,
		Headers:   respHeaders.Raw(),
	})

	finalBody := respBody
	overridden := false
	if step.TransformResponse != nil {
		respHeaders = transform.ApplyHeaders(step.TransformResponse, respHeaders)
		result, err := transform.ApplyBody(step.TransformResponse, respBody, contentEncodingOf(respHeaders), ReadFile)
		if err != nil {
			return &Result{Err: err}
		}
		finalBody = result.Body
		overridden = result.Overridden
	}

	p.Bus.Emit(eventbus.EventRuleEvent, ruleEventBody{
		Kind:       "passthrough-response-body",
		RequestID:  req.ID,
		Overridden: overridden,
		RawBody:    respBody, // upstream-perspective bytes, pre-response-transform (§4.5 step 7)
	})

	statusCode := resp.StatusCode
	if step.TransformResponse != nil && step.TransformResponse.ReplaceStatus != nil {
		statusCode = *step.TransformResponse.ReplaceStatus
	}

	return &Result{Response: &model.Response{
		RequestID:     req.ID,
		StatusCode:    statusCode,
		StatusMessage: http.StatusText(statusCode),
		Headers:       respHeaders,
		Body:          model.NewBody(finalBody, respHeaders.Get("Content-Type")),
	}}
}

func requestTransformOrEmpty(t *transform.Spec) *transform.Spec {
	if t == nil {
		return &transform.Spec{}
	}
	return t
}

func contentEncodingOf(h *model.Headers) []string {
	enc := h.Get("Content-Encoding")
	if enc == "" {
		return nil
	}
	return splitCommaList(enc)
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func queryWithPrefix(q string) string {
	if q == "" {
		return ""
	}
	return "?" + q
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "http":
		return port == 80
	case "https":
		return port == 443
	}
	return false
}

// buildClient constructs an *http.Client configured for the chosen upstream
// protocol (§4.5 step 2: prefer HTTP/2 if the original arrived as HTTP/2 AND
// the destination negotiates ALPN h2) and any configured proxy chaining.
func (p *Pipeline) buildClient(originalProtocol model.Protocol, scheme, host string, port int, step *rules.PassthroughStep) (*http.Client, error) {
	tlsConfig := &tls.Config{}
	if scheme == "https" {
		pool := p.TrustedCAs
		if pool == nil {
			var err error
			pool, err = x509.SystemCertPool()
			if err != nil || pool == nil {
				pool = x509.NewCertPool()
			}
			pool = pool.Clone()
		}
		for _, ca := range step.TrustedCAs {
			pool.AppendCertsFromPEM(ca)
		}
		tlsConfig.RootCAs = pool
		for _, ignored := range step.IgnoreHostCertificateErrors {
			if ignored == host || ignored == "*" {
				tlsConfig.InsecureSkipVerify = true
			}
		}
		if step.ClientCert != nil {
			cert, err := tls.X509KeyPair(step.ClientCert.CertPEM, step.ClientCert.KeyPEM)
			if err == nil {
				tlsConfig.Certificates = []tls.Certificate{cert}
			}
		}
		if originalProtocol == model.ProtocolHTTP2 {
			tlsConfig.NextProtos = []string{"h2", "http/1.1"}
		} else {
			tlsConfig.NextProtos = []string{"http/1.1"}
		}
	}

	dialer := &net.Dialer{Timeout: DialTimeout}
	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		DialContext:     dialer.DialContext,
	}

	if proxyServer, ok := ResolveProxy(step.ProxyConfig, host, port); ok {
		if err := applyProxy(transport, proxyServer); err != nil {
			return nil, err
		}
	}

	if originalProtocol == model.ProtocolHTTP2 && scheme == "https" {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configuring http2 transport: %w", err)
		}
	}

	return &http.Client{Transport: transport, Timeout: 0}, nil
}

func applyProxy(transport *http.Transport, server *rules.ProxyServer) error {
	switch server.Kind {
	case rules.ProxyKindHTTP, rules.ProxyKindHTTPS:
		scheme := "http"
		if server.Kind == rules.ProxyKindHTTPS {
			scheme = "https"
		}
		authority := server.Host + ":" + strconv.Itoa(server.Port)
		if server.Username != "" {
			authority = server.Username + ":" + server.Password + "@" + authority
		}
		proxyURL, err := url.Parse(scheme + "://" + authority)
		if err != nil {
			return err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	case rules.ProxyKindSOCKS:
		var auth *xproxy.Auth
		if server.Username != "" {
			auth = &xproxy.Auth{User: server.Username, Password: server.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", server.Host+":"+strconv.Itoa(server.Port), auth, xproxy.Direct)
		if err != nil {
			return fmt.Errorf("configuring socks proxy: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if _, hasDeadline := ctx.Deadline(); !hasDeadline {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, DialTimeout)
				defer cancel()
			}
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	}
	return nil
}

func copyHeadersToHTTP(dst http.Header, src *model.Headers) {
	for _, f := range src.Raw() {
		if hopByHopHeaders[f.Name] {
			continue
		}
		dst.Add(f.Name, f.Value)
	}
}

func headersFromHTTP(h http.Header) *model.Headers {
	var fields []model.HeaderField
	for name, values := range h {
		if hopByHopHeaders[name] {
			continue
		}
		for _, v := range values {
			fields = append(fields, model.HeaderField{Name: name, Value: v})
		}
	}
	return model.NewHeaders(fields)
}

type ruleEventHead struct {
	Kind      string
	RequestID string
	Method    string
	URL       string
	Headers   []model.HeaderField
}

type ruleEventBody struct {
	Kind       string
	RequestID  string
	Overridden bool
	RawBody    []byte
}

// DialTimeout bounds upstream TCP connection attempts.
const DialTimeout = 30 * time.Second
