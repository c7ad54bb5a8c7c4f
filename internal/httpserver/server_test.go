package httpserver

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/passthrough"
	"github.com/httpmock/interceptor/internal/rules"
)

func newTestServer(t *testing.T) (*Server, *rules.Engine[rules.HTTPStep]) {
	t.Helper()
	engine := rules.NewEngine[rules.HTTPStep]()
	bus := eventbus.New()
	return &Server{
		Rules:    engine,
		Pipeline: passthrough.NewPipeline(bus),
		Bus:      bus,
	}, engine
}

func TestServeHTTP1FixedResponse(t *testing.T) {
	server, engine := newTestServer(t)
	if _, err := engine.AddRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step: &rules.FixedResponseStep{
			StatusCode: 200,
			Headers:    []model.HeaderField{{Name: "Content-Type", Value: "text/plain"}},
			Body:       model.BodySource{Bytes: []byte("hello")},
		},
	}); err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	client, serverConn := net.Pipe()
	defer client.Close()

	go func() {
		first, err := http.ReadRequest(bufio.NewReader(strings.NewReader("GET /hi HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")))
		if err != nil {
			t.Errorf("parsing first request: %v", err)
			return
		}
		server.ServeHTTP1WithFirst(serverConn, first, nil)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("expected text/plain, got %q", ct)
	}
}

func TestServeHTTP1DefaultHeadersUseChunkedFraming(t *testing.T) {
	server, engine := newTestServer(t)
	if _, err := engine.AddRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step: &rules.FixedResponseStep{
			StatusCode: 200,
			Body:       model.BodySource{Bytes: []byte("hello")},
		},
	}); err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	client, serverConn := net.Pipe()
	defer client.Close()

	go func() {
		first, _ := http.ReadRequest(bufio.NewReader(strings.NewReader("GET /hi HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")))
		server.ServeHTTP1WithFirst(serverConn, first, nil)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if len(resp.TransferEncoding) != 1 || resp.TransferEncoding[0] != "chunked" {
		t.Fatalf("expected chunked transfer-encoding, got %v", resp.TransferEncoding)
	}
	if resp.ContentLength != -1 {
		t.Fatalf("expected unknown (-1) content length when defaults apply, got %d", resp.ContentLength)
	}
	if resp.Header.Get("Date") == "" {
		t.Fatal("expected a default Date header")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading decoded chunked body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected decoded body %q, got %q", "hello", body)
	}
}

func TestWriteHTTP2ResponseRecomputesStaleContentLength(t *testing.T) {
	resp := &model.Response{
		StatusCode: 200,
		Headers: model.NewHeaders([]model.HeaderField{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Content-Length", Value: "999"}, // stale, from before a body transform
		}),
		Body: model.NewBody([]byte("short"), "text/plain"),
	}

	rec := httptest.NewRecorder()
	writeHTTP2Response(rec, resp)

	if got := rec.Header().Get("Content-Length"); got != "5" {
		t.Fatalf("expected recomputed Content-Length 5, got %q", got)
	}
	if rec.Body.String() != "short" {
		t.Fatalf("expected body %q, got %q", "short", rec.Body.String())
	}
}

func TestWriteHTTP2ResponseDefaultHeadersOmitStaleContentLength(t *testing.T) {
	resp := &model.Response{
		StatusCode: 200,
		Body:       model.NewBody([]byte("hello"), ""),
	}

	rec := httptest.NewRecorder()
	writeHTTP2Response(rec, resp)

	if got := rec.Header().Get("Content-Length"); got != "5" {
		t.Fatalf("expected Content-Length 5, got %q", got)
	}
	if rec.Header().Get("Date") == "" {
		t.Fatal("expected a default Date header")
	}
}

func TestServeHTTP1NoMatchReturns503(t *testing.T) {
	server, _ := newTestServer(t)

	client, serverConn := net.Pipe()
	defer client.Close()

	go func() {
		first, _ := http.ReadRequest(bufio.NewReader(strings.NewReader("GET /missing HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")))
		server.ServeHTTP1WithFirst(serverConn, first, nil)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServeHTTP1CloseConnectionStep(t *testing.T) {
	server, engine := newTestServer(t)
	if _, err := engine.AddRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step:     &rules.CloseConnectionStep{},
	}); err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	client, serverConn := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		first, _ := http.ReadRequest(bufio.NewReader(strings.NewReader("GET /x HTTP/1.1\r\nHost: example.com\r\n\r\n")))
		server.ServeHTTP1WithFirst(serverConn, first, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP1WithFirst did not return after CloseConnectionStep")
	}
}
