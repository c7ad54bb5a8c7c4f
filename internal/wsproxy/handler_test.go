package wsproxy

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/rules"
)

func startTestServer(t *testing.T, handler *Handler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		br := bufio.NewReader(conn)
		r, err := http.ReadRequest(br)
		if err != nil {
			conn.Close()
			return
		}
		req := &model.Request{ID: model.NewRequestID(), Method: r.Method, Path: r.URL.Path, Headers: model.NewHeaders(nil)}
		handler.HandleUpgrade(conn, br, r, req)
	}()

	return ln.Addr().String()
}

func newTestHandler(t *testing.T) (*Handler, *rules.Engine[rules.WSStep]) {
	t.Helper()
	engine := rules.NewEngine[rules.WSStep]()
	return NewHandler(engine, eventbus.New()), engine
}

func TestHandleUpgradeEcho(t *testing.T) {
	handler, engine := newTestHandler(t)
	if _, err := engine.AddRules(rules.RuleSpec[rules.WSStep]{
		Matchers: []rules.Matcher{pathExactMatcher{path: "/echo"}},
		Step:     &rules.WSEchoStep{},
	}); err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	addr := startTestServer(t, handler)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/echo", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "ping" {
		t.Fatalf("expected echo of ping, got %q", data)
	}
}

func TestHandleUpgradeRejectsWithoutMatch(t *testing.T) {
	handler, _ := newTestHandler(t)
	addr := startTestServer(t, handler)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/nope", nil)
	if err == nil {
		t.Fatal("expected dial to fail for unmatched upgrade")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %#v", resp)
	}
}

// pathExactMatcher is a tiny test-local matcher: internal/rules' matchers are
// all HTTP-request-shaped, but the websocket table reuses the same Matcher
// interface over the same model.Request.
type pathExactMatcher struct{ path string }

func (m pathExactMatcher) Match(req *model.Request) bool { return req.Path == m.path }
func (m pathExactMatcher) Explain() string               { return "for path " + m.path }
