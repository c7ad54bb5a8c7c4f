package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/rules"
)

func newTestServer(t *testing.T) (*Server, *rules.Engine[rules.HTTPStep], *eventbus.Bus) {
	t.Helper()
	httpRules := rules.NewEngine[rules.HTTPStep]()
	wsRules := rules.NewEngine[rules.WSStep]()
	bus := eventbus.New()
	s := New(Options{HTTPRules: httpRules, WSRules: wsRules, Bus: bus})
	return s, httpRules, bus
}

func TestHandleEndpointsEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/endpoints", nil)
	rec := httptest.NewRecorder()
	s.APIHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []endpointDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no endpoints, got %v", out)
	}
}

func TestHandleEndpointsListsRegisteredRule(t *testing.T) {
	s, httpRules, _ := newTestServer(t)

	if _, err := httpRules.AddRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step:     &rules.FixedResponseStep{StatusCode: 200},
	}); err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/endpoints", nil)
	rec := httptest.NewRecorder()
	s.APIHandler().ServeHTTP(rec, req)

	var out []endpointDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(out))
	}
}

func TestHandleResetClearsRules(t *testing.T) {
	s, httpRules, _ := newTestServer(t)
	if _, err := httpRules.AddRules(rules.RuleSpec[rules.HTTPStep]{
		Matchers: []rules.Matcher{rules.MethodMatcher{Method: "GET"}},
		Step:     &rules.FixedResponseStep{StatusCode: 200},
	}); err != nil {
		t.Fatalf("AddRules: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	rec := httptest.NewRecorder()
	s.APIHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if got := httpRules.GetMockedEndpoints(); len(got) != 0 {
		t.Fatalf("expected rules cleared, got %v", got)
	}
}

func TestHandleEndpointsRejectsWrongMethod(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/endpoints", nil)
	rec := httptest.NewRecorder()
	s.APIHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestEventStreamBroadcastsRequestEvents(t *testing.T) {
	s, _, bus := newTestServer(t)

	ts := httptest.NewServer(s.EventStreamHandler())
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// give the hub a moment to register the connection before emitting.
	time.Sleep(50 * time.Millisecond)
	bus.Emit(eventbus.EventRequest, &model.Request{ID: "req-1", Method: "GET", Path: "/hello"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope["event"] != string(eventbus.EventRequest) {
		t.Fatalf("expected event %q, got %v", eventbus.EventRequest, envelope["event"])
	}
}

func TestServeHTTPRendersControlPage(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
