// Package wsproxy carries out the websocket step variants named in spec.md
// §3/§4.6 (echo, listen, forward, reject, accept-and-close) once
// internal/httpserver has recognised an upgrade request, adapted from the
// teacher's internal/dashboard/websocket.go hub pattern.
package wsproxy

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/rules"
)

// Handler matches websocket upgrade requests against the websocket rule
// table and executes whichever step fires.
type Handler struct {
	Rules *rules.Engine[rules.WSStep]
	Bus   *eventbus.Bus
}

// NewHandler wires a Handler against the given websocket rule table and
// event bus.
func NewHandler(ruleEngine *rules.Engine[rules.WSStep], bus *eventbus.Bus) *Handler {
	return &Handler{Rules: ruleEngine, Bus: bus}
}

type wsRequestEvent struct {
	RequestID string
	Path      string
}

type wsAcceptedEvent struct{ RequestID string }

type wsMessageEvent struct {
	RequestID   string
	MessageType int
	Data        []byte
}

type wsCloseEvent struct {
	RequestID string
	Code      int
}

// HandleUpgrade implements httpserver.WebSocketHandler.
func (h *Handler) HandleUpgrade(conn net.Conn, br *bufio.Reader, r *http.Request, req *model.Request) error {
	h.Bus.Emit(eventbus.EventWebSocketRequest, wsRequestEvent{RequestID: req.ID, Path: req.Path})

	rule := h.Rules.Match(req)
	if rule == nil {
		writeRejection(conn, http.StatusServiceUnavailable)
		return nil
	}
	req.MatchedRuleID = rule.ID

	switch step := rule.Step.(type) {
	case *rules.WSRejectStep:
		writeRejection(conn, step.StatusCode)
		return nil

	case *rules.WSAcceptAndCloseStep:
		ws, err := upgrade(conn, br, r, nil)
		if err != nil {
			return err
		}
		h.Bus.Emit(eventbus.EventWebSocketAccepted, wsAcceptedEvent{RequestID: req.ID})
		ws.Close()
		h.Bus.Emit(eventbus.EventWebSocketClose, wsCloseEvent{RequestID: req.ID, Code: websocket.CloseNormalClosure})
		return nil

	case *rules.WSEchoStep:
		ws, err := upgrade(conn, br, r, nil)
		if err != nil {
			return err
		}
		h.Bus.Emit(eventbus.EventWebSocketAccepted, wsAcceptedEvent{RequestID: req.ID})
		h.runEcho(ws, req.ID)
		return nil

	case *rules.WSListenStep:
		ws, err := upgrade(conn, br, r, nil)
		if err != nil {
			return err
		}
		h.Bus.Emit(eventbus.EventWebSocketAccepted, wsAcceptedEvent{RequestID: req.ID})
		h.runListen(ws, req.ID)
		return nil

	case *rules.WSForwardStep:
		ws, err := upgrade(conn, br, r, nil)
		if err != nil {
			return err
		}
		h.Bus.Emit(eventbus.EventWebSocketAccepted, wsAcceptedEvent{RequestID: req.ID})
		h.runForward(ws, req.ID, step)
		return nil

	default:
		writeRejection(conn, http.StatusNotImplemented)
		return nil
	}
}

// runEcho reads client messages and writes each one straight back, emitting
// the received/sent event pair for every message.
func (h *Handler) runEcho(ws *websocket.Conn, requestID string) {
	defer h.closeWithEvent(ws, requestID)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.Bus.Emit(eventbus.EventWebSocketMessageReceived, wsMessageEvent{RequestID: requestID, MessageType: msgType, Data: data})
		if err := ws.WriteMessage(msgType, data); err != nil {
			return
		}
		h.Bus.Emit(eventbus.EventWebSocketMessageSent, wsMessageEvent{RequestID: requestID, MessageType: msgType, Data: data})
	}
}

// runListen accepts the upgrade and records incoming messages without
// replying.
func (h *Handler) runListen(ws *websocket.Conn, requestID string) {
	defer h.closeWithEvent(ws, requestID)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.Bus.Emit(eventbus.EventWebSocketMessageReceived, wsMessageEvent{RequestID: requestID, MessageType: msgType, Data: data})
	}
}

// runForward proxies the client websocket to an upstream server, relaying
// messages in both directions until either side closes.
func (h *Handler) runForward(client *websocket.Conn, requestID string, step *rules.WSForwardStep) {
	defer h.closeWithEvent(client, requestID)

	target := url.URL{
		Scheme: step.TargetScheme,
		Host:   step.TargetHost + ":" + strconv.Itoa(step.TargetPort),
		Path:   step.TargetPath,
	}
	upstream, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay(h.Bus, requestID, client, upstream)
	}()
	go func() {
		defer wg.Done()
		relay(h.Bus, requestID, upstream, client)
	}()
	wg.Wait()
}

func relay(bus *eventbus.Bus, requestID string, from, to *websocket.Conn) {
	for {
		msgType, data, err := from.ReadMessage()
		if err != nil {
			return
		}
		bus.Emit(eventbus.EventWebSocketMessageReceived, wsMessageEvent{RequestID: requestID, MessageType: msgType, Data: data})
		if err := to.WriteMessage(msgType, data); err != nil {
			return
		}
		bus.Emit(eventbus.EventWebSocketMessageSent, wsMessageEvent{RequestID: requestID, MessageType: msgType, Data: data})
	}
}

func (h *Handler) closeWithEvent(ws *websocket.Conn, requestID string) {
	ws.Close()
	h.Bus.Emit(eventbus.EventWebSocketClose, wsCloseEvent{RequestID: requestID, Code: websocket.CloseNormalClosure})
}
