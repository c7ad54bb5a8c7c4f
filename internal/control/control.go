// Package control implements the thin administrative surface named in
// spec.md §1/§6: list the currently mocked endpoints with their seen-counts,
// reset the rule tables, and stream live traffic events to a browser,
// adapted from the teacher's internal/dashboard/dashboard.go REST shape.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/rules"
)

// Options holds the dependencies injected into the control surface.
type Options struct {
	HTTPRules *rules.Engine[rules.HTTPStep]
	WSRules   *rules.Engine[rules.WSStep]
	Bus       *eventbus.Bus
}

// Server serves the control UI, its REST API, and the live event stream.
type Server struct {
	httpRules *rules.Engine[rules.HTTPStep]
	wsRules   *rules.Engine[rules.WSStep]
	bus       *eventbus.Bus
	hub       *wsHub
}

// New wires a Server and starts its broadcast hub and event-bus subscriptions.
func New(opts Options) *Server {
	s := &Server{
		httpRules: opts.HTTPRules,
		wsRules:   opts.WSRules,
		bus:       opts.Bus,
		hub:       newWSHub(),
	}
	go s.hub.run()
	s.subscribeAll()
	return s
}

var allEvents = []eventbus.EventName{
	eventbus.EventRequest,
	eventbus.EventResponse,
	eventbus.EventAbort,
	eventbus.EventWebSocketRequest,
	eventbus.EventWebSocketAccepted,
	eventbus.EventWebSocketMessageReceived,
	eventbus.EventWebSocketMessageSent,
	eventbus.EventWebSocketClose,
	eventbus.EventTLSClientError,
	eventbus.EventClientError,
	eventbus.EventRawPassthroughOpened,
	eventbus.EventRawPassthroughClosed,
	eventbus.EventRuleEvent,
}

// subscribeAll forwards every event-bus kind onto the live-feed websocket,
// tagged with its event name so the UI can distinguish them.
func (s *Server) subscribeAll() {
	for _, name := range allEvents {
		eventName := name
		s.bus.On(eventName, func(payload any) {
			envelope := map[string]any{"event": string(eventName), "payload": payload}
			data, err := json.Marshal(envelope)
			if err != nil {
				slog.Error("control: failed to marshal event for broadcast", "event", eventName, "error", err)
				return
			}
			s.hub.broadcast(data)
		})
	}
}

// ServeHTTP serves the embedded single-page control UI.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(controlHTML))
}

// EventStreamHandler returns the handler for the live-feed websocket.
func (s *Server) EventStreamHandler() http.Handler {
	return http.HandlerFunc(s.handleEventStream)
}

// APIHandler returns the REST mux for /api/endpoints and /api/reset.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/endpoints", s.handleEndpoints)
	mux.HandleFunc("/api/reset", s.handleReset)
	return mux
}

type endpointDTO struct {
	ID          string `json:"id"`
	Explanation string `json:"explanation"`
	SeenCount   int    `json:"seenCount"`
}

// handleEndpoints lists every registered rule across both the HTTP and
// websocket tables, mirroring getMockedEndpoints (§4.3/§6).
func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	var out []endpointDTO
	if s.httpRules != nil {
		for _, h := range s.httpRules.GetMockedEndpoints() {
			out = append(out, endpointDTO{ID: h.ID, Explanation: h.Explanation, SeenCount: h.SeenCount})
		}
	}
	if s.wsRules != nil {
		for _, h := range s.wsRules.GetMockedEndpoints() {
			out = append(out, endpointDTO{ID: h.ID, Explanation: h.Explanation, SeenCount: h.SeenCount})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReset clears both rule tables (§5: "does not persist rules or state
// across restarts" — reset is the in-process equivalent).
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if s.httpRules != nil {
		s.httpRules.Reset()
	}
	if s.wsRules != nil {
		s.wsRules.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

const controlHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Interceptor Control</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 22px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px;
          padding: 16px; margin-bottom: 16px; }
  .card h2 { font-size: 14px; color: #8b949e; text-transform: uppercase; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  #feed { max-height: 320px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
  .btn { background: #21262d; border: 1px solid #30363d; color: #e1e4e8;
         padding: 4px 12px; border-radius: 4px; cursor: pointer; font-size: 12px; }
  .btn:hover { background: #30363d; }
</style>
</head>
<body>
<h1>Interceptor Control</h1>
<p class="subtitle">Mocked endpoints and live traffic</p>

<div class="card">
  <h2>Mocked endpoints</h2>
  <table>
    <thead><tr><th>ID</th><th>Rule</th><th>Seen</th></tr></thead>
    <tbody id="endpoints-tbody"><tr><td colspan="3">Loading...</td></tr></tbody>
  </table>
  <br><button class="btn" onclick="resetRules()">Reset rules</button>
</div>

<div class="card">
  <h2>Live events</h2>
  <div id="feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;');
}
async function refreshEndpoints() {
  try {
    const res = await fetch('/api/endpoints');
    const endpoints = await res.json();
    const tbody = document.getElementById('endpoints-tbody');
    if (!endpoints || endpoints.length === 0) { tbody.innerHTML = '<tr><td colspan="3">No rules registered</td></tr>'; return; }
    tbody.innerHTML = endpoints.map(e =>
      '<tr><td>' + esc(e.id) + '</td><td>' + esc(e.explanation) + '</td><td>' + e.seenCount + '</td></tr>'
    ).join('');
  } catch (e) { console.error('refresh failed:', e); }
}
async function resetRules() {
  await fetch('/api/reset', { method: 'POST' });
  refreshEndpoints();
}
function connectFeed() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/events');
  ws.onmessage = function(e) {
    const feed = document.getElementById('feed');
    const div = document.createElement('div');
    div.className = 'feed-entry';
    div.textContent = e.data;
    feed.insertBefore(div, feed.firstChild);
    while (feed.children.length > 200) feed.removeChild(feed.lastChild);
  };
  ws.onclose = function() { setTimeout(connectFeed, 3000); };
}
refreshEndpoints();
setInterval(refreshEndpoints, 5000);
connectFeed();
</script>
</body>
</html>`
