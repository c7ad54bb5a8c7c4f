package wsproxy

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader negotiates the websocket handshake. CheckOrigin always accepts:
// this is a test double / interception tool, not a browser-facing service,
// so origin checking would only get in the way of the clients using it.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hijackedResponseWriter adapts a connection the dispatcher has already
// handed us (bypassing net/http's own accept loop) to the http.ResponseWriter
// + http.Hijacker pair gorilla/websocket's Upgrader expects.
type hijackedResponseWriter struct {
	header http.Header
	conn   net.Conn
	br     *bufio.Reader
}

func (w *hijackedResponseWriter) Header() http.Header         { return w.header }
func (w *hijackedResponseWriter) Write(b []byte) (int, error) { return w.conn.Write(b) }
func (w *hijackedResponseWriter) WriteHeader(int)              {}

func (w *hijackedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(w.br, bufio.NewWriter(w.conn))
	return w.conn, rw, nil
}

// upgrade performs the HTTP → WebSocket handshake over an already-accepted
// connection.
func upgrade(conn net.Conn, br *bufio.Reader, r *http.Request, responseHeader http.Header) (*websocket.Conn, error) {
	w := &hijackedResponseWriter{header: make(http.Header), conn: conn, br: br}
	return upgrader.Upgrade(w, r, responseHeader)
}

// writeRejection responds to a websocket upgrade request with a plain HTTP
// error instead of completing the handshake (the rejectStep / no-match
// path), then closes conn: there is no further keep-alive use for a
// connection that asked for an upgrade and didn't get one.
func writeRejection(conn net.Conn, statusCode int) {
	status := http.StatusText(statusCode)
	if status == "" {
		status = "Rejected"
	}
	resp := &http.Response{
		StatusCode:    statusCode,
		Status:        status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		ContentLength: 0,
		Header:        http.Header{"Connection": []string{"close"}},
	}
	resp.Write(conn)
	conn.Close()
}
