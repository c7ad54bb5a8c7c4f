package dispatcher

import (
	"bufio"
	"net"
)

// bufferedConn layers a bufio.Reader (already primed by a Peek) over a
// net.Conn so that bytes sniffed-but-not-consumed are still visible to
// whatever parser takes over next.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func newBufferedConn(c net.Conn) *bufferedConn {
	return &bufferedConn{Conn: c, r: bufio.NewReaderSize(c, 4096)}
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// Peek exposes the underlying reader's Peek so sniffing never consumes
// bytes ahead of a decision, per §4.1's "peek-and-decide, no byte consumed
// before decision".
func (b *bufferedConn) Peek(n int) ([]byte, error) { return b.r.Peek(n) }

func (b *bufferedConn) Reader() *bufio.Reader { return b.r }
