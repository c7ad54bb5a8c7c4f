package httpserver

import (
	"bytes"
	"io"
	"time"
)

// nowFunc is overridden in tests that need deterministic timestamps.
var nowFunc = time.Now

func newBytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
