package model

import (
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"sync"
)

// BodySource is the sum type a step's response body can be built from:
// a fixed byte slice, a filesystem path (read fresh on every fire, per the
// thenFromFile decision in DESIGN.md), or a one-shot producer of chunks.
type BodySource struct {
	Bytes    []byte
	FilePath string
	Stream   func() ([]byte, error) // one-shot; must fail fast on reuse

	streamed bool
	mu       sync.Mutex
}

// ErrStreamReused is returned when a Stream BodySource is invoked more than
// once, matching the "stream step called more than once" 500 in §4.4.
var ErrStreamReused = fmt.Errorf("stream step called more than once")

// Resolve reads the body bytes per the source variant in use.
func (b *BodySource) Resolve(readFile func(path string) ([]byte, error)) ([]byte, error) {
	switch {
	case b.Stream != nil:
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.streamed {
			return nil, ErrStreamReused
		}
		b.streamed = true
		return b.Stream()
	case b.FilePath != "":
		return readFile(b.FilePath)
	default:
		return b.Bytes, nil
	}
}

// Body is a lazy, decode-on-demand view over raw bytes, matching the
// text/json/buffer/url-encoded-form/multipart-form views named in §3.
// Decode failures return (zero, false) rather than an error — callers treat
// an absent decode as "this view doesn't apply", not a fatal condition.
type Body struct {
	raw         []byte
	contentType string

	once   sync.Once
	jsonV  any
	jsonOK bool
}

// NewBody wraps raw bytes (already content-decoded off the wire, i.e. after
// any chunked transfer-encoding has been unwrapped; content-encoding
// decode/re-encode is handled separately by internal/codec).
func NewBody(raw []byte, contentType string) *Body {
	return &Body{raw: raw, contentType: contentType}
}

// Buffer returns the raw bytes.
func (b *Body) Buffer() []byte {
	if b == nil {
		return nil
	}
	return b.raw
}

// Text returns the body decoded as UTF-8 text. Always succeeds for any byte
// slice (Go strings are not required to be valid UTF-8), mirroring "text"
// being available whenever buffer is.
func (b *Body) Text() (string, bool) {
	if b == nil {
		return "", false
	}
	return string(b.raw), true
}

// JSON decodes the body as JSON, caching the result. Returns (nil, false) on
// a parse failure or empty body.
func (b *Body) JSON() (any, bool) {
	if b == nil || len(b.raw) == 0 {
		return nil, false
	}
	b.once.Do(func() {
		var v any
		if err := json.Unmarshal(b.raw, &v); err == nil {
			b.jsonV = v
			b.jsonOK = true
		}
	})
	return b.jsonV, b.jsonOK
}

// URLEncodedForm decodes the body as application/x-www-form-urlencoded.
func (b *Body) URLEncodedForm() (url.Values, bool) {
	if b == nil {
		return nil, false
	}
	vals, err := url.ParseQuery(string(b.raw))
	if err != nil {
		return nil, false
	}
	return vals, true
}

// MultipartForm decodes a multipart/form-data body using the Content-Type
// header's boundary parameter.
func (b *Body) MultipartForm() (*multipart.Form, bool) {
	if b == nil || b.contentType == "" {
		return nil, false
	}
	mediaType, params, err := mime.ParseMediaType(b.contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, false
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, false
	}
	reader := multipart.NewReader(strings.NewReader(string(b.raw)), boundary)
	form, err := reader.ReadForm(32 << 20)
	if err != nil {
		return nil, false
	}
	return form, true
}
