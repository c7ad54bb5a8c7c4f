// Package codec implements the content-encoding stack described in
// spec.md §3 and §9: a comma-separated list of codecs applied in sequence,
// decoded right-to-left and re-encoded left-to-right, with "identity" acting
// as a no-op layer and unrecognised codec names leaving the body undecoded
// (but never panicking).
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownCodec is returned by Decode/Encode when the stack names a codec
// this implementation does not recognise.
type ErrUnknownCodec struct{ Name string }

func (e *ErrUnknownCodec) Error() string {
	return fmt.Sprintf("codec: unrecognised content-encoding %q", e.Name)
}

// ParseStack splits a Content-Encoding header value such as "br, identity,
// gzip, identity" into its ordered layer names.
func ParseStack(headerValue string) []string {
	if strings.TrimSpace(headerValue) == "" {
		return nil
	}
	parts := strings.Split(headerValue, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(p)))
	}
	return out
}

// Decode applies the stack's layers right-to-left (the order they were
// applied on encode), returning the fully decoded payload. On an unknown
// codec name, it returns ErrUnknownCodec and the partially-decoded bytes up
// to that point are not returned — callers treat this as "body undecoded".
func Decode(stack []string, data []byte) ([]byte, error) {
	cur := data
	for i := len(stack) - 1; i >= 0; i-- {
		out, err := decodeOne(stack[i], cur)
		if err != nil {
			return nil, err
		}
		cur = out
	}
	return cur, nil
}

// Encode applies the stack's layers left-to-right.
func Encode(stack []string, data []byte) ([]byte, error) {
	cur := data
	for _, name := range stack {
		out, err := encodeOne(name, cur)
		if err != nil {
			return nil, err
		}
		cur = out
	}
	return cur, nil
}

func decodeOne(name string, data []byte) ([]byte, error) {
	switch name {
	case "identity", "":
		return data, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: gzip decode: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		// "deflate" over HTTP is conventionally zlib-wrapped; flate.NewReader
		// on raw deflate bytes also works for the common no-zlib-header case
		// many servers actually send, so try zlib first then fall back.
		if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			out, err := io.ReadAll(zr)
			zr.Close()
			if err == nil {
				return out, nil
			}
		}
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("codec: deflate decode: %w", err)
		}
		return out, nil
	case "raw-deflate", "deflate-raw":
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		r := brotli.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decode: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, &ErrUnknownCodec{Name: name}
	}
}

func encodeOne(name string, data []byte) ([]byte, error) {
	switch name {
	case "identity", "":
		return data, nil
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "deflate", "raw-deflate", "deflate-raw":
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "br":
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		w, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer w.Close()
		return w.EncodeAll(data, nil), nil
	default:
		return nil, &ErrUnknownCodec{Name: name}
	}
}
