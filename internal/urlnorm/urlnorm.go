// Package urlnorm implements the URL normalisation rules used for matching
// (spec.md §6): lowercase scheme/authority, default-port stripping,
// trailing-dot trim, IDN to punycode, percent-encoding case normalisation,
// and malformed-percent-escape literal uppercasing.
package urlnorm

import (
	"strings"

	"golang.org/x/net/idna"
)

// NormaliseAuthority lowercases the host, trims a trailing dot, converts IDN
// labels to punycode, and strips the port if it is the scheme's default.
func NormaliseAuthority(scheme, host string, port int) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	if port == 0 || isDefaultPort(scheme, port) {
		return host
	}
	return host + ":" + itoa(port)
}

func isDefaultPort(scheme string, port int) bool {
	switch strings.ToLower(scheme) {
	case "http", "ws":
		return port == 80
	case "https", "wss":
		return port == 443
	}
	return false
}

// NormalisePath applies the path normalisation rules in §6: uppercase
// percent-encoded hex digits, leave non-encoded ASCII as-is, percent-encode
// bytes that must be encoded, preserve already-encoded characters literally
// (even when semantically equivalent), add a trailing slash to an empty
// path, and uppercase malformed percent escapes in place without rejecting
// them.
func NormalisePath(path string) string {
	if path == "" {
		return "/"
	}

	var b strings.Builder
	b.Grow(len(path))

	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '%':
			if i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]) {
				b.WriteByte('%')
				b.WriteByte(toUpperHex(path[i+1]))
				b.WriteByte(toUpperHex(path[i+2]))
				i += 2
				continue
			}
			// Malformed escape: uppercase whatever literal characters
			// follow, without consuming/rejecting them (e.g. "%1" -> "%1",
			// "%u002A" -> "%U002A").
			b.WriteByte('%')
			j := i + 1
			for j < len(path) && isEscapeContinuation(path[j]) {
				b.WriteByte(toUpperHex(path[j]))
				j++
			}
			i = j - 1
		case c == ' ':
			b.WriteString("%20")
		case c < 0x80:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(toUpperHex(hexDigit(c >> 4)))
			b.WriteByte(toUpperHex(hexDigit(c & 0x0f)))
		}
	}
	return b.String()
}

func isEscapeContinuation(c byte) bool {
	return isHex(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func toUpperHex(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
