// Package passthrough implements the upstream forwarding pipeline described
// in spec.md §4.5: destination/protocol/proxy-chaining decisions, transform
// application, and rule-event emission around a passthrough or forward-to
// step.
package passthrough

import "strings"

// MatchesNoProxy implements the no-proxy matching rule from §6: host[:port]
// is in the set iff, for some entry E, after stripping a leading "." or
// "*." and an optional ":port" suffix, the test host ends in E as a
// full-label suffix, and (if E specified a port) the ports are equal. IP
// literals are compared literally; no DNS resolution is performed.
func MatchesNoProxy(host string, port int, noProxy []string) bool {
	host = strings.ToLower(host)
	for _, entry := range noProxy {
		if entryMatches(host, port, entry) {
			return true
		}
	}
	return false
}

func entryMatches(host string, port int, entry string) bool {
	e := strings.ToLower(strings.TrimSpace(entry))
	e = strings.TrimPrefix(e, "*.")
	e = strings.TrimPrefix(e, ".")

	var entryPort string
	if idx := strings.LastIndex(e, ":"); idx >= 0 {
		e, entryPort = e[:idx], e[idx+1:]
	}

	if !hostEndsInLabelSuffix(host, e) {
		return false
	}
	if entryPort != "" {
		return entryPort == itoa(port)
	}
	return true
}

// hostEndsInLabelSuffix reports whether host ends in suffix as a full DNS
// label boundary (so "example.com" matches "subdomain.example.com" but not
// "notexample.com").
func hostEndsInLabelSuffix(host, suffix string) bool {
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
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
