package passthrough

import "github.com/httpmock/interceptor/internal/rules"

// ResolveProxy walks a ProxyConfig's Fixed/Callback/List tree and returns
// the first non-undefined proxy server to use for hostname:port,
// implementing §4.5 step 3: "evaluated left-to-right, first non-undefined
// wins, remaining entries skipped". At every level (including nested List
// entries, each of which may carry its own NoProxy), a NoProxy match
// short-circuits that level straight to direct connection (nil, false)
// without consulting its Fixed/Callback/List.
func ResolveProxy(cfg rules.ProxyConfig, hostname string, port int) (*rules.ProxyServer, bool) {
	if MatchesNoProxy(hostname, port, cfg.NoProxy) {
		return nil, false
	}
	if cfg.Fixed != nil {
		return cfg.Fixed, true
	}
	if cfg.Callback != nil {
		if server, ok := cfg.Callback(hostname); ok {
			return server, true
		}
	}
	for _, entry := range cfg.List {
		if server, ok := ResolveProxy(entry, hostname, port); ok {
			return server, true
		}
	}
	return nil, false
}
