package passthrough

import "testing"

func TestMatchesNoProxySubdomainSuffix(t *testing.T) {
	if !MatchesNoProxy("subdomain.example.com", 80, []string{"example.com"}) {
		t.Fatal("expected subdomain match")
	}
}

func TestMatchesNoProxyNoDNSResolution(t *testing.T) {
	if MatchesNoProxy("localhost", 80, []string{"127.0.0.1"}) {
		t.Fatal("expected no match: localhost should not resolve to 127.0.0.1 for this check")
	}
}

func TestMatchesNoProxyPortMustMatchWhenSpecified(t *testing.T) {
	if MatchesNoProxy("example.com", 8080, []string{"example.com:80"}) {
		t.Fatal("expected port mismatch to exclude the host")
	}
	if !MatchesNoProxy("example.com", 80, []string{"example.com:80"}) {
		t.Fatal("expected matching port to include the host")
	}
}

func TestMatchesNoProxyWildcardPrefix(t *testing.T) {
	if !MatchesNoProxy("api.internal.example.com", 443, []string{"*.example.com"}) {
		t.Fatal("expected wildcard entry to match")
	}
}

func TestMatchesNoProxyRejectsNonLabelSuffix(t *testing.T) {
	if MatchesNoProxy("notexample.com", 80, []string{"example.com"}) {
		t.Fatal("expected non-label suffix to be rejected")
	}
}
