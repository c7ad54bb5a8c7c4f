package urlnorm

import "testing"

func TestNormaliseAuthorityStripsDefaultPort(t *testing.T) {
	if got := NormaliseAuthority("http", "Example.COM", 80); got != "example.com" {
		t.Fatalf("got %q", got)
	}
	if got := NormaliseAuthority("https", "example.com", 8443); got != "example.com:8443" {
		t.Fatalf("got %q", got)
	}
}

func TestNormaliseAuthorityTrimsTrailingDot(t *testing.T) {
	if got := NormaliseAuthority("http", "example.com.", 0); got != "example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalisePathEmptyGetsSlash(t *testing.T) {
	if got := NormalisePath(""); got != "/" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalisePathUppercasesPercentHex(t *testing.T) {
	if got := NormalisePath("/foo%2a"); got != "/foo%2A" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalisePathPreservesAlreadyEncoded(t *testing.T) {
	if got := NormalisePath("/foo%2A"); got != "/foo%2A" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalisePathMalformedEscapes(t *testing.T) {
	if got := NormalisePath("/%1"); got != "/%1" {
		t.Fatalf("got %q", got)
	}
	if got := NormalisePath("/%u002A"); got != "/%U002A" {
		t.Fatalf("got %q", got)
	}
}
