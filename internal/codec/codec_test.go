package codec

import (
	"bytes"
	"testing"
)

func TestRoundTripRecognisedStacks(t *testing.T) {
	cases := [][]string{
		{"identity"},
		{"gzip"},
		{"br"},
		{"zstd"},
		{"deflate"},
		{"br", "identity", "gzip", "identity"},
	}
	payload := []byte("hello, this is a round-trip payload with some repetition repetition repetition")

	for _, stack := range cases {
		encoded, err := Encode(stack, payload)
		if err != nil {
			t.Fatalf("Encode(%v): %v", stack, err)
		}
		decoded, err := Decode(stack, encoded)
		if err != nil {
			t.Fatalf("Decode(%v): %v", stack, err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Errorf("stack %v: round trip mismatch: got %q want %q", stack, decoded, payload)
		}
	}
}

func TestUnknownCodecDoesNotCrash(t *testing.T) {
	_, err := Decode([]string{"zorp"}, []byte("data"))
	if err == nil {
		t.Fatal("expected error for unknown codec")
	}
	var unknown *ErrUnknownCodec
	if !asUnknown(err, &unknown) {
		t.Fatalf("expected ErrUnknownCodec, got %T: %v", err, err)
	}
}

func asUnknown(err error, target **ErrUnknownCodec) bool {
	if u, ok := err.(*ErrUnknownCodec); ok {
		*target = u
		return true
	}
	return false
}

func TestParseStack(t *testing.T) {
	got := ParseStack("br, identity, gzip, identity")
	want := []string{"br", "identity", "gzip", "identity"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestParseStackEmpty(t *testing.T) {
	if got := ParseStack(""); got != nil {
		t.Fatalf("expected nil for empty header, got %v", got)
	}
}
