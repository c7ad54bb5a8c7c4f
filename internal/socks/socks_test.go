package socks

import (
	"bufio"
	"bytes"
	"testing"
)

func TestHandshakeV4Connect(t *testing.T) {
	var in bytes.Buffer
	// VN=4 CD=1(connect) DSTPORT=0x1F90(8080) DSTIP=93.184.216.34 USERID="\0"
	in.Write([]byte{0x04, 0x01, 0x1F, 0x90, 93, 184, 216, 34, 0x00})

	rw := bufio.NewReadWriter(bufio.NewReader(&in), bufio.NewWriter(&bytes.Buffer{}))
	dest, err := Handshake(nil, rw, 0x04)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if dest.Host != "93.184.216.34" || dest.Port != 8080 {
		t.Fatalf("unexpected destination: %+v", dest)
	}
}

func TestHandshakeV4aHostname(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x04, 0x01, 0x00, 0x50}) // port 80
	in.Write([]byte{0, 0, 0, 1})             // invalid IP (v4a marker)
	in.Write([]byte{0x00})                   // empty userid
	in.WriteString("example.com")
	in.Write([]byte{0x00})

	rw := bufio.NewReadWriter(bufio.NewReader(&in), bufio.NewWriter(&bytes.Buffer{}))
	dest, err := Handshake(nil, rw, 0x04)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if dest.Host != "example.com" || dest.Port != 80 {
		t.Fatalf("unexpected destination: %+v", dest)
	}
}

func TestHandshakeV5ConnectDomainName(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x00})                  // VER, NMETHODS=1, NOAUTH
	in.Write([]byte{0x05, 0x01, 0x00, 0x03, 11})         // VER, CMD=connect, RSV, ATYP=domain, len=11
	in.WriteString("example.com")
	in.Write([]byte{0x01, 0xBB}) // port 443

	var out bytes.Buffer
	rw := bufio.NewReadWriter(bufio.NewReader(&in), bufio.NewWriter(&out))
	dest, err := Handshake(nil, rw, 0x05)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if dest.Host != "example.com" || dest.Port != 443 {
		t.Fatalf("unexpected destination: %+v", dest)
	}
}

func TestHandshakeV5RejectsBind(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x00})
	in.Write([]byte{0x05, 0x02, 0x00, 0x01}) // CMD=bind, ATYP=ipv4
	in.Write([]byte{1, 2, 3, 4})
	in.Write([]byte{0x00, 0x50})

	var out bytes.Buffer
	rw := bufio.NewReadWriter(bufio.NewReader(&in), bufio.NewWriter(&out))
	_, err := Handshake(nil, rw, 0x05)
	if err != ErrUnsupportedCommand {
		t.Fatalf("expected ErrUnsupportedCommand, got %v", err)
	}
}
