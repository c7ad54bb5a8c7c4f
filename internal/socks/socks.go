// Package socks implements the SOCKS4/4a/5/5h server handshake described in
// spec.md §4.6: CONNECT-only, NOAUTH for v5, handing the unwrapped
// connection back to the dispatcher with the negotiated destination as the
// default authority.
package socks

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Destination is the negotiated target host+port handed back to the
// dispatcher as the connection's default authority.
type Destination struct {
	Host string
	Port int
}

// ErrUnsupportedCommand is returned when the client requests BIND or UDP
// ASSOCIATE instead of CONNECT.
var ErrUnsupportedCommand = fmt.Errorf("socks: only the CONNECT command is supported")

const (
	socks4Version = 0x04
	socks5Version = 0x05

	cmdConnect = 0x01
	cmdBind    = 0x02
	cmdUDP     = 0x03

	socks4Granted       = 0x5a
	socks4Rejected      = 0x5b
	socks5Succeeded     = 0x00
	socks5CmdNotSupport = 0x07
)

// Handshake takes the version byte the caller already peeked (per
// §4.1's "look at the first byte: 0x04 => SOCKSv4/4a, 0x05 => SOCKSv5") and
// runs the appropriate handshake, returning the negotiated destination.
// The reader/writer are expected to be buffered around the same net.Conn so
// no bytes are lost between the sniff and the handshake.
func Handshake(conn net.Conn, rw *bufio.ReadWriter, firstByte byte) (*Destination, error) {
	switch firstByte {
	case socks4Version:
		return handshakeV4(rw)
	case socks5Version:
		return handshakeV5(rw)
	default:
		return nil, fmt.Errorf("socks: unrecognised version byte 0x%02x", firstByte)
	}
}

// handshakeV4 implements SOCKSv4 and v4a (distinguished by the "invalid IP
// with non-zero last octet, then a domain name" convention).
func handshakeV4(rw *bufio.ReadWriter) (*Destination, error) {
	// The caller's sniff only peeked the version byte, so the reader is
	// still positioned at byte 0 and the 8-byte header includes it.
	header := make([]byte, 8)
	if _, err := io.ReadFull(rw, header); err != nil {
		return nil, fmt.Errorf("socks4: reading request header: %w", err)
	}
	cmd := header[1]
	port := int(binary.BigEndian.Uint16(header[2:4]))
	ip := net.IP(header[4:8])

	// USERID, null-terminated.
	if err := skipNullTerminated(rw); err != nil {
		return nil, fmt.Errorf("socks4: reading userid: %w", err)
	}

	var host string
	if isSocks4aInvalidIP(ip) {
		// v4a: hostname follows, null-terminated.
		name, err := readNullTerminated(rw)
		if err != nil {
			return nil, fmt.Errorf("socks4a: reading hostname: %w", err)
		}
		host = name
	} else {
		host = ip.String()
	}

	if cmd != cmdConnect {
		writeV4Reply(rw, socks4Rejected)
		return nil, ErrUnsupportedCommand
	}

	writeV4Reply(rw, socks4Granted)
	return &Destination{Host: host, Port: port}, nil
}

func isSocks4aInvalidIP(ip net.IP) bool {
	return ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0
}

func writeV4Reply(rw *bufio.ReadWriter, status byte) {
	reply := []byte{0x00, status, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	rw.Write(reply)
	rw.Flush()
}

func skipNullTerminated(r io.Reader) error {
	_, err := readNullTerminated(r)
	return err
}

func readNullTerminated(r io.Reader) (string, error) {
	var buf []byte
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return "", err
		}
		if one[0] == 0 {
			break
		}
		buf = append(buf, one[0])
	}
	return string(buf), nil
}

// handshakeV5 implements SOCKSv5 and v5h (the wire protocol is identical;
// v5h is just the client sending ATYP=domain-name instead of resolving
// locally, same as v4a for v4). NOAUTH is the only method advertised.
func handshakeV5(rw *bufio.ReadWriter) (*Destination, error) {
	versionBuf := make([]byte, 1)
	if _, err := io.ReadFull(rw, versionBuf); err != nil {
		return nil, fmt.Errorf("socks5: reading version: %w", err)
	}
	nMethodsBuf := make([]byte, 1)
	if _, err := io.ReadFull(rw, nMethodsBuf); err != nil {
		return nil, fmt.Errorf("socks5: reading method count: %w", err)
	}
	methods := make([]byte, nMethodsBuf[0])
	if _, err := io.ReadFull(rw, methods); err != nil {
		return nil, fmt.Errorf("socks5: reading methods: %w", err)
	}

	// Select NOAUTH (0x00) unconditionally.
	rw.Write([]byte{socks5Version, 0x00})
	rw.Flush()

	reqHeader := make([]byte, 4)
	if _, err := io.ReadFull(rw, reqHeader); err != nil {
		return nil, fmt.Errorf("socks5: reading request header: %w", err)
	}
	cmd := reqHeader[1]
	atyp := reqHeader[3]

	host, err := readSocks5Address(rw, atyp)
	if err != nil {
		return nil, fmt.Errorf("socks5: reading address: %w", err)
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(rw, portBuf); err != nil {
		return nil, fmt.Errorf("socks5: reading port: %w", err)
	}
	port := int(binary.BigEndian.Uint16(portBuf))

	if cmd != cmdConnect {
		writeV5Reply(rw, socks5CmdNotSupport)
		return nil, ErrUnsupportedCommand
	}

	writeV5Reply(rw, socks5Succeeded)
	return &Destination{Host: host, Port: port}, nil
}

func readSocks5Address(r io.Reader, atyp byte) (string, error) {
	switch atyp {
	case 0x01: // IPv4
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return net.IP(buf).String(), nil
	case 0x03: // domain name
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return "", err
		}
		buf := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	case 0x04: // IPv6
		buf := make([]byte, 16)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return net.IP(buf).String(), nil
	default:
		return "", fmt.Errorf("unsupported address type 0x%02x", atyp)
	}
}

func writeV5Reply(rw *bufio.ReadWriter, status byte) {
	reply := []byte{socks5Version, status, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	rw.Write(reply)
	rw.Flush()
}
