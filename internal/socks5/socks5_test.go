package socks5

import (
	"errors"
	"net"
	"testing"
)

func TestAuthRequestRoundTrip(t *testing.T) {
	want := AuthRequest{Methods: []byte{MethodNoAuth, 0x01, 0x02}}
	buf := PackAuthRequest(want)

	got, n, err := UnpackAuthRequest(buf)
	if err != nil {
		t.Fatalf("UnpackAuthRequest: %v", err)
	}
	if n != len(buf) {
		t.Errorf("Expected to consume %d bytes, consumed %d", len(buf), n)
	}
	if string(got.Methods) != string(want.Methods) {
		t.Errorf("Methods mismatch: got %v want %v", got.Methods, want.Methods)
	}
}

func TestAuthRequestNeedsMore(t *testing.T) {
	full := PackAuthRequest(AuthRequest{Methods: []byte{0x00, 0x01}})
	for i := 0; i < len(full); i++ {
		_, _, err := UnpackAuthRequest(full[:i])
		if !NeedMore(err) {
			t.Fatalf("prefix length %d: expected NeedMore, got %v", i, err)
		}
	}
}

func TestAuthResponseRoundTrip(t *testing.T) {
	buf := PackAuthResponse(AuthResponse{Method: MethodNoAuth})
	got, n, err := UnpackAuthResponse(buf)
	if err != nil {
		t.Fatalf("UnpackAuthResponse: %v", err)
	}
	if n != 2 || got.Method != MethodNoAuth {
		t.Errorf("got %+v n=%d", got, n)
	}
}

func TestRequestRoundTripIPv4(t *testing.T) {
	want := Request{
		Cmd: CmdConnect,
		Addr: Addr{
			Atype: AtypeIPv4,
			IP:    net.IPv4(93, 184, 216, 34),
			Port:  80,
		},
	}
	buf, err := PackRequest(want)
	if err != nil {
		t.Fatalf("PackRequest: %v", err)
	}
	got, n, err := UnpackRequest(buf)
	if err != nil {
		t.Fatalf("UnpackRequest: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d want %d", n, len(buf))
	}
	if got.Cmd != want.Cmd || !got.Addr.IP.Equal(want.Addr.IP) || got.Addr.Port != want.Addr.Port {
		t.Errorf("got %+v want %+v", got, want)
	}
}

func TestRequestRoundTripDomain(t *testing.T) {
	want := Request{
		Cmd: CmdConnect,
		Addr: Addr{
			Atype:  AtypeDomain,
			Domain: "example.com",
			Port:   443,
		},
	}
	buf, err := PackRequest(want)
	if err != nil {
		t.Fatalf("PackRequest: %v", err)
	}
	got, n, err := UnpackRequest(buf)
	if err != nil {
		t.Fatalf("UnpackRequest: %v", err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d want %d", n, len(buf))
	}
	if got.Addr.Domain != want.Addr.Domain || got.Addr.Port != want.Addr.Port {
		t.Errorf("got %+v want %+v", got, want)
	}
}

func TestRequestNeedMorePrefixProperty(t *testing.T) {
	full, err := PackRequest(Request{
		Cmd:  CmdConnect,
		Addr: Addr{Atype: AtypeDomain, Domain: "example.org", Port: 22},
	})
	if err != nil {
		t.Fatalf("PackRequest: %v", err)
	}
	for i := 0; i < len(full); i++ {
		_, _, err := UnpackRequest(full[:i])
		if !NeedMore(err) {
			t.Fatalf("prefix length %d: expected NeedMore, got %v", i, err)
		}
	}
	// Full buffer must parse with no trailing need.
	_, n, err := UnpackRequest(full)
	if err != nil {
		t.Fatalf("full buffer: %v", err)
	}
	if n != len(full) {
		t.Errorf("expected to consume all %d bytes, consumed %d", len(full), n)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	want := Response{
		Rep: RepSuccess,
		Addr: Addr{
			Atype: AtypeIPv4,
			IP:    net.IPv4(10, 0, 0, 1),
			Port:  1080,
		},
	}
	buf, err := PackResponse(want)
	if err != nil {
		t.Fatalf("PackResponse: %v", err)
	}
	got, n, err := UnpackResponse(buf)
	if err != nil {
		t.Fatalf("UnpackResponse: %v", err)
	}
	if n != len(buf) || got.Rep != want.Rep || !got.Addr.IP.Equal(want.Addr.IP) {
		t.Errorf("got %+v n=%d", got, n)
	}
}

func TestUnpackRequestBadVersion(t *testing.T) {
	buf := []byte{0x04, CmdConnect, 0x00, AtypeIPv4, 1, 2, 3, 4, 0, 80}
	_, _, err := UnpackRequest(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", err)
	}
}

func TestUnpackAddrUnknownAtype(t *testing.T) {
	buf := []byte{0x05, CmdConnect, 0x00, 0x7F, 0, 80}
	_, _, err := UnpackRequest(buf)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol for unknown ATYPE, got %v", err)
	}
}

func TestPackAddrDomainTooLong(t *testing.T) {
	longDomain := make([]byte, 256)
	for i := range longDomain {
		longDomain[i] = 'a'
	}
	_, err := PackRequest(Request{
		Cmd:  CmdConnect,
		Addr: Addr{Atype: AtypeDomain, Domain: string(longDomain), Port: 80},
	})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol for oversized domain, got %v", err)
	}
}
