package resolve

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestBuildQueryShape(t *testing.T) {
	raw, err := buildQuery("example.com", 0x1234)
	if err != nil {
		t.Fatalf("buildQuery: %v", err)
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if msg.Id != 0x1234 {
		t.Errorf("Id = 0x%04x, want 0x1234", msg.Id)
	}
	if len(msg.Question) != 1 || msg.Question[0].Qtype != dns.TypeA {
		t.Fatalf("unexpected question section: %+v", msg.Question)
	}
	if msg.Question[0].Name != "example.com." {
		t.Errorf("Name = %q", msg.Question[0].Name)
	}
}

func TestBuildQueryRejectsInvalidName(t *testing.T) {
	_, err := buildQuery("", 1)
	if err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestParseResponseExtractsFirstA(t *testing.T) {
	query := new(dns.Msg)
	query.Id = 42
	query.SetQuestion("example.com.", dns.TypeA)

	resp := new(dns.Msg)
	resp.SetReply(query)
	rr, err := dns.NewRR("example.com. 300 IN A 93.184.216.34")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	resp.Answer = append(resp.Answer, rr)

	raw, err := resp.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	ip, err := parseResponse(raw, 42)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if !ip.Equal(net.ParseIP("93.184.216.34")) {
		t.Errorf("got IP %v", ip)
	}
}

func TestParseResponseRejectsIDMismatch(t *testing.T) {
	query := new(dns.Msg)
	query.Id = 1
	query.SetQuestion("example.com.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(query)
	raw, _ := resp.Pack()

	_, err := parseResponse(raw, 2)
	if !errors.Is(err, ErrNoAnswer) {
		t.Fatalf("expected ErrNoAnswer on ID mismatch, got %v", err)
	}
}

func TestParseResponseRejectsNoAnswer(t *testing.T) {
	query := new(dns.Msg)
	query.Id = 7
	query.SetQuestion("nope.example.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.Rcode = dns.RcodeNameError
	raw, _ := resp.Pack()

	_, err := parseResponse(raw, 7)
	if !errors.Is(err, ErrNoAnswer) {
		t.Fatalf("expected ErrNoAnswer on NXDOMAIN, got %v", err)
	}
}

func TestResolveEndToEndOverLoopbackUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer pc.Close()

	go func() {
		buf := make([]byte, 512)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			return
		}
		resp := new(dns.Msg)
		resp.SetReply(req)
		rr, _ := dns.NewRR(req.Question[0].Name + " 60 IN A 203.0.113.9")
		resp.Answer = append(resp.Answer, rr)
		out, err := resp.Pack()
		if err != nil {
			return
		}
		pc.WriteTo(out, addr)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ip, err := Resolve(ctx, pc.LocalAddr().String(), "example.test")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ip.Equal(net.ParseIP("203.0.113.9")) {
		t.Errorf("got IP %v", ip)
	}
}

func TestResolveTimesOutWithNoServer(t *testing.T) {
	// An address nothing is listening on: the UDP write succeeds but no DNS reply ever arrives. On
	// loopback the kernel usually reports the closed port to the connected socket, so the read fails
	// with connection refused; otherwise the context deadline ends the call. Either way it must fail.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	addr := pc.LocalAddr().String()
	pc.Close() // Nothing will be listening on this address now.

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = Resolve(ctx, addr, "example.test")
	if err == nil {
		t.Fatal("expected an error")
	}
}
