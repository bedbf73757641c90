/*
Package session implements one proxy connection's life cycle end to end: method negotiation, the
CONNECT request, DNS resolution of domain-name targets, the outbound connect, and the bidirectional
relay that follows - exactly the phases the original per-connection state machine walks through, now
expressed as a single goroutine running straight through the phases instead of being re-entered by an
epoll callback on every readiness event.

A Session owns exactly one inbound pollable.FD and, once CONNECT succeeds, exactly one outbound
pollable.FD. Both are torn down together when the session ends, regardless of which phase it ended in
- there is no partial session state left behind for a reaper to clean up piecemeal, only a session that
is either running or gone.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/markdingo/trustysocks5/internal/bufpool"
	"github.com/markdingo/trustysocks5/internal/pollable"
	"github.com/markdingo/trustysocks5/internal/proxylog"
	"github.com/markdingo/trustysocks5/internal/resolve"
	"github.com/markdingo/trustysocks5/internal/socks5"
)

var (
	// ErrIoFailed marks a read or write that failed for a reason other than cancellation or peer
	// close - a real transport error.
	ErrIoFailed = errors.New("session: io failed")

	// ErrPoolExhausted marks a session that could not obtain a relay buffer because the pool had
	// already issued its maximum count elsewhere.
	ErrPoolExhausted = errors.New("session: buffer pool exhausted")

	// ErrProtocolViolation marks a session that received a frame that does not conform to the
	// subset of RFC1928 this proxy implements.
	ErrProtocolViolation = errors.New("session: protocol violation")

	// ErrPeerClosed marks a session ended by the client or the target closing its side first.
	ErrPeerClosed = errors.New("session: peer closed")

	// ErrCancelled marks a session torn down by its context being cancelled, typically server
	// shutdown.
	ErrCancelled = errors.New("session: cancelled")

	// ErrTimeout names the idle-reaper eviction case. Run does not return it: a session closed by
	// the reaper ends as if its peer had closed (ErrPeerClosed, or nil once relaying).
	ErrTimeout = errors.New("session: idle timeout")
)

// Config bundles everything a Session needs beyond the accepted connection itself.
type Config struct {
	Pool      *bufpool.Pool
	DNSServer string
	Log       *proxylog.Logger

	// ConnectTimeout bounds the outbound TCP connect. ResolveTimeout bounds DNS resolution.
	ConnectTimeout time.Duration
	ResolveTimeout time.Duration
}

// Session drives one accepted connection through handshake, resolve, connect and relay.
type Session struct {
	id  uint64
	cfg Config

	client *pollable.FD
	target *pollable.FD

	idle int32 // Accessed atomically; see SetIdle/IsIdle.

	upBytes   int64
	downBytes int64
}

// New wraps an accepted client connection into a Session identified by id.
func New(id uint64, conn net.Conn, cfg Config) *Session {
	return &Session{
		id:     id,
		cfg:    cfg,
		client: pollable.New(conn),
	}
}

// ID returns this session's identifier, used as its key in the server's session registry.
func (s *Session) ID() uint64 {
	return s.id
}

// IsIdle reports whether this session has survived one full reaper tick without I/O progress.
func (s *Session) IsIdle() bool {
	return atomic.LoadInt32(&s.idle) != 0
}

// SetIdle sets or clears the idle flag. The reaper sets it on a tick where the session made no
// progress and clears it (via touch, called from the I/O path) the moment the session does something.
func (s *Session) SetIdle(v bool) {
	if v {
		atomic.StoreInt32(&s.idle, 1)
	} else {
		atomic.StoreInt32(&s.idle, 0)
	}
}

func (s *Session) touch() {
	s.SetIdle(false)
}

// Close tears down both sides of the session. Safe to call more than once and from a goroutine other
// than the one running Run, which is exactly how the idle reaper uses it.
func (s *Session) Close() error {
	var err error
	if s.client != nil {
		err = s.client.Close()
	}
	if s.target != nil {
		if terr := s.target.Close(); err == nil {
			err = terr
		}
	}
	return err
}

// Run drives the session through its full life cycle and blocks until it ends, either because the
// relay finished, an error occurred, or ctx was cancelled. The returned error is always one of this
// package's sentinel errors (wrapped with detail), or nil if both directions of the relay ended
// cleanly.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	s.cfg.Log.Accept(s.id, s.client.Conn().RemoteAddr().String())
	s.touch()

	if err := s.handshakeAuth(ctx); err != nil {
		s.cfg.Log.Error(s.id, err)
		return err
	}

	req, err := s.readRequest(ctx)
	if err != nil {
		s.cfg.Log.Error(s.id, err)
		return err
	}

	if req.Cmd != socks5.CmdConnect {
		s.replyAndClose(ctx, socks5.RepCmdNotSupported, req.Addr)
		err := fmt.Errorf("%w: unsupported command 0x%02x", ErrProtocolViolation, req.Cmd)
		s.cfg.Log.Error(s.id, err)
		return err
	}

	target, rep, err := s.resolveTarget(ctx, req.Addr)
	if err != nil {
		s.replyAndClose(ctx, rep, req.Addr)
		s.cfg.Log.Error(s.id, err)
		return err
	}

	conn, rep, err := s.connect(ctx, target)
	if err != nil {
		s.replyAndClose(ctx, rep, req.Addr)
		s.cfg.Log.Error(s.id, err)
		return err
	}
	s.target = pollable.New(conn)

	localAddr, _ := conn.LocalAddr().(*net.TCPAddr)
	bound := socks5.Addr{Atype: socks5.AtypeIPv4, IP: net.IPv4zero, Port: 0}
	if localAddr != nil {
		if ip4 := localAddr.IP.To4(); ip4 != nil {
			bound = socks5.Addr{Atype: socks5.AtypeIPv4, IP: ip4, Port: uint16(localAddr.Port)}
		}
	}
	if err := s.writeResponse(ctx, socks5.RepSuccess, bound); err != nil {
		s.cfg.Log.Error(s.id, err)
		return err
	}

	s.touch()
	s.cfg.Log.RelayStart(s.id)
	err = s.relay(ctx)
	s.cfg.Log.RelayStop(s.id, atomic.LoadInt64(&s.upBytes), atomic.LoadInt64(&s.downBytes))
	if err != nil && !errors.Is(err, ErrPeerClosed) {
		s.cfg.Log.Error(s.id, err)
	}
	return err
}

// handshakeAuth reads the client's method negotiation and selects no-authentication, the only
// method this proxy implements, whenever it is among the offered methods; otherwise it replies
// MethodNoAcceptable and the connection is closed.
func (s *Session) handshakeAuth(ctx context.Context) error {
	frame, err := readFrame(ctx, s.client, socks5.UnpackAuthRequest)
	if err != nil {
		return err
	}

	offered := false
	for _, m := range frame.Methods {
		if m == socks5.MethodNoAuth {
			offered = true
			break
		}
	}

	method := socks5.MethodNoAcceptable
	if offered {
		method = socks5.MethodNoAuth
	}

	s.cfg.Log.Handshake(s.id, fmt.Sprintf("auth method=0x%02x", method))

	if _, err := s.writeFrame(ctx, s.client, socks5.PackAuthResponse(socks5.AuthResponse{Method: method})); err != nil {
		return err
	}
	if !offered {
		return fmt.Errorf("%w: client offered no acceptable auth method", ErrProtocolViolation)
	}
	return nil
}

func (s *Session) readRequest(ctx context.Context) (socks5.Request, error) {
	req, err := readFrame(ctx, s.client, socks5.UnpackRequest)
	if err != nil {
		return socks5.Request{}, err
	}
	s.cfg.Log.Handshake(s.id, fmt.Sprintf("request cmd=0x%02x atype=0x%02x", req.Cmd, req.Addr.Atype))
	return req, nil
}

// resolveTarget turns a request address into a host:port string ready for net.Dial, resolving a
// domain name via the configured DNS server if necessary. The returned REP code is only meaningful
// when err is non-nil.
func (s *Session) resolveTarget(ctx context.Context, addr socks5.Addr) (string, byte, error) {
	switch addr.Atype {
	case socks5.AtypeIPv4:
		return net.JoinHostPort(addr.IP.String(), strconv.Itoa(int(addr.Port))), socks5.RepSuccess, nil

	case socks5.AtypeIPv6:
		return "", socks5.RepAtypeNotSupported,
			fmt.Errorf("%w: IPv6 destination addresses are not supported", ErrProtocolViolation)

	case socks5.AtypeDomain:
		// A DOMAIN that is itself an IPv4 literal (e.g. "127.0.0.1") proceeds straight to CONNECT -
		// no DNS query is issued for it.
		if ip := net.ParseIP(addr.Domain); ip != nil {
			if ip4 := ip.To4(); ip4 != nil {
				return net.JoinHostPort(ip4.String(), strconv.Itoa(int(addr.Port))), socks5.RepSuccess, nil
			}
		}

		rctx := ctx
		var cancel context.CancelFunc
		if s.cfg.ResolveTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, s.cfg.ResolveTimeout)
			defer cancel()
		}
		ip, err := resolve.Resolve(rctx, s.cfg.DNSServer, addr.Domain)
		s.cfg.Log.Resolve(s.id, addr.Domain, err)
		if err != nil {
			return "", socks5.RepHostUnreach, fmt.Errorf("%w: resolving %q: %v", ErrIoFailed, addr.Domain, err)
		}
		return net.JoinHostPort(ip.String(), strconv.Itoa(int(addr.Port))), socks5.RepSuccess, nil

	default:
		return "", socks5.RepAtypeNotSupported,
			fmt.Errorf("%w: unknown address type 0x%02x", ErrProtocolViolation, addr.Atype)
	}
}

// connect dials target, mapping the resulting error onto the SOCKS5 REP code that best describes it -
// the original's equivalent of translating an async connect's errno into a reply code.
func (s *Session) connect(ctx context.Context, target string) (net.Conn, byte, error) {
	cctx := ctx
	var cancel context.CancelFunc
	if s.cfg.ConnectTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := pollable.ConnectAsync(cctx, "tcp", target)
	s.cfg.Log.Connect(s.id, target, err)
	if err != nil {
		return nil, connectErrorToRep(err), fmt.Errorf("%w: connecting to %s: %v", ErrIoFailed, target, err)
	}
	return conn, socks5.RepSuccess, nil
}

func connectErrorToRep(err error) byte {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return socks5.RepTTLExpired
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks5.RepConnectRefused
	case errors.Is(err, syscall.EHOSTUNREACH):
		return socks5.RepHostUnreach
	case errors.Is(err, syscall.ENETUNREACH):
		return socks5.RepNetworkUnreach
	default:
		return socks5.RepGeneralFailure
	}
}

func (s *Session) replyAndClose(ctx context.Context, rep byte, addr socks5.Addr) {
	s.writeResponse(ctx, rep, addr)
}

func (s *Session) writeResponse(ctx context.Context, rep byte, addr socks5.Addr) error {
	buf, err := socks5.PackResponse(socks5.Response{Rep: rep, Addr: addr})
	if err != nil {
		return fmt.Errorf("%w: encoding response: %v", ErrProtocolViolation, err)
	}
	_, err = s.writeFrame(ctx, s.client, buf)
	return err
}

// relay pumps bytes in both directions until either side closes or errors, using one buffer per
// direction drawn from the shared pool - mirroring the original's one-buffer-per-direction-per-session
// budget enforced by the fixed-capacity allocator.
func (s *Session) relay(ctx context.Context) error {
	errCh := make(chan error, 2)

	pump := func(dst, src *pollable.FD, counter *int64) {
		buf, err := s.cfg.Pool.Alloc()
		if err != nil {
			errCh <- fmt.Errorf("%w: %v", ErrPoolExhausted, err)
			return
		}
		defer s.cfg.Pool.Release(buf)

		data := buf.Data()
		for {
			n, err := src.Read(ctx, data)
			if n > 0 {
				s.touch()
				atomic.AddInt64(counter, int64(n))
				if _, werr := dst.Write(ctx, data[:n]); werr != nil {
					errCh <- classifyIOError(werr)
					return
				}
				s.touch()
			}
			if err != nil {
				errCh <- classifyIOError(err)
				return
			}
		}
	}

	go pump(s.target, s.client, &s.upBytes)
	go pump(s.client, s.target, &s.downBytes)

	err1 := <-errCh
	s.Close() // Unblock whichever pump is still running so the second error arrives promptly.
	err2 := <-errCh

	for _, err := range []error{err1, err2} {
		if err != nil && !errors.Is(err, ErrPeerClosed) {
			return err
		}
	}
	return nil
}

func classifyIOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return ErrPeerClosed
	}
	if errors.Is(err, pollable.ErrCancelled) {
		return ErrCancelled
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrPeerClosed
	}
	return fmt.Errorf("%w: %v", ErrIoFailed, err)
}

// writeFrame writes buf to fd in full, looping over partial writes exactly as the original's
// send-loop does for a non-blocking socket.
func (s *Session) writeFrame(ctx context.Context, fd *pollable.FD, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := fd.Write(ctx, buf[total:])
		total += n
		if err != nil {
			return total, classifyIOError(err)
		}
	}
	return total, nil
}

// maxHandshakeFrame bounds the accumulation buffer used by readFrame. RFC1928 handshake frames are
// small and bounded - a method list capped at 255 entries, a request capped by a 255-byte domain name
// - so a generously sized fixed buffer avoids any need to draw from the shared relay buffer pool on
// this path.
const maxHandshakeFrame = 512

// readFrame accumulates bytes from fd into a local buffer until unpack reports a complete frame,
// growing the read window as needed up to maxHandshakeFrame.
func readFrame[T any](ctx context.Context, fd *pollable.FD, unpack func([]byte) (T, int, error)) (T, error) {
	buf := make([]byte, maxHandshakeFrame)
	filled := 0

	for {
		frame, _, err := unpack(buf[:filled])
		if err == nil {
			return frame, nil
		}
		if !socks5.NeedMore(err) {
			var zero T
			return zero, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if filled >= len(buf) {
			var zero T
			return zero, fmt.Errorf("%w: handshake frame exceeds maximum size", ErrProtocolViolation)
		}

		n, rerr := fd.Read(ctx, buf[filled:])
		filled += n
		if rerr != nil {
			var zero T
			return zero, classifyIOError(rerr)
		}
	}
}
