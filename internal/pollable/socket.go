package pollable

import (
	"context"
	"net"

	"golang.org/x/sys/unix"
)

// ListenTCP opens a TCP listener with SO_REUSEADDR set explicitly (Go's default net.Listen does not
// guarantee this on every platform) and backlog left to the kernel default, matching the original's
// bind/listen sequence of reuseaddr-then-bind-then-listen.
func ListenTCP(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c interface {
			Control(func(fd uintptr)) error
		}) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	return lc.Listen(ctx, "tcp", address)
}

// AcceptAsync accepts a single connection from ln, honouring ctx cancellation by closing the
// listener's accept goroutine down cleanly when the context is done before a connection arrives.
// Go's net.Listener has no native context support, so a watcher goroutine races ctx.Done() against
// Accept() and closes the listener if cancellation wins - callers that need to keep accepting after
// a successful call must construct a fresh AcceptAsync call, exactly as the original's
// accept-then-immediately-re-issue-accept_async pattern does.
func AcceptAsync(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		ln.Close() // Unblock the pending Accept so its goroutine exits
		return nil, ctx.Err()
	}
}

// ConnectAsync dials a TCP destination, treating ctx cancellation/deadline the way the original
// treats EINPROGRESS on a non-blocking connect: the call simply returns once the connection completes
// or the context expires, courtesy of net.Dialer's native context support.
func ConnectAsync(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}
