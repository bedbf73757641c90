/*
Package proxyserver drives the proxy's listen/accept/idle-reap life cycle: the single-threaded
readiness loop of the original server re-expressed as a goroutine-per-session accept loop plus an
independent ticking reaper goroutine, exactly the way the per-session "read, handle, go back to
waiting" callback model translates into blocking goroutines under the Go runtime scheduler.

A Server owns the shared bufpool.Pool, the listener, and the registry of currently running sessions.
It implements reporter.Reporter itself, aggregating the teacher-derived sessionTracker and
concurrencytracker.Counter it carries internally, the same way cmd/trustydns-server's own reporter
aggregates connectiontracker and concurrencytracker.
*/
package proxyserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/markdingo/trustysocks5/internal/bufpool"
	"github.com/markdingo/trustysocks5/internal/concurrencytracker"
	"github.com/markdingo/trustysocks5/internal/pollable"
	"github.com/markdingo/trustysocks5/internal/proxylog"
	"github.com/markdingo/trustysocks5/internal/session"
)

// Config controls a Server's listener and session defaults.
type Config struct {
	ListenAddress string
	DNSServer     string

	BufferSize     int
	BufferMaxCount int
	MaxSessions    int // 0 means unlimited; enforced via netutil.LimitListener
	IdleReapEvery  time.Duration
	ConnectTimeout time.Duration
	ResolveTimeout time.Duration

	Log *proxylog.Logger
}

// Server accepts SOCKS5 connections on a single listen address and drives each one through a
// session.Session for its lifetime.
type Server struct {
	cfg  Config
	pool *bufpool.Pool

	ln net.Listener

	mu       sync.Mutex
	sessions map[uint64]*session.Session
	nextID   uint64

	tracker     *sessionTracker
	concurrency concurrencytracker.Counter

	wg sync.WaitGroup
}

// New constructs a Server. Start must be called before Serve.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		pool:     bufpool.New(cfg.BufferSize, cfg.BufferMaxCount),
		sessions: make(map[uint64]*session.Session),
		tracker:  newSessionTracker("Sessions"),
	}
}

// Start opens the listen socket. It is separated from Serve so callers (and tests) can observe the
// bound address before the accept loop begins, the same split cmd/trustydns-proxy's NotifyStartedFunc
// pattern exists for.
func (s *Server) Start(ctx context.Context) error {
	ln, err := pollable.ListenTCP(ctx, s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("proxyserver: listen on %s: %w", s.cfg.ListenAddress, err)
	}
	if s.cfg.MaxSessions > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxSessions)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listen address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop and the idle reaper until ctx is cancelled or the listener is closed by
// Stop. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	reapDone := make(chan struct{})
	go func() {
		defer close(reapDone)
		s.reapLoop(ctx)
	}()

	var acceptErr error
Accept:
	for {
		conn, err := pollable.AcceptAsync(ctx, s.ln)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
				break Accept
			}
			acceptErr = fmt.Errorf("proxyserver: accept: %w", err)
			break Accept
		}
		s.spawn(ctx, conn)
	}

	s.ln.Close()
	<-reapDone
	s.wg.Wait()

	return acceptErr
}

// Stop closes the listener, unblocking Serve's accept loop, and closes every currently running
// session so Serve's final s.wg.Wait() returns promptly.
func (s *Server) Stop() error {
	err := s.ln.Close()

	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}

	return err
}

func (s *Server) spawn(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	sess := session.New(id, conn, session.Config{
		Pool:           s.pool,
		DNSServer:      s.cfg.DNSServer,
		Log:            s.cfg.Log,
		ConnectTimeout: s.cfg.ConnectTimeout,
		ResolveTimeout: s.cfg.ResolveTimeout,
	})
	s.sessions[id] = sess
	s.mu.Unlock()

	s.tracker.Started(id, time.Now())
	s.concurrency.Add()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(ctx)

		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()

		s.tracker.Ended(id, time.Now())
		s.concurrency.Done()
	}()
}

// reapLoop evicts any session that made no I/O progress across two consecutive ticks: a session
// found already idle is closed outright, one found active is merely marked idle so the next tick can
// catch it if it still hasn't moved - the same double-tick grace the original timeout_source_handler
// gives a session before destroying it.
func (s *Server) reapLoop(ctx context.Context) {
	interval := s.cfg.IdleReapEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Server) reapOnce() {
	s.mu.Lock()
	candidates := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	for _, sess := range candidates {
		if sess.IsIdle() {
			s.cfg.Log.Idle(sess.ID(), "evicted after two idle ticks")
			sess.Close()
			continue
		}
		sess.SetIdle(true)
	}
}

// Name implements reporter.Reporter.
func (s *Server) Name() string {
	return "Proxy"
}

// Report implements reporter.Reporter, combining session-lifetime and concurrency statistics the way
// cmd/trustydns-server's own reporter combines connectiontracker and concurrencytracker output.
func (s *Server) Report(resetCounters bool) string {
	return fmt.Sprintf("%s pool-live=%d pool-free=%d peak-concurrency=%d",
		s.tracker.Report(resetCounters), s.pool.LiveCount(), s.pool.FreeCount(),
		s.concurrency.Peak(resetCounters))
}
