/*
Package proxylog provides the tagged, verbosity-gated line logging this proxy uses in place of a
structured logging library - the teacher codebase this is drawn from favours the same thing: short,
grep-able prefix tags written straight to an io.Writer, gated by one or two boolean verbosity levels
read from the command line, rather than a leveled logger with its own formatting conventions.

Every line carries a two-letter tag identifying which part of a session's lifecycle produced it:

	AC: accept          a new connection was accepted
	HS: handshake       method negotiation / request parsing
	RS: resolve         DNS resolution
	CN: connect         outbound TCP connect
	RL: relay           relay start/stop (never the relayed bytes themselves)
	ID: idle            idle-timeout reaping
	ER: error           any session-ending error

Payload bytes moving through a relay are never logged, at any verbosity level - see the Non-goals this
carries over from the specification this proxy implements.
*/
package proxylog

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger writes tagged lines to an underlying io.Writer, gated by two verbosity levels matching the
// teacher's -v/-vv convention: V1 for session lifecycle events, V2 for finer per-operation detail.
type Logger struct {
	out io.Writer
	mu  sync.Mutex

	v1 bool
	v2 bool
}

// New constructs a Logger writing to out. v1 enables lifecycle-level logging (accept, connect
// outcome); v2 additionally enables fine-grained per-operation logging (handshake, resolve queries,
// relay start/stop, idle scans). Errors are always logged. v2 implies v1.
func New(out io.Writer, v1, v2 bool) *Logger {
	return &Logger{out: out, v1: v1 || v2, v2: v2}
}

func (l *Logger) logf(tag, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), tag, fmt.Sprintf(format, args...))
}

// Accept logs a newly accepted connection. Gated by v1.
func (l *Logger) Accept(sessionID uint64, remoteAddr string) {
	if !l.v1 {
		return
	}
	l.logf("AC:", "session=%d remote=%s", sessionID, remoteAddr)
}

// Handshake logs the outcome of method negotiation and request parsing. Gated by v2.
func (l *Logger) Handshake(sessionID uint64, detail string) {
	if !l.v2 {
		return
	}
	l.logf("HS:", "session=%d %s", sessionID, detail)
}

// Resolve logs a DNS resolution attempt and its outcome. Gated by v2.
func (l *Logger) Resolve(sessionID uint64, name string, err error) {
	if !l.v2 {
		return
	}
	if err != nil {
		l.logf("RS:", "session=%d name=%s failed=%v", sessionID, name, err)
		return
	}
	l.logf("RS:", "session=%d name=%s ok", sessionID, name)
}

// Connect logs the outcome of the outbound TCP connect. Gated by v1.
func (l *Logger) Connect(sessionID uint64, target string, err error) {
	if !l.v1 {
		return
	}
	if err != nil {
		l.logf("CN:", "session=%d target=%s failed=%v", sessionID, target, err)
		return
	}
	l.logf("CN:", "session=%d target=%s ok", sessionID, target)
}

// RelayStart logs the beginning of bidirectional relay. Gated by v2.
func (l *Logger) RelayStart(sessionID uint64) {
	if !l.v2 {
		return
	}
	l.logf("RL:", "session=%d start", sessionID)
}

// RelayStop logs the end of bidirectional relay along with byte counters. Gated by v2.
func (l *Logger) RelayStop(sessionID uint64, upBytes, downBytes int64) {
	if !l.v2 {
		return
	}
	l.logf("RL:", "session=%d stop up=%d down=%d", sessionID, upBytes, downBytes)
}

// Idle logs an idle-timeout reap. Gated by v2.
func (l *Logger) Idle(sessionID uint64, detail string) {
	if !l.v2 {
		return
	}
	l.logf("ID:", "session=%d %s", sessionID, detail)
}

// Error logs a session-ending error. Always emitted, regardless of verbosity - errors are the one
// category the teacher's own config.go never lets a user silence.
func (l *Logger) Error(sessionID uint64, err error) {
	l.logf("ER:", "session=%d %v", sessionID, err)
}
