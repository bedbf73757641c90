/*
sessionTracker is a generalisation of the teacher codebase's connectiontracker package: the same
per-connection occupancy and elapsed-time bookkeeping, with the http.ConnState state machine it was
built around replaced by the two transitions a proxy session actually has - started and ended. There
is no HTTP2-style multiplexing of many logical sessions over one connection here, so the
SessionAdd/SessionDone half of the original package has no analogue and is dropped along with it.
*/
package proxyserver

import (
	"fmt"
	"sync"
	"time"
)

type sessionRecord struct {
	start time.Time
}

type sessionTrackerStats struct {
	peakSessions int
	total        int
	sessionFor   time.Duration
	danglingErrs int
}

// sessionTracker counts concurrently running sessions and accumulates their lifetime, reporting via
// the same Reporter shape the teacher's connectiontracker implements.
type sessionTracker struct {
	name string
	mu   sync.Mutex

	live map[uint64]*sessionRecord
	sessionTrackerStats
}

func newSessionTracker(name string) *sessionTracker {
	return &sessionTracker{name: name, live: make(map[uint64]*sessionRecord)}
}

// Started records session id beginning at now.
func (t *sessionTracker) Started(id uint64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[id]; ok {
		t.danglingErrs++ // Re-used an id that was never marked Ended; should never happen.
	}
	t.live[id] = &sessionRecord{start: now}
	t.total++
	if n := len(t.live); n > t.peakSessions {
		t.peakSessions = n
	}
}

// Ended records session id finishing at now. Ending an id that was never Started is counted as a
// dangling error and otherwise ignored.
func (t *sessionTracker) Ended(id uint64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.live[id]
	if !ok {
		t.danglingErrs++
		return
	}
	t.sessionFor += now.Sub(rec.start)
	delete(t.live, id)
}

// Live returns the number of sessions currently running.
func (t *sessionTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Name implements reporter.Reporter.
func (t *sessionTracker) Name() string {
	return t.name
}

// Report implements reporter.Reporter.
func (t *sessionTracker) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := fmt.Sprintf("live=%d pk=%d total=%d sessionFor=%0.1fs dangling=%d %s",
		len(t.live), t.peakSessions, t.total,
		t.sessionFor.Round(time.Millisecond*100).Seconds(), t.danglingErrs, t.name)

	if resetCounters {
		t.sessionTrackerStats = sessionTrackerStats{peakSessions: len(t.live)}
	}

	return report
}
