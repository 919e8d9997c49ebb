// Package throttle implements the Session Control Core's bandwidth limiter
// (spec.md §5, "Throttler"). A single upload bucket and a single download
// bucket are shared session-wide; every torrent's Throttle is a thin view
// over that one pair plus its own peer-blocking bookkeeping, so the
// configured cap bounds the whole daemon's traffic rather than being granted
// fresh to each torrent. The bucket sizes are refreshed on a timer and
// queried on a separate flush timer so blocked peers are released promptly
// without the control loop polling every iteration.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/ids"
	"golang.org/x/time/rate"
)

const (
	refreshInterval = 500 * time.Millisecond
	flushInterval   = 250 * time.Millisecond
)

// Throttle is one torrent's view over the Throttler's shared bucket pair: it
// carries no rate.Limiter of its own, only the per-torrent byte counters and
// blocked-peer bookkeeping spec.md §4.4.2's transfer-rate publication needs.
type Throttle struct {
	t *Throttler

	mu          sync.Mutex
	blockedUp   map[ids.PeerID]struct{}
	blockedDown map[ids.PeerID]struct{}

	upBytes, downBytes uint64 // bytes granted since last Update
}

// UpdateResult is the per-torrent snapshot Update reports back.
type UpdateResult struct {
	RateUp, RateDown   float64
	UpBytes, DownBytes uint64
}

// Throttler owns the session-wide token buckets, every torrent's Throttle
// view over them, and the two recurring timers (golang.org/x/time/rate
// drives the buckets themselves, the same token-bucket library uber-kraken
// depends on for its transfer limiter).
type Throttler struct {
	io cio.CIO

	mu       sync.Mutex
	throttle map[ids.TorrentID]*Throttle
	up       *rate.Limiter
	down     *rate.Limiter

	refreshTimer cio.TimerID
	flushTimer   cio.TimerID
}

// New builds a Throttler with the given session-wide byte-per-second caps (0
// means unlimited) and registers its refresh/flush timers on io.
func New(io cio.CIO, defaultUpBps, defaultDownBps uint32) *Throttler {
	capUp := capFromBps(defaultUpBps)
	capDown := capFromBps(defaultDownBps)
	t := &Throttler{
		io:       io,
		throttle: make(map[ids.TorrentID]*Throttle),
		up:       rate.NewLimiter(capUp, burstFor(capUp)),
		down:     rate.NewLimiter(capDown, burstFor(capDown)),
	}
	t.refreshTimer = io.SetTimer(refreshInterval, true)
	t.flushTimer = io.SetTimer(flushInterval, true)
	return t
}

func capFromBps(bps uint32) rate.Limit {
	if bps == 0 {
		return rate.Inf
	}
	return rate.Limit(bps)
}

// RefreshTimerID identifies the timer event that should call Update.
func (t *Throttler) RefreshTimerID() cio.TimerID { return t.refreshTimer }

// FlushTimerID identifies the timer event that should call FlushUL/FlushDL.
func (t *Throttler) FlushTimerID() cio.TimerID { return t.flushTimer }

// GetThrottle returns the Throttle view for tid, creating one the first time
// tid is requested. Every Throttle shares this Throttler's up/down buckets.
func (t *Throttler) GetThrottle(tid ids.TorrentID) *Throttle {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.throttle[tid]
	if !ok {
		th = &Throttle{
			t:           t,
			blockedUp:   make(map[ids.PeerID]struct{}),
			blockedDown: make(map[ids.PeerID]struct{}),
		}
		t.throttle[tid] = th
	}
	return th
}

func burstFor(limit rate.Limit) int {
	if limit == rate.Inf || limit <= 0 {
		return 1 << 20
	}
	b := int(limit)
	if b < 1 {
		b = 1
	}
	return b
}

// Remove discards the Throttle view for a torrent that has left the table.
func (t *Throttler) Remove(tid ids.TorrentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.throttle, tid)
}

// Reserve requests n bytes of budget for an upload (up=true) or download
// transfer, against the session-wide shared bucket. It records the peer as
// blocked if the budget isn't immediately available, to be released by a
// later Flush call.
func (th *Throttle) Reserve(peer ids.PeerID, up bool, n int) bool {
	lim := th.t.down
	blocked := th.blockedDown
	if up {
		lim = th.t.up
		blocked = th.blockedUp
	}
	r := lim.ReserveN(time.Now(), n)
	if !r.OK() || r.Delay() > 0 {
		if r.OK() {
			r.Cancel()
		}
		th.mu.Lock()
		blocked[peer] = struct{}{}
		th.mu.Unlock()
		return false
	}
	th.mu.Lock()
	if up {
		th.upBytes += uint64(n)
	} else {
		th.downBytes += uint64(n)
	}
	th.mu.Unlock()
	return true
}

// Update reports the session-wide caps (as RateUp/RateDown) together with
// tid's byte counters, and resets those counters; ok is false if tid has no
// registered Throttle.
func (t *Throttler) Update(tid ids.TorrentID) (UpdateResult, bool) {
	t.mu.Lock()
	th, ok := t.throttle[tid]
	t.mu.Unlock()
	if !ok {
		return UpdateResult{}, false
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	res := UpdateResult{
		RateUp:    float64(th.t.up.Limit()),
		RateDown:  float64(th.t.down.Limit()),
		UpBytes:   th.upBytes,
		DownBytes: th.downBytes,
	}
	th.upBytes, th.downBytes = 0, 0
	return res, true
}

// SetULRate updates the session-wide upload cap, in bytes per second (0 =
// unlimited). It applies to every torrent immediately, since all Throttles
// share this one bucket.
func (t *Throttler) SetULRate(bps uint32) {
	lim := capFromBps(bps)
	t.mu.Lock()
	t.up.SetLimit(lim)
	t.up.SetBurst(burstFor(lim))
	t.mu.Unlock()
}

// SetDLRate is SetULRate's download-side counterpart.
func (t *Throttler) SetDLRate(bps uint32) {
	lim := capFromBps(bps)
	t.mu.Lock()
	t.down.SetLimit(lim)
	t.down.SetBurst(burstFor(lim))
	t.mu.Unlock()
}

// FlushUL returns and clears the set of peers blocked on upload budget for
// tid. The peers are not re-checked against the bucket.
func (t *Throttler) FlushUL(tid ids.TorrentID) []ids.PeerID {
	th, ok := t.lookup(tid)
	if !ok {
		return nil
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	peers := make([]ids.PeerID, 0, len(th.blockedUp))
	for p := range th.blockedUp {
		peers = append(peers, p)
	}
	th.blockedUp = make(map[ids.PeerID]struct{})
	return peers
}

// FlushDL is FlushUL's download-side counterpart.
func (t *Throttler) FlushDL(tid ids.TorrentID) []ids.PeerID {
	th, ok := t.lookup(tid)
	if !ok {
		return nil
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	peers := make([]ids.PeerID, 0, len(th.blockedDown))
	for p := range th.blockedDown {
		peers = append(peers, p)
	}
	th.blockedDown = make(map[ids.PeerID]struct{})
	return peers
}

func (t *Throttler) lookup(tid ids.TorrentID) (*Throttle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.throttle[tid]
	return th, ok
}

// Shutdown stops the Throttler's timers.
func (t *Throttler) Shutdown(ctx context.Context) {
	t.io.StopTimer(t.refreshTimer)
	t.io.StopTimer(t.flushTimer)
}
