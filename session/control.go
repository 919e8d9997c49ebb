// Package session implements the Session Control Core: a single-threaded,
// cooperative event loop that owns the torrent table and peer index and
// dispatches every event the I/O aggregator (package cio) produces. It never
// blocks on disk, network, or tracker I/O itself — that is the job of the
// collaborators reachable through cio.CIO.
package session

import (
	"context"
	"sync"
	"time"

	synapse "github.com/aereaux/synapse"
	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/idalloc"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/job"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/logger"
	"github.com/aereaux/synapse/internal/metainfo"
	"github.com/aereaux/synapse/internal/persist"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/table"
	"github.com/aereaux/synapse/internal/throttle"
	"github.com/aereaux/synapse/internal/torrent"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/aereaux/synapse/internal/util"
	"github.com/pkg/errors"
	"github.com/uber-go/tally"
)

// Phase is one of the lifecycle states spec.md §4.5 defines for the control
// loop: Loading -> Running -> Draining -> Terminated.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseTerminated
)

// Session is the control loop itself. It is not safe for concurrent use:
// Run must be the only goroutine touching tt, peers, or server.
type Session struct {
	cfg      synapse.Config
	io       cio.CIO
	throttle *throttle.Throttler
	jobs     *job.JobManager
	alloc    *idalloc.Allocator

	tt    *table.TorrentTable
	peers *table.PeerIndex

	server     *persist.ServerData
	nextID     ids.TorrentID
	peerIDSelf [20]byte

	phase Phase
	stats tally.Scope

	eventCounter   tally.Counter
	dispatchTimer  tally.Timer
	persistCounter tally.Counter

	jobTimer cio.TimerID

	closeOnce sync.Once
	closeCh   chan struct{}
}

// jobTickInterval drives JobManager.Update; each registered job still gates
// on its own interval, so this only needs to be at least as fine as the
// fastest one.
const jobTickInterval = 500 * time.Millisecond

// New constructs a Session and registers the JobManager's timer. cio.SetTimer
// reports no failure, so New returns an error only for a nil CIO; a timer
// that could not be registered is not detected here.
func New(cfg synapse.Config, io cio.CIO, thr *throttle.Throttler, stats tally.Scope) (*Session, error) {
	if io == nil {
		return nil, errors.New("session: nil CIO")
	}
	if stats == nil {
		stats = tally.NoopScope
	}
	s := &Session{
		cfg:      cfg,
		io:       io,
		throttle: thr,
		alloc:    idalloc.New(),
		tt:       table.New(),
		peers:    table.NewPeerIndex(),
		phase:    PhaseLoading,
		stats:    stats,
		closeCh:  make(chan struct{}),
	}
	s.jobs = job.New(io, thr, nil)
	s.jobTimer = io.SetTimer(jobTickInterval, true)
	s.eventCounter = stats.Counter("events_dispatched")
	s.dispatchTimer = stats.Timer("dispatch_latency")
	s.persistCounter = stats.Counter("persist_saves")
	return s, nil
}

// Run executes Loading -> Running -> Draining -> Terminated. It returns when
// ctx is cancelled or an unrecoverable error occurs while loading.
func (s *Session) Run(ctx context.Context) error {
	if err := s.load(); err != nil {
		return errors.Wrap(err, "session: load")
	}
	s.phase = PhaseRunning
	s.announceExtant()

	for s.phase == PhaseRunning {
		ev, ok := s.io.Poll(ctx)
		if !ok {
			break
		}
		sw := s.dispatchTimer.Start()
		s.handleEvent(ev)
		sw.Stop()
		s.eventCounter.Inc(1)
	}

	s.phase = PhaseDraining
	s.drain()
	s.phase = PhaseTerminated
	return nil
}

// Close broadcasts shutdown to the subsystems reachable through cio.CIO.
// Safe to call more than once; only the first call has effect, mirroring
// the Rust Drop implementation in the system this module was distilled from.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.io.StopTimer(s.jobTimer)
		if s.throttle != nil {
			s.throttle.Shutdown(context.Background())
		}
		s.io.SendDisk(disk.Request{Kind: disk.KindShutdown})
		s.io.SendListener(listener.Request{Kind: listener.KindShutdown})
		// The tracker client drains on ctx cancellation alone: cmd/synapsed's
		// trackerClient.Run shares the same ctx Run does, so it needs no
		// explicit shutdown request here.
		s.io.Publish(rpc.CtlMessage{Kind: rpc.CtlShutdown})
	})
}

func (s *Session) load() error {
	data, err := persist.Load(s.cfg.SessionDir)
	if err != nil {
		data = persist.New()
		if saveErr := persist.Save(s.cfg.SessionDir, data); saveErr != nil {
			log.Warningf("session: initial server data save failed: %s", saveErr)
		}
	}
	s.server = data
	copy(s.peerIDSelf[:], []byte("-SY0001-"+data.ID)[:20])
	return nil
}

func (s *Session) announceExtant() {
	s.io.Publish(rpc.CtlMessage{
		Kind: rpc.CtlExtant,
		Resources: []rpc.Resource{{
			Server: &rpc.ServerResource{
				ID:                 s.server.ID,
				TransferredUp:      uint64(s.server.UL),
				TransferredDown:    uint64(s.server.DL),
				ThrottleUp:         s.cfg.ThrottleUpBps,
				ThrottleDown:       s.cfg.ThrottleDownBps,
			},
		}},
	})
}

// handleEvent is the sum-type dispatch spec.md §9 calls for: one switch over
// Event.Kind, never a virtual apply(state) method on the event itself.
func (s *Session) handleEvent(ev cio.Event) {
	switch ev.Kind {
	case cio.EventTracker:
		s.handleTrackerEvent(ev.Tracker)
	case cio.EventDisk:
		s.handleDiskEvent(ev.Disk)
	case cio.EventListener:
		s.handleListenerEvent(ev.Listener)
	case cio.EventRPC:
		s.handleRPCEvent(ev.RPC)
	case cio.EventTimer:
		s.handleTimerEvent(ev.Timer)
	case cio.EventPeer:
		s.handlePeerEvent(ev.Peer)
	}
}

// handleTrackerEvent applies a successful announce to the owning torrent's
// schedule, dials each peer endpoint the tracker returned, and republishes
// the torrent's peer set; a miss on TorrentID is a silent no-op per spec.md
// §4.4's tolerance for a torrent having been removed mid-flight.
func (s *Session) handleTrackerEvent(res tracker.Result) {
	if res.Err != nil {
		log.Warningf("session: tracker announce failed: %s", res.Err)
		return
	}
	tr, ok := s.tt.Get(res.Response.TorrentID)
	if !ok {
		return
	}
	tr.SetTrackerResponse(res.Response)
	for _, addr := range res.Response.Peers {
		s.io.SendListener(listener.Request{
			Kind:   listener.KindConnect,
			Addr:   addr,
			Hash:   tr.Hash(),
			PeerID: tr.PeerIDSelf(),
		})
	}
	s.publishTorrentPeers(tr)
}

func (s *Session) handleTimerEvent(id cio.TimerID) {
	switch {
	case id == s.jobTimer:
		s.jobs.Update(s.tt)
	case s.throttle != nil && id == s.throttle.RefreshTimerID():
		s.refreshThrottleCounters()
	case s.throttle != nil && id == s.throttle.FlushTimerID():
		s.flushThrottledPeers()
	default:
		log.Errorf("session: unknown timer id %v", id)
	}
}

// refreshThrottleCounters drains each torrent's Throttle byte counters into
// the session's all-time and this-process ServerData totals (spec.md §4.4's
// throttler-refresh tick).
func (s *Session) refreshThrottleCounters() {
	s.tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		res, ok := s.throttle.Update(id)
		if !ok {
			return
		}
		s.server.AddTransferred(int64(res.UpBytes), int64(res.DownBytes))
	})
}

// flushThrottledPeers releases peers blocked on bucket budget. Forgetting a
// torrent's blocked-peer sets here is enough: the next Reserve call from
// that peer's connection will either succeed against the refreshed bucket or
// re-block, and the out-of-scope wire-protocol layer is what actually wakes
// a blocked connection to retry.
func (s *Session) flushThrottledPeers() {
	s.tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		s.throttle.FlushUL(id)
		s.throttle.FlushDL(id)
	})
}

func (s *Session) handlePeerEvent(msg cio.PeerMessage) {
	tr, ok := s.tt.Get(msg.TorrentID)
	if !ok {
		return
	}
	if msg.Bytes > 0 && s.throttle != nil {
		s.throttle.GetThrottle(msg.TorrentID).Reserve(msg.PeerID, true, msg.Bytes)
	}
	if closed := tr.PeerEvent(msg); closed {
		s.peers.Remove(msg.PeerID)
		s.publishTorrentPeers(tr)
	}
}

// publishTorrentPeers republishes a torrent's current peer set over RPC
// (spec.md §4.4, "ask the torrent to publish its new peer set over RPC").
func (s *Session) publishTorrentPeers(tr *torrent.Torrent) {
	s.io.Publish(rpc.CtlMessage{
		Kind: rpc.CtlUpdate,
		Updates: []rpc.ResourceUpdate{{
			Kind: rpc.UpdateTorrentPeers,
			TorrentPeers: rpc.TorrentPeersUpdate{
				TorrentID: util.HashToID(tr.Hash()),
				Peers:     tr.PublishPeers(),
			},
		}},
	})
}

func (s *Session) handleDiskEvent(res disk.Response) {
	if res.Err != nil {
		log.Warningf("session: disk request failed for torrent %d: %s", res.TID(), res.Err)
		return
	}
	tr, ok := s.tt.Get(res.TID())
	if !ok {
		return
	}
	if res.Kind == disk.KindReadResume && len(res.Data) > 0 {
		if err := tr.RestoreResume(res.Data); err != nil {
			log.Warningf("session: resume restore failed for torrent %d: %s", res.TID(), err)
			return
		}
	}
	s.persistCounter.Inc(1)
}

func (s *Session) handleListenerEvent(res listener.Result) {
	if res.Err != nil {
		log.Warningf("session: listener error: %s", res.Err)
		return
	}
	msg := res.Message
	tr, ok := s.tt.GetByHash(ids.ContentHash(msg.Hash))
	if !ok {
		// No torrent wants this hash; drop silently per spec.md §4.4's
		// silent-no-op-on-miss semantics.
		msg.Conn.Close()
		return
	}
	peerID := tr.AddIncomingPeer(msg.Conn)
	s.peers.Insert(peerID, tr.ID())
	s.publishTorrentPeers(tr)
}

// drain persists every torrent's resume state and the server data, then
// broadcasts shutdown — spec.md §4.4.4's Draining->Terminated transition
// runs persistence to completion before the subsystems are told to stop, so
// a slow disk write is never racing a subsystem that already tore down.
func (s *Session) drain() {
	s.tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		blob, err := tr.SerializeResume()
		if err != nil {
			log.Warningf("session: drain resume serialize failed for torrent %d: %s", id, err)
			return
		}
		if err := persist.SaveResume(s.cfg.SessionDir, util.HashToID(tr.Hash()), blob); err != nil {
			log.Warningf("session: drain resume save failed for torrent %d: %s", id, err)
		}
	})
	if err := persist.Save(s.cfg.SessionDir, s.server); err != nil {
		log.Warningf("session: drain server data save failed: %s", err)
	}
	s.Close()
}

// addTorrent inserts a newly parsed torrent into the table, assigning it the
// next session id and rejecting a duplicate content hash (spec.md §3's
// uniqueness invariant).
func (s *Session) addTorrent(info *metainfo.Info, path string, trackers []string) (ids.TorrentID, error) {
	hash := ids.ContentHash(info.Hash)
	if s.tt.HasHash(hash) {
		return 0, errors.New("session: torrent already present")
	}
	s.nextID++
	id := s.nextID
	handle := s.io.NewHandle(id)
	tr := torrent.New(id, info, path, trackers, s.alloc, s.peerIDSelf, handle)
	s.tt.Insert(id, hash, tr)
	return id, nil
}

var log = logger.New("session")
