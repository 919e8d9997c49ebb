// Package torrent implements the opaque per-torrent collaborator the
// Session Control Core holds one of per active download (spec.md §1,
// "Torrent (opaque to the core)"). The core never reaches into a Torrent's
// internals: it calls the methods below and reacts to what they return.
package torrent

import (
	"bytes"
	"encoding/gob"
	"net"
	"time"

	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/idalloc"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/logger"
	"github.com/aereaux/synapse/internal/metainfo"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/rcrowley/go-metrics"
)

var log = logger.New("torrent")

// Status is the lifecycle state of a Torrent (spec.md §3).
type Status int

const (
	StatusRunning Status = iota
	StatusPaused
	StatusValidating
)

// Peer is one connected remote peer, keyed by a PeerID unique across the
// whole session (spec.md §3: "PeerId is unique across the entire session,
// not just within one torrent").
type Peer struct {
	ID      ids.PeerID
	Addr    net.Addr
	Conn    net.Conn
	Choked  bool
	Choking bool
}

// Torrent is one download/seed in progress. It owns its peer set, its
// tracker announce schedule, and its upload/download speed accounting; it
// knows nothing about the TorrentTable or PeerIndex that the core uses to
// find it.
type Torrent struct {
	id   ids.TorrentID
	hash ids.ContentHash
	info *metainfo.Info

	trackers []string
	path     string
	status   Status

	peerIDSelf [20]byte
	peers      map[ids.PeerID]*Peer
	alloc      *idalloc.Allocator

	uploaded   metrics.EWMA
	downloaded metrics.EWMA
	totalUp    int64
	totalDown  int64

	nextTrackerAnnounce time.Time
	trackerIdx          int

	handle cio.Handle

	lastUnchokeIdx int
}

// New constructs a Torrent for info, to be stored at path, with the given
// tracker URLs. alloc is the session-wide peer id allocator (spec.md §3's
// session-unique PeerId requirement), peerIDSelf is this torrent's outbound
// BitTorrent peer id (BEP 3), and handle is this torrent's scoped view of
// the I/O aggregator.
func New(id ids.TorrentID, info *metainfo.Info, path string, trackers []string, alloc *idalloc.Allocator, peerIDSelf [20]byte, handle cio.Handle) *Torrent {
	return &Torrent{
		id:         id,
		hash:       ids.ContentHash(info.Hash),
		info:       info,
		trackers:   trackers,
		path:       path,
		status:     StatusRunning,
		peerIDSelf: peerIDSelf,
		peers:      make(map[ids.PeerID]*Peer),
		alloc:      alloc,
		uploaded:   metrics.NewEWMA1(),
		downloaded: metrics.NewEWMA1(),
		handle:     handle,
	}
}

// ID returns the torrent's session-assigned id.
func (t *Torrent) ID() ids.TorrentID { return t.id }

// Hash returns the torrent's content hash.
func (t *Torrent) Hash() ids.ContentHash { return t.hash }

// PeerIDSelf returns the 20-byte peer id this torrent presents to remote
// peers and trackers.
func (t *Torrent) PeerIDSelf() [20]byte { return t.peerIDSelf }

// Status reports the torrent's current lifecycle state.
func (t *Torrent) Status() Status { return t.status }

// Name returns the torrent's display name.
func (t *Torrent) Name() string { return t.info.Name }

// AddPeer registers a newly handshaken outbound or inbound peer connection
// and returns the session-unique id assigned to it.
func (t *Torrent) AddPeer(addr net.Addr, conn net.Conn) ids.PeerID {
	id := ids.PeerID(t.alloc.Next())
	t.peers[id] = &Peer{ID: id, Addr: addr, Conn: conn}
	return id
}

// AddIncomingPeer is AddPeer for a connection accepted by the listener
// subsystem rather than dialed outbound.
func (t *Torrent) AddIncomingPeer(conn net.Conn) ids.PeerID {
	return t.AddPeer(conn.RemoteAddr(), conn)
}

// RemovePeer drops a peer from this torrent's peer set, e.g. on disconnect
// or an RPC RemovePeer command.
func (t *Torrent) RemovePeer(peer ids.PeerID) {
	if p, ok := t.peers[peer]; ok {
		if p.Conn != nil {
			p.Conn.Close()
		}
		delete(t.peers, peer)
	}
}

// RemoveTracker drops a tracker URL. idx is the index into the tracker list
// the torrent was constructed with, matching the RPC RemoveTracker command's
// addressing scheme.
func (t *Torrent) RemoveTracker(idx int) {
	if idx < 0 || idx >= len(t.trackers) {
		return
	}
	t.trackers = append(t.trackers[:idx], t.trackers[idx+1:]...)
	if t.trackerIdx >= len(t.trackers) {
		t.trackerIdx = 0
	}
}

// PeerEvent applies a cio.PeerMessage describing traffic or a state change
// from one of this torrent's peers. It reports closed as true when the peer
// was dropped from the torrent's peer set, so the control loop knows to
// republish the torrent's peer set over RPC.
func (t *Torrent) PeerEvent(msg cio.PeerMessage) (closed bool) {
	p, ok := t.peers[msg.PeerID]
	if !ok {
		return false
	}
	if msg.Closed {
		t.RemovePeer(msg.PeerID)
		return true
	}
	if msg.Choke {
		p.Choking = msg.Choked
	}
	if msg.Bytes > 0 {
		t.DeltaUpload(int64(msg.Bytes))
	}
	return false
}

// DeltaUpload records n more bytes sent, updating the smoothed upload rate.
func (t *Torrent) DeltaUpload(n int64) {
	t.totalUp += n
	t.uploaded.Update(n)
	t.uploaded.Tick()
}

// DeltaDownload records n more bytes received, updating the smoothed
// download rate.
func (t *Torrent) DeltaDownload(n int64) {
	t.totalDown += n
	t.downloaded.Update(n)
	t.downloaded.Tick()
}

// UploadRate returns the current smoothed upload rate in bytes/sec.
func (t *Torrent) UploadRate() float64 { return t.uploaded.Rate() }

// DownloadRate returns the current smoothed download rate in bytes/sec.
func (t *Torrent) DownloadRate() float64 { return t.downloaded.Rate() }

// TotalUploaded and TotalDownloaded return this torrent's cumulative byte
// counts; they are saved in the resume blob and restored by RestoreResume.
func (t *Torrent) TotalUploaded() int64   { return t.totalUp }
func (t *Torrent) TotalDownloaded() int64 { return t.totalDown }

// TickTrackerIfDue issues an announce request via the torrent's cio.Handle
// if its next scheduled announce time has passed, rotating to the next
// tracker URL on each call (round-robin, matching the teacher's multi-tracker
// fallback behavior).
func (t *Torrent) TickTrackerIfDue(now time.Time, send func(tracker.Request)) {
	if len(t.trackers) == 0 || now.Before(t.nextTrackerAnnounce) {
		return
	}
	url := t.trackers[t.trackerIdx]
	t.trackerIdx = (t.trackerIdx + 1) % len(t.trackers)
	t.nextTrackerAnnounce = now.Add(30 * time.Minute)
	send(tracker.Request{
		URL: url,
		Stats: tracker.AnnounceStats{
			TorrentID:       t.id,
			Hash:            t.hash,
			PeerID:          t.peerIDSelf,
			BytesUploaded:   t.totalUp,
			BytesDownloaded: t.totalDown,
		},
	})
}

// SetTrackerResponse applies a successful announce response, rescheduling
// the next announce at the tracker's requested interval whenever that
// interval is positive, whether shorter or longer than the 30-minute default.
func (t *Torrent) SetTrackerResponse(resp tracker.Response) {
	if resp.Interval > 0 {
		t.nextTrackerAnnounce = time.Now().Add(resp.Interval)
	}
}

// TickUnchoke rotates which peers are unchoked, adapted from the teacher's
// tit-for-tat rotation in session/timers.go, generalized to this torrent's
// own peer map instead of a fixed-size slice.
func (t *Torrent) TickUnchoke(maxUnchoked int) {
	if len(t.peers) == 0 {
		return
	}
	ordered := make([]ids.PeerID, 0, len(t.peers))
	for id := range t.peers {
		ordered = append(ordered, id)
	}
	for i, id := range ordered {
		p := t.peers[id]
		p.Choking = i < t.lastUnchokeIdx || i >= t.lastUnchokeIdx+maxUnchoked
	}
	t.lastUnchokeIdx = (t.lastUnchokeIdx + maxUnchoked) % (len(ordered) + 1)
}

// PublishPeers returns the current peer set's string addresses, used by the
// control loop to republish an RPC TorrentPeersUpdate (spec.md §4.4).
func (t *Torrent) PublishPeers() []string {
	out := make([]string, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Addr != nil {
			out = append(out, p.Addr.String())
		}
	}
	return out
}

// Pause stops announcing and accepting new peer traffic but keeps existing
// connections and piece state intact.
func (t *Torrent) Pause() { t.status = StatusPaused }

// Resume reverses Pause.
func (t *Torrent) Resume() { t.status = StatusRunning }

// Validate marks the torrent for re-validation; the actual piece-hash
// verification is the out-of-scope disk subsystem's job (spec.md's
// Non-goals) — the torrent only tracks that it's in progress.
func (t *Torrent) Validate() { t.status = StatusValidating }

// RPCUpdate applies opaque field updates from an RPC UpdateTorrent command.
// Unknown fields are ignored, matching the core's silent-no-op-on-miss
// semantics for commands addressed to entities it can't resolve.
func (t *Torrent) RPCUpdate(fields map[string]string) {
	if v, ok := fields["path"]; ok {
		t.path = v
	}
}

// resumeState is the gob-serializable snapshot written to the resume blob
// (spec.md §7, "Persistence").
type resumeState struct {
	Hash       ids.ContentHash
	Name       string
	Path       string
	Trackers   []string
	TotalUp    int64
	TotalDown  int64
	Status     Status
	PeerIDSelf [20]byte
}

// SerializeResume encodes this torrent's resume state with encoding/gob, the
// same serialization the teacher's resumer package relies on for its
// BoltDB-backed blobs, here written straight to a flat file per spec.md §7.
func (t *Torrent) SerializeResume() ([]byte, error) {
	var buf bytes.Buffer
	state := resumeState{
		Hash:       t.hash,
		Name:       t.info.Name,
		Path:       t.path,
		Trackers:   t.trackers,
		TotalUp:    t.totalUp,
		TotalDown:  t.totalDown,
		Status:     t.status,
		PeerIDSelf: t.peerIDSelf,
	}
	if err := gob.NewEncoder(&buf).Encode(&state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RestoreResume applies a previously serialized resume blob, restoring
// cumulative counters and tracker list across a restart.
func (t *Torrent) RestoreResume(data []byte) error {
	var state resumeState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	t.path = state.Path
	t.trackers = state.Trackers
	t.totalUp = state.TotalUp
	t.totalDown = state.TotalDown
	t.status = state.Status
	t.peerIDSelf = state.PeerIDSelf
	return nil
}
