// Package cio is the single I/O aggregation point the Session Control Core
// polls on each iteration of its event loop (spec.md §1, §4, §9's "Design
// Notes"). It fans in results from the out-of-scope tracker, disk, listener
// and RPC subsystems, plus per-torrent peer traffic and timer expiries, into
// one Event stream.
//
// Event is a tagged struct, not an interface with virtual dispatch: spec.md
// §9 calls this out explicitly, and the teacher's own torrent.run() select
// loop follows the same shape (one channel per source, fed into one switch).
package cio

import (
	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/tracker"
)

// EventKind discriminates the union held by Event.
type EventKind int

const (
	EventTracker EventKind = iota
	EventDisk
	EventListener
	EventRPC
	EventTimer
	EventPeer
)

// TimerID identifies a registered recurring or one-shot timer. Owned by cio
// rather than by package job or package throttle so that every subsystem
// scheduling a timer shares one id space and one poll path.
type TimerID uint64

// PeerMessage is one inbound message from a connected peer, already demuxed
// to the torrent and peer it belongs to. The peer wire protocol itself is
// out of scope (spec.md's Non-goals); this is the minimal shape the core
// needs to route traffic and update throttle/torrent state.
type PeerMessage struct {
	TorrentID ids.TorrentID
	PeerID    ids.PeerID
	Bytes     int  // payload size, for throttle/traffic accounting
	Choke     bool // true if this message is a choke/unchoke notification
	Choked    bool
	Closed    bool // true if the peer connection has gone away
}

// Event is the single union of everything the control loop can observe in
// one iteration of Poll.
type Event struct {
	Kind EventKind

	Tracker  tracker.Result
	Disk     disk.Response
	Listener listener.Result
	RPC      rpc.Message
	Timer    TimerID
	Peer     PeerMessage
}
