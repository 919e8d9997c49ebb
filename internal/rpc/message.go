// Package rpc is the core-facing interface to the out-of-scope RPC
// subsystem that mediates with user-facing tools (spec.md §1, §4.4.1).
// This file defines the command set the core consumes (rpc.Message) and the
// resource/update types it publishes (rpc.CtlMessage); server.go supplies a
// real HTTP+websocket transport for them.
package rpc

import "github.com/aereaux/synapse/internal/metainfo"

// CommandKind discriminates inbound RPC commands (spec.md §4.4.1's table).
type CommandKind int

const (
	CmdAddTorrent CommandKind = iota
	CmdUpdateTorrent
	CmdUpdateFile
	CmdUpdateServer
	CmdRemoveTorrent
	CmdPause
	CmdResume
	CmdValidate
	CmdRemovePeer
	CmdRemoveTracker
)

// Message is one inbound RPC command. Exactly the fields matching Kind are
// populated; dispatch in package session switches on Kind, per spec.md §9's
// instruction to use a sum type rather than virtual dispatch.
type Message struct {
	Kind CommandKind

	AddTorrent    AddTorrentCmd
	UpdateTorrent UpdateTorrentCmd
	UpdateFile    UpdateFileCmd
	UpdateServer  UpdateServerCmd
	RemoveTorrent IDCmd
	Pause         IDCmd
	Resume        IDCmd
	Validate      ValidateCmd
	RemovePeer    PeerCmd
	RemoveTracker PeerCmd
}

// AddTorrentCmd carries a parsed metainfo and optional destination path.
type AddTorrentCmd struct {
	Info  *metainfo.Info
	Path  string
	Start bool
}

// UpdateTorrentCmd forwards opaque field updates to a torrent.
type UpdateTorrentCmd struct {
	ID     string // 40-hex content hash
	Fields map[string]string
}

// UpdateFileCmd changes one file's download priority within a torrent.
type UpdateFileCmd struct {
	TorrentID string
	FileID    int
	Priority  int
}

// UpdateServerCmd reconfigures global throttle caps. Nil fields mean
// "preserve current rate" (spec.md §4.4.1).
type UpdateServerCmd struct {
	ThrottleUp   *uint32
	ThrottleDown *uint32
}

// IDCmd is a command keyed by a single 40-hex content hash.
type IDCmd struct {
	ID string
}

// ValidateCmd requests re-validation of one or more torrents.
type ValidateCmd struct {
	IDs []string
}

// PeerCmd removes a peer or tracker from a torrent.
type PeerCmd struct {
	ID        string
	TorrentID string
}

// CtlKind discriminates outbound RPC publications.
type CtlKind int

const (
	// CtlExtant announces resources that already exist, sent once at startup
	// (spec.md §4.4, "initial RPC 'extant server' announcement").
	CtlExtant CtlKind = iota
	// CtlUpdate reports incremental changes to existing resources.
	CtlUpdate
	// CtlShutdown tells the RPC subsystem to drain and exit.
	CtlShutdown
)

// CtlMessage is one outbound RPC publication.
type CtlMessage struct {
	Kind      CtlKind
	Resources []Resource
	Updates   []ResourceUpdate
}

// Resource is a full snapshot of a server or torrent, sent on CtlExtant.
type Resource struct {
	Server *ServerResource
}

// ServerResource mirrors the "extant server" resource from spec.md §4.4.
type ServerResource struct {
	ID                string
	RateUp, RateDown  uint64
	ThrottleUp        uint32
	ThrottleDown      uint32
	TransferredUp     uint64
	TransferredDown   uint64
	SesTransferredUp   uint64
	SesTransferredDown uint64
}

// UpdateKind discriminates ResourceUpdate payloads.
type UpdateKind int

const (
	UpdateServerTransfer UpdateKind = iota
	UpdateThrottle
	UpdateTorrentPeers
)

// ResourceUpdate is one incremental publication (spec.md §4.4.2, §4.4.1's
// UpdateServer echo, and scenario 6's peer-set republish).
type ResourceUpdate struct {
	Kind UpdateKind

	ServerTransfer ServerTransferUpdate
	Throttle       ThrottleUpdate
	TorrentPeers   TorrentPeersUpdate
}

// ServerTransferUpdate carries the coalesced rate publication spec.md §4.4.2
// describes: emitted only when rates changed since the last publication.
type ServerTransferUpdate struct {
	ID                 string
	RateUp, RateDown   uint64
	TransferredUp      uint64
	TransferredDown    uint64
	SesTransferredUp   uint64
	SesTransferredDown uint64
}

// ThrottleUpdate echoes the applied throttle caps after an UpdateServer
// command (spec.md §4.4.1).
type ThrottleUpdate struct {
	ThrottleUp   uint32
	ThrottleDown uint32
}

// TorrentPeersUpdate republishes a torrent's current peer set (spec.md §4.4,
// "ask the torrent to publish its new peer set over RPC").
type TorrentPeersUpdate struct {
	TorrentID string
	Peers     []string
}
