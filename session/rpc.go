package session

import (
	"bytes"
	"strconv"

	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/metainfo"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/util"
)

// handleRPCEvent dispatches one inbound RPC command. Every branch that
// addresses an existing torrent resolves its target id through
// util.IDToHash / TorrentTable lookups and is a
// silent no-op on a miss (spec.md §4.3/§4.4): a command addressed to a
// torrent or peer the core no longer knows about does nothing rather than
// erroring, since the RPC client may simply be racing a removal.
func (s *Session) handleRPCEvent(msg rpc.Message) {
	switch msg.Kind {
	case rpc.CmdAddTorrent:
		s.rpcAddTorrent(msg.AddTorrent)
	case rpc.CmdUpdateTorrent:
		s.rpcUpdateTorrent(msg.UpdateTorrent)
	case rpc.CmdUpdateFile:
		s.rpcUpdateFile(msg.UpdateFile)
	case rpc.CmdUpdateServer:
		s.rpcUpdateServer(msg.UpdateServer)
	case rpc.CmdRemoveTorrent:
		s.rpcRemoveTorrent(msg.RemoveTorrent)
	case rpc.CmdPause:
		s.rpcSetStatus(msg.Pause, statusPause)
	case rpc.CmdResume:
		s.rpcSetStatus(msg.Resume, statusResume)
	case rpc.CmdValidate:
		s.rpcValidate(msg.Validate)
	case rpc.CmdRemovePeer:
		s.rpcRemovePeer(msg.RemovePeer)
	case rpc.CmdRemoveTracker:
		s.rpcRemoveTracker(msg.RemoveTracker)
	}
}

func (s *Session) rpcAddTorrent(cmd rpc.AddTorrentCmd) {
	if cmd.Info == nil {
		return
	}
	var trackers []string
	if mi, err := metainfo.New(bytes.NewReader(cmd.Info.Bytes)); err == nil {
		trackers = mi.GetTrackers()
	}
	id, err := s.addTorrent(cmd.Info, cmd.Path, trackers)
	if err != nil {
		log.Warningf("session: rpc add torrent: %s", err)
		return
	}
	tr, ok := s.tt.Get(id)
	if !ok {
		return
	}
	if !cmd.Start {
		tr.Pause()
	}
}

func (s *Session) rpcUpdateTorrent(cmd rpc.UpdateTorrentCmd) {
	hash, ok := util.IDToHash(cmd.ID)
	if !ok {
		return
	}
	tr, ok := s.tt.GetByHash(hash)
	if !ok {
		return
	}
	tr.RPCUpdate(cmd.Fields)
}

func (s *Session) rpcUpdateFile(cmd rpc.UpdateFileCmd) {
	hash, ok := util.IDToHash(cmd.TorrentID)
	if !ok {
		return
	}
	if _, ok := s.tt.GetByHash(hash); !ok {
		return
	}
	// File-level priority is the out-of-scope piece-picker's concern
	// (spec.md's Non-goals); the core only validates the target exists.
}

func (s *Session) rpcUpdateServer(cmd rpc.UpdateServerCmd) {
	if cmd.ThrottleUp != nil {
		s.cfg.ThrottleUpBps = *cmd.ThrottleUp
	}
	if cmd.ThrottleDown != nil {
		s.cfg.ThrottleDownBps = *cmd.ThrottleDown
	}
	if s.throttle != nil {
		s.throttle.SetULRate(s.cfg.ThrottleUpBps)
		s.throttle.SetDLRate(s.cfg.ThrottleDownBps)
	}
	s.io.Publish(rpc.CtlMessage{
		Kind: rpc.CtlUpdate,
		Updates: []rpc.ResourceUpdate{{
			Kind: rpc.UpdateThrottle,
			Throttle: rpc.ThrottleUpdate{
				ThrottleUp:   s.cfg.ThrottleUpBps,
				ThrottleDown: s.cfg.ThrottleDownBps,
			},
		}},
	})
}

func (s *Session) rpcRemoveTorrent(cmd rpc.IDCmd) {
	hash, ok := util.IDToHash(cmd.ID)
	if !ok {
		return
	}
	tr, ok := s.tt.GetByHash(hash)
	if !ok {
		return
	}
	s.tt.Remove(tr.ID(), hash)
	if s.throttle != nil {
		s.throttle.Remove(tr.ID())
	}
	s.io.SendDisk(disk.Request{Kind: disk.KindDeleteResume, TorrentID: tr.ID(), Hash: tr.Hash()})
}

type setStatus int

const (
	statusPause setStatus = iota
	statusResume
)

func (s *Session) rpcSetStatus(cmd rpc.IDCmd, which setStatus) {
	hash, ok := util.IDToHash(cmd.ID)
	if !ok {
		return
	}
	tr, ok := s.tt.GetByHash(hash)
	if !ok {
		return
	}
	if which == statusPause {
		tr.Pause()
	} else {
		tr.Resume()
	}
}

func (s *Session) rpcValidate(cmd rpc.ValidateCmd) {
	for _, id := range cmd.IDs {
		hash, ok := util.IDToHash(id)
		if !ok {
			continue
		}
		if tr, ok := s.tt.GetByHash(hash); ok {
			tr.Validate()
		}
	}
}

// rpcRemovePeer removes one peer from a torrent. Peer ids on the RPC
// surface are the decimal string form of the session-unique ids.PeerID a
// torrent assigned the connection when it was accepted.
func (s *Session) rpcRemovePeer(cmd rpc.PeerCmd) {
	hash, ok := util.IDToHash(cmd.TorrentID)
	if !ok {
		return
	}
	tr, ok := s.tt.GetByHash(hash)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(cmd.ID, 10, 64)
	if err != nil {
		return
	}
	peerID := ids.PeerID(n)
	tr.RemovePeer(peerID)
	s.peers.Remove(peerID)
}

// rpcRemoveTracker removes one tracker URL by its index in the torrent's
// tracker list.
func (s *Session) rpcRemoveTracker(cmd rpc.PeerCmd) {
	hash, ok := util.IDToHash(cmd.TorrentID)
	if !ok {
		return
	}
	tr, ok := s.tt.GetByHash(hash)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(cmd.ID)
	if err != nil {
		return
	}
	tr.RemoveTracker(idx)
}
