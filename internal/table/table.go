// Package table holds the Session Control Core's authoritative collections:
// the torrent table (indexed by id and by content hash) and the peer index
// (peer id -> owning torrent id). Only the control loop in package session
// is allowed to insert or remove entries; torrents themselves never reach
// back into these maps.
package table

import (
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/torrent"
)

// TorrentTable is the authoritative mapping from TorrentID to *torrent.Torrent,
// plus a secondary index from ContentHash to TorrentID. Invariants:
//   - both maps have identical key sets, projected through each torrent's hash
//   - no two torrents share a ContentHash
//   - the integer keys are exactly the ids issued that have not been removed
type TorrentTable struct {
	byID   map[ids.TorrentID]*torrent.Torrent
	byHash map[ids.ContentHash]ids.TorrentID
}

// New returns an empty TorrentTable.
func New() *TorrentTable {
	return &TorrentTable{
		byID:   make(map[ids.TorrentID]*torrent.Torrent),
		byHash: make(map[ids.ContentHash]ids.TorrentID),
	}
}

// Get looks up a torrent by id.
func (t *TorrentTable) Get(id ids.TorrentID) (*torrent.Torrent, bool) {
	tr, ok := t.byID[id]
	return tr, ok
}

// GetByHash looks up a torrent by content hash.
func (t *TorrentTable) GetByHash(hash ids.ContentHash) (*torrent.Torrent, bool) {
	id, ok := t.byHash[hash]
	if !ok {
		return nil, false
	}
	tr, ok := t.byID[id]
	return tr, ok
}

// HasHash reports whether a torrent with this content hash is already indexed.
func (t *TorrentTable) HasHash(hash ids.ContentHash) bool {
	_, ok := t.byHash[hash]
	return ok
}

// Insert adds tr to both indices under id. The caller (session.Session) is
// responsible for ensuring hash uniqueness before calling Insert.
func (t *TorrentTable) Insert(id ids.TorrentID, hash ids.ContentHash, tr *torrent.Torrent) {
	t.byID[id] = tr
	t.byHash[hash] = id
}

// Remove deletes the torrent with the given id from both indices and returns
// it, if present.
func (t *TorrentTable) Remove(id ids.TorrentID, hash ids.ContentHash) (*torrent.Torrent, bool) {
	tr, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)
	delete(t.byHash, hash)
	return tr, true
}

// Len returns the number of torrents currently tracked.
func (t *TorrentTable) Len() int {
	return len(t.byID)
}

// Each calls fn for every torrent in the table. fn must not insert or remove
// entries from t.
func (t *TorrentTable) Each(fn func(ids.TorrentID, *torrent.Torrent)) {
	for id, tr := range t.byID {
		fn(id, tr)
	}
}

// Hashes returns the set of content hashes currently indexed. Used by tests
// asserting the round-trip law in spec.md §8.
func (t *TorrentTable) Hashes() []ids.ContentHash {
	hashes := make([]ids.ContentHash, 0, len(t.byHash))
	for h := range t.byHash {
		hashes = append(hashes, h)
	}
	return hashes
}

// PeerIndex maps a PeerID to the TorrentID of the torrent that owns it. It is
// a back-reference only: peers are logically owned by their Torrent. A stale
// entry (pointing at a torrent id no longer in the table) causes a lookup
// miss, not unsafety.
type PeerIndex struct {
	byPeer map[ids.PeerID]ids.TorrentID
}

// NewPeerIndex returns an empty PeerIndex.
func NewPeerIndex() *PeerIndex {
	return &PeerIndex{byPeer: make(map[ids.PeerID]ids.TorrentID)}
}

// Insert records that peer belongs to torrent id.
func (p *PeerIndex) Insert(peer ids.PeerID, id ids.TorrentID) {
	p.byPeer[peer] = id
}

// Get returns the TorrentID owning peer, if any.
func (p *PeerIndex) Get(peer ids.PeerID) (ids.TorrentID, bool) {
	id, ok := p.byPeer[peer]
	return id, ok
}

// Remove deletes the entry for peer.
func (p *PeerIndex) Remove(peer ids.PeerID) {
	delete(p.byPeer, peer)
}

// Len returns the number of tracked peer entries.
func (p *PeerIndex) Len() int {
	return len(p.byPeer)
}
