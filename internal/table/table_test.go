package table

import (
	"testing"

	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/idalloc"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/metainfo"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/torrent"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator() *cio.Aggregator {
	return cio.NewAggregator(
		make(chan tracker.Request, 1), make(chan tracker.Result, 1),
		make(chan disk.Request, 1), make(chan disk.Response, 1),
		make(chan listener.Request, 1), make(chan listener.Result, 1),
		make(chan rpc.Message, 1),
		nil,
	)
}

func newTestTorrent(t *testing.T, id ids.TorrentID, hashByte byte) *torrent.Torrent {
	t.Helper()
	info := &metainfo.Info{Name: "fixture"}
	info.Hash[0] = hashByte
	agg := newTestAggregator()
	t.Cleanup(agg.Close)
	handle := agg.NewHandle(id)
	var peerID [20]byte
	return torrent.New(id, info, "/tmp/fixture", nil, idalloc.New(), peerID, handle)
}

func TestTorrentTableInsertLookupRemove(t *testing.T) {
	tt := New()
	tr := newTestTorrent(t, 1, 0xAA)
	hash := tr.Hash()

	assert.False(t, tt.HasHash(hash))
	tt.Insert(1, hash, tr)

	got, ok := tt.Get(1)
	require.True(t, ok)
	assert.Same(t, tr, got)

	byHash, ok := tt.GetByHash(hash)
	require.True(t, ok)
	assert.Same(t, tr, byHash)
	assert.True(t, tt.HasHash(hash))
	assert.Equal(t, 1, tt.Len())

	removed, ok := tt.Remove(1, hash)
	require.True(t, ok)
	assert.Same(t, tr, removed)
	assert.Equal(t, 0, tt.Len())
	assert.False(t, tt.HasHash(hash))

	_, ok = tt.Get(1)
	assert.False(t, ok)
}

func TestTorrentTableRemoveMissingIsNoop(t *testing.T) {
	tt := New()
	_, ok := tt.Remove(99, ids.ContentHash{})
	assert.False(t, ok)
}

func TestTorrentTableEachVisitsAllEntries(t *testing.T) {
	tt := New()
	tr1 := newTestTorrent(t, 1, 0x01)
	tr2 := newTestTorrent(t, 2, 0x02)
	tt.Insert(1, tr1.Hash(), tr1)
	tt.Insert(2, tr2.Hash(), tr2)

	seen := make(map[ids.TorrentID]bool)
	tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		seen[id] = true
	})
	assert.Len(t, seen, 2)
	assert.True(t, seen[1])
	assert.True(t, seen[2])

	hashes := tt.Hashes()
	assert.Len(t, hashes, 2)
}

func TestPeerIndexInsertLookupRemove(t *testing.T) {
	pi := NewPeerIndex()
	pi.Insert(7, 1)

	id, ok := pi.Get(7)
	require.True(t, ok)
	assert.Equal(t, ids.TorrentID(1), id)
	assert.Equal(t, 1, pi.Len())

	pi.Remove(7)
	_, ok = pi.Get(7)
	assert.False(t, ok)
	assert.Equal(t, 0, pi.Len())
}
