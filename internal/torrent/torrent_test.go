package torrent

import (
	"net"
	"testing"
	"time"

	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/idalloc"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/metainfo"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	net.Conn
	addr net.Addr
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.addr }
func (c *fakeConn) Close() error         { return nil }

func newFixture(t *testing.T) (*Torrent, *cio.Aggregator) {
	t.Helper()
	agg := cio.NewAggregator(
		make(chan tracker.Request, 4), make(chan tracker.Result, 4),
		make(chan disk.Request, 4), make(chan disk.Response, 4),
		make(chan listener.Request, 4), make(chan listener.Result, 4),
		make(chan rpc.Message, 4),
		nil,
	)
	t.Cleanup(agg.Close)
	info := &metainfo.Info{Name: "fixture", Length: 1024}
	info.Hash[0] = 0x42
	handle := agg.NewHandle(1)
	var peerIDSelf [20]byte
	copy(peerIDSelf[:], "-SY0001-abcdefghijkl")
	tr := New(1, info, "/tmp/fixture", []string{"http://tracker.example/announce"}, idalloc.New(), peerIDSelf, handle)
	return tr, agg
}

func TestNewTorrentStartsRunning(t *testing.T) {
	tr, _ := newFixture(t)
	assert.Equal(t, StatusRunning, tr.Status())
	assert.Equal(t, "fixture", tr.Name())
	assert.Equal(t, ids.TorrentID(1), tr.ID())
}

func TestPauseResumeValidate(t *testing.T) {
	tr, _ := newFixture(t)
	tr.Pause()
	assert.Equal(t, StatusPaused, tr.Status())
	tr.Resume()
	assert.Equal(t, StatusRunning, tr.Status())
	tr.Validate()
	assert.Equal(t, StatusValidating, tr.Status())
}

func TestAddRemovePeer(t *testing.T) {
	tr, _ := newFixture(t)
	addr := &net.TCPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 6881}
	id := tr.AddIncomingPeer(&fakeConn{addr: addr})
	assert.Len(t, tr.PublishPeers(), 1)

	tr.RemovePeer(id)
	assert.Len(t, tr.PublishPeers(), 0)
}

func TestRemoveTrackerByIndex(t *testing.T) {
	info := &metainfo.Info{Name: "multi"}
	tr := New(1, info, "/tmp", []string{"a", "b", "c"}, idalloc.New(), [20]byte{}, cio.Handle{})
	tr.RemoveTracker(1)
	tr.TickTrackerIfDue(time.Now(), func(req tracker.Request) {
		assert.Equal(t, "a", req.URL)
	})

	tr.RemoveTracker(99) // out of range, no-op
}

func TestDeltaUploadAccumulatesTotals(t *testing.T) {
	tr, _ := newFixture(t)
	tr.DeltaUpload(100)
	tr.DeltaUpload(50)
	assert.EqualValues(t, 150, tr.TotalUploaded())
}

func TestTickUnchokeRotatesChokeState(t *testing.T) {
	tr, _ := newFixture(t)
	for i := 0; i < 6; i++ {
		tr.AddIncomingPeer(&fakeConn{addr: &net.TCPAddr{Port: 1000 + i}})
	}
	tr.TickUnchoke(2)
	unchoked := 0
	for _, p := range tr.peers {
		if !p.Choking {
			unchoked++
		}
	}
	assert.Equal(t, 2, unchoked)
}

func TestTickTrackerIfDueRespectsSchedule(t *testing.T) {
	tr, _ := newFixture(t)
	now := time.Now()
	called := 0
	send := func(tracker.Request) { called++ }

	tr.TickTrackerIfDue(now, send)
	assert.Equal(t, 1, called)

	// Immediately due again should be a no-op, since the next announce was
	// scheduled 30 minutes out.
	tr.TickTrackerIfDue(now, send)
	assert.Equal(t, 1, called)

	tr.TickTrackerIfDue(now.Add(31*time.Minute), send)
	assert.Equal(t, 2, called)
}

func TestSetTrackerResponseReschedules(t *testing.T) {
	tr, _ := newFixture(t)
	tr.SetTrackerResponse(tracker.Response{Interval: time.Hour})
	assert.True(t, tr.nextTrackerAnnounce.After(time.Now().Add(30*time.Minute)))
}

func TestResumeRoundTrip(t *testing.T) {
	tr, _ := newFixture(t)
	tr.DeltaUpload(500)
	tr.DeltaDownload(250)
	tr.Pause()

	blob, err := tr.SerializeResume()
	require.NoError(t, err)

	info := &metainfo.Info{Name: "fixture"}
	restored := New(1, info, "", nil, idalloc.New(), [20]byte{}, cio.Handle{})
	require.NoError(t, restored.RestoreResume(blob))

	assert.EqualValues(t, 500, restored.TotalUploaded())
	assert.EqualValues(t, 250, restored.TotalDownloaded())
	assert.Equal(t, StatusPaused, restored.Status())
	assert.Equal(t, "/tmp/fixture", restored.path)
}

func TestRPCUpdateAppliesKnownFields(t *testing.T) {
	tr, _ := newFixture(t)
	tr.RPCUpdate(map[string]string{"path": "/new/path", "unknown": "ignored"})
	assert.Equal(t, "/new/path", tr.path)
}
