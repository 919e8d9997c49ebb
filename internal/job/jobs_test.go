package job

import (
	"context"
	"testing"
	"time"

	"github.com/aereaux/synapse/internal/cio"
	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/idalloc"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/metainfo"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/table"
	"github.com/aereaux/synapse/internal/torrent"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCIO records everything sent through it without driving a real
// Aggregator, so jobs can be exercised without goroutines or channels.
type fakeCIO struct {
	trackerSends []tracker.Request
	diskSends    []disk.Request
	published    []rpc.CtlMessage
}

func (f *fakeCIO) Poll(ctx context.Context) (cio.Event, bool)   { return cio.Event{}, false }
func (f *fakeCIO) SetTimer(d time.Duration, recurring bool) cio.TimerID { return 0 }
func (f *fakeCIO) StopTimer(id cio.TimerID)                      {}
func (f *fakeCIO) SendTracker(req tracker.Request)               { f.trackerSends = append(f.trackerSends, req) }
func (f *fakeCIO) SendDisk(req disk.Request)                     { f.diskSends = append(f.diskSends, req) }
func (f *fakeCIO) SendListener(req listener.Request)             {}
func (f *fakeCIO) Publish(msg rpc.CtlMessage)                    { f.published = append(f.published, msg) }
func (f *fakeCIO) NewHandle(tid ids.TorrentID) cio.Handle         { return cio.Handle{} }

func newFixtureTorrent(id ids.TorrentID, io cio.CIO) *torrent.Torrent {
	info := &metainfo.Info{Name: "fixture"}
	info.Hash[0] = byte(id)
	return torrent.New(id, info, "/tmp/fixture", []string{"http://tracker.example"}, idalloc.New(), [20]byte{}, io.NewHandle(id))
}

func TestTrackerUpdateSendsDueAnnounce(t *testing.T) {
	io := &fakeCIO{}
	tt := table.New()
	tr := newFixtureTorrent(1, io)
	tt.Insert(1, tr.Hash(), tr)

	ctx := &Context{IO: io, Clock: clock.NewMock()}
	j := &TrackerUpdate{}
	j.Execute(tt, ctx)

	require.Len(t, io.trackerSends, 1)
	assert.Equal(t, "http://tracker.example", io.trackerSends[0].URL)
}

func TestUnchokeUpdateHandlesEmptyPeerSet(t *testing.T) {
	io := &fakeCIO{}
	tt := table.New()
	tr := newFixtureTorrent(1, io)
	tt.Insert(1, tr.Hash(), tr)

	ctx := &Context{IO: io, Clock: clock.NewMock()}
	j := &UnchokeUpdate{}
	// Should not panic on an empty peer set.
	j.Execute(tt, ctx)
}

func TestSessionUpdatePublishesOnlyOnChange(t *testing.T) {
	io := &fakeCIO{}
	tt := table.New()
	tr := newFixtureTorrent(1, io)
	tt.Insert(1, tr.Hash(), tr)

	ctx := &Context{IO: io, Clock: clock.NewMock()}
	j := &SessionUpdate{}

	j.Execute(tt, ctx)
	require.Len(t, io.published, 1)
	require.Len(t, io.diskSends, 1)
	assert.Equal(t, disk.KindWriteResume, io.diskSends[0].Kind)

	// No transfer change since the last run: no second publication.
	j.Execute(tt, ctx)
	assert.Len(t, io.published, 1)

	tr.DeltaUpload(10)
	j.Execute(tt, ctx)
	assert.Len(t, io.published, 2)
}
