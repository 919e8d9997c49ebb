package job

import (
	"time"

	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/logger"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/table"
	"github.com/aereaux/synapse/internal/torrent"
	"github.com/aereaux/synapse/internal/tracker"
)

var log = logger.New("job")

// TrackerUpdate asks each torrent to announce to its tracker if due.
// Interval matches the teacher's default announce backoff floor.
type TrackerUpdate struct{}

func (*TrackerUpdate) Name() string           { return "tracker-update" }
func (*TrackerUpdate) Interval() time.Duration { return 60 * time.Second }

func (*TrackerUpdate) Execute(tt *table.TorrentTable, ctx *Context) {
	now := ctx.Clock.Now()
	tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		tr.TickTrackerIfDue(now, func(req tracker.Request) {
			ctx.IO.SendTracker(req)
		})
	})
}

// UnchokeUpdate runs the tit-for-tat unchoke rotation on every torrent,
// adapted from the teacher's session/timers.go tickUnchoke.
type UnchokeUpdate struct {
	maxUnchoked int
}

func (*UnchokeUpdate) Name() string           { return "unchoke-update" }
func (*UnchokeUpdate) Interval() time.Duration { return 15 * time.Second }

func (u *UnchokeUpdate) Execute(tt *table.TorrentTable, ctx *Context) {
	max := u.maxUnchoked
	if max == 0 {
		max = 4
	}
	tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		tr.TickUnchoke(max)
	})
}

// SessionUpdate publishes the coalesced per-torrent transfer rates over RPC
// (spec.md §4.4.2: "sent only when something changed since the last
// publication").
type SessionUpdate struct {
	lastUp, lastDown map[ids.TorrentID]uint64
}

func (*SessionUpdate) Name() string           { return "session-update" }
func (*SessionUpdate) Interval() time.Duration { return 60 * time.Second }

func (s *SessionUpdate) Execute(tt *table.TorrentTable, ctx *Context) {
	if s.lastUp == nil {
		s.lastUp = make(map[ids.TorrentID]uint64)
		s.lastDown = make(map[ids.TorrentID]uint64)
	}
	var updates []rpc.ResourceUpdate
	tt.Each(func(id ids.TorrentID, tr *torrent.Torrent) {
		up := uint64(tr.TotalUploaded())
		down := uint64(tr.TotalDownloaded())
		lastUp, seen := s.lastUp[id]
		if !seen || up != lastUp || down != s.lastDown[id] {
			s.lastUp[id] = up
			s.lastDown[id] = down
			updates = append(updates, rpc.ResourceUpdate{
				Kind: rpc.UpdateServerTransfer,
				ServerTransfer: rpc.ServerTransferUpdate{
					ID:              hashHex(tr.Hash()),
					RateUp:          uint64(tr.UploadRate()),
					RateDown:        uint64(tr.DownloadRate()),
					TransferredUp:   up,
					TransferredDown: down,
				},
			})
		}
		blob, err := tr.SerializeResume()
		if err != nil {
			log.Warningf("job: resume serialize failed for torrent %d: %s", id, err)
			return
		}
		ctx.IO.SendDisk(disk.Request{Kind: disk.KindWriteResume, TorrentID: id, Hash: tr.Hash(), Data: blob})
	})
	if len(updates) > 0 {
		ctx.IO.Publish(rpc.CtlMessage{Kind: rpc.CtlUpdate, Updates: updates})
	}
}

func hashHex(h ids.ContentHash) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 40)
	for i, c := range h {
		b[i*2] = digits[c>>4]
		b[i*2+1] = digits[c&0xf]
	}
	return string(b)
}
