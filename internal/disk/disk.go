// Package disk is the core-facing interface to the out-of-scope disk
// subsystem (spec.md §1: "the piece-picker and file writer"). The session
// control core only ever needs three disk operations at its own level: read,
// write and delete a torrent's resume blob. Piece-level I/O is the opaque Torrent
// collaborator's concern and never crosses this boundary.
package disk

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/aereaux/synapse/internal/ids"
	"github.com/pkg/errors"
)

// Kind discriminates disk requests/responses.
type Kind int

const (
	// KindReadResume asks for a torrent's resume blob to be read from disk.
	KindReadResume Kind = iota
	// KindWriteResume asks for a torrent's resume blob to be written to disk.
	KindWriteResume
	// KindDeleteResume asks for a torrent's resume blob to be deleted, e.g. on
	// RemoveTorrent (spec.md §4.4.1: "ask the torrent to delete its on-disk
	// data before dropping").
	KindDeleteResume
	// KindShutdown asks the disk subsystem to drain and exit.
	KindShutdown
)

// Request is a command sent to the disk subsystem.
type Request struct {
	Kind      Kind
	TorrentID ids.TorrentID
	Hash      ids.ContentHash
	Data      []byte
}

// Response is what the disk subsystem reports back.
type Response struct {
	Kind      Kind
	torrentID ids.TorrentID
	Data      []byte
	Err       error
}

// TID projects the owning TorrentID out of a Response, the lookup key the
// control loop uses to route the response back to its torrent (spec.md §4.4).
func (r Response) TID() ids.TorrentID { return r.torrentID }

// Worker is a tiny goroutine-pool disk subsystem: it resolves resume blob
// paths under dir and performs blocking reads/writes off the control loop's
// goroutine, the same "dedicated worker, channel handoff" shape the teacher
// uses for its allocator/piecewriter/verifier workers.
type Worker struct {
	dir     string
	workers int
}

// NewWorker returns a Worker rooted at dir (the session directory).
func NewWorker(dir string, workers int) *Worker {
	if workers < 1 {
		workers = 1
	}
	return &Worker{dir: dir, workers: workers}
}

// Run processes requests until ctx is cancelled or a KindShutdown request is
// received, sending one Response per Request on results.
func (w *Worker) Run(ctx context.Context, requests <-chan Request, results chan<- Response) {
	sem := make(chan struct{}, w.workers)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			if req.Kind == KindShutdown {
				return
			}
			sem <- struct{}{}
			go func(req Request) {
				defer func() { <-sem }()
				resp := w.handle(req)
				select {
				case results <- resp:
				case <-ctx.Done():
				}
			}(req)
		}
	}
}

func (w *Worker) handle(req Request) Response {
	path := filepath.Join(w.dir, hex(req.Hash))
	switch req.Kind {
	case KindReadResume:
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return Response{Kind: req.Kind, torrentID: req.TorrentID, Err: errors.Wrap(err, "read resume")}
		}
		return Response{Kind: req.Kind, torrentID: req.TorrentID, Data: data}
	case KindWriteResume:
		if err := ioutil.WriteFile(path, req.Data, 0640); err != nil {
			return Response{Kind: req.Kind, torrentID: req.TorrentID, Err: errors.Wrap(err, "write resume")}
		}
		return Response{Kind: req.Kind, torrentID: req.TorrentID}
	case KindDeleteResume:
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return Response{Kind: req.Kind, torrentID: req.TorrentID, Err: errors.Wrap(err, "delete resume")}
		}
		return Response{Kind: req.Kind, torrentID: req.TorrentID}
	default:
		return Response{Kind: req.Kind, torrentID: req.TorrentID, Err: errors.New("unknown disk request kind")}
	}
}

func hex(h ids.ContentHash) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 40)
	for i, c := range h {
		b[i*2] = digits[c>>4]
		b[i*2+1] = digits[c&0xf]
	}
	return string(b)
}
