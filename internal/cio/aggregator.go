package cio

import (
	"context"
	"sync"
	"time"

	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/logger"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/tracker"
)

var log = logger.New("cio")

// CIO is the interface the control loop and every collaborator (torrent,
// throttle, job) program against, rather than the concrete Aggregator. Kept
// narrow on purpose: Poll is the only way anything enters the control loop.
type CIO interface {
	// Poll blocks until the next Event is available or ctx is cancelled.
	Poll(ctx context.Context) (Event, bool)

	// SetTimer registers a timer that fires an EventTimer Event after d, and
	// every d thereafter if recurring.
	SetTimer(d time.Duration, recurring bool) TimerID
	// StopTimer cancels a previously registered timer.
	StopTimer(id TimerID)

	SendTracker(req tracker.Request)
	SendDisk(req disk.Request)
	SendListener(req listener.Request)
	Publish(msg rpc.CtlMessage)

	// NewHandle returns a view scoped to one torrent, used to push peer
	// traffic events without every caller needing to stamp the torrent id.
	NewHandle(tid ids.TorrentID) Handle
}

// Handle is a torrent-scoped view over a CIO, handed to package torrent so it
// can report peer traffic without holding a reference to the aggregator's
// internals.
type Handle struct {
	tid ids.TorrentID
	agg *Aggregator
}

// PushPeer reports a peer-traffic event for the handle's torrent.
func (h Handle) PushPeer(peer ids.PeerID, bytes int, choke, choked, closed bool) {
	h.agg.pushPeer(PeerMessage{TorrentID: h.tid, PeerID: peer, Bytes: bytes, Choke: choke, Choked: choked, Closed: closed})
}

// Aggregator is the concrete CIO: it fans in tracker/disk/listener/rpc
// channels and an internal timer wheel into one buffered event channel,
// mirroring the teacher's torrent.run() select loop generalized to an
// arbitrary number of sources feeding a single consumer.
type Aggregator struct {
	trackerResults  chan tracker.Result
	diskResults     chan disk.Response
	listenerResults chan listener.Result
	rpcCommands     <-chan rpc.Message
	peerEvents      chan PeerMessage

	trackerRequests chan<- tracker.Request
	diskRequests    chan<- disk.Request
	listenerReqs    chan<- listener.Request
	publisher       interface{ Publish(rpc.CtlMessage) }

	events chan Event

	mu       sync.Mutex
	timers   map[TimerID]*timerEntry
	nextID   TimerID
	wg       sync.WaitGroup
	closedCh chan struct{}
	once     sync.Once
}

type timerEntry struct {
	stop chan struct{}
}

// NewAggregator wires the given subsystem channels into one Aggregator. The
// *Requests channels are the send side the control loop uses to dispatch
// work; the *Results channels are the subsystem's reply side.
func NewAggregator(
	trackerRequests chan<- tracker.Request,
	trackerResults chan tracker.Result,
	diskRequests chan<- disk.Request,
	diskResults chan disk.Response,
	listenerRequests chan<- listener.Request,
	listenerResults chan listener.Result,
	rpcCommands <-chan rpc.Message,
	publisher interface{ Publish(rpc.CtlMessage) },
) *Aggregator {
	a := &Aggregator{
		trackerResults:  trackerResults,
		diskResults:     diskResults,
		listenerResults: listenerResults,
		rpcCommands:     rpcCommands,
		peerEvents:      make(chan PeerMessage, 256),
		trackerRequests: trackerRequests,
		diskRequests:    diskRequests,
		listenerReqs:    listenerRequests,
		publisher:       publisher,
		events:          make(chan Event, 256),
		timers:          make(map[TimerID]*timerEntry),
		closedCh:        make(chan struct{}),
	}
	a.wg.Add(5)
	go a.pump(func() (Event, bool) {
		r, ok := <-a.trackerResults
		return Event{Kind: EventTracker, Tracker: r}, ok
	})
	go a.pump(func() (Event, bool) {
		r, ok := <-a.diskResults
		return Event{Kind: EventDisk, Disk: r}, ok
	})
	go a.pump(func() (Event, bool) {
		r, ok := <-a.listenerResults
		return Event{Kind: EventListener, Listener: r}, ok
	})
	go a.pump(func() (Event, bool) {
		r, ok := <-a.rpcCommands
		return Event{Kind: EventRPC, RPC: r}, ok
	})
	go a.pump(func() (Event, bool) {
		r, ok := <-a.peerEvents
		return Event{Kind: EventPeer, Peer: r}, ok
	})
	return a
}

func (a *Aggregator) pump(recv func() (Event, bool)) {
	defer a.wg.Done()
	for {
		ev, ok := recv()
		if !ok {
			return
		}
		select {
		case a.events <- ev:
		case <-a.closedCh:
			return
		}
	}
}

// Poll implements CIO.
func (a *Aggregator) Poll(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-a.events:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close stops all internal pumps and timers. Safe to call once.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		close(a.closedCh)
		a.mu.Lock()
		for _, t := range a.timers {
			close(t.stop)
		}
		a.mu.Unlock()
	})
}

// SetTimer implements CIO.
func (a *Aggregator) SetTimer(d time.Duration, recurring bool) TimerID {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	stop := make(chan struct{})
	a.timers[id] = &timerEntry{stop: stop}
	a.mu.Unlock()

	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				select {
				case a.events <- Event{Kind: EventTimer, Timer: id}:
				case <-a.closedCh:
					return
				}
				if !recurring {
					return
				}
			case <-stop:
				return
			case <-a.closedCh:
				return
			}
		}
	}()
	return id
}

// StopTimer implements CIO.
func (a *Aggregator) StopTimer(id TimerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[id]; ok {
		close(t.stop)
		delete(a.timers, id)
	}
}

// SendTracker implements CIO.
func (a *Aggregator) SendTracker(req tracker.Request) {
	select {
	case a.trackerRequests <- req:
	case <-a.closedCh:
	}
}

// SendDisk implements CIO.
func (a *Aggregator) SendDisk(req disk.Request) {
	select {
	case a.diskRequests <- req:
	case <-a.closedCh:
	}
}

// SendListener implements CIO.
func (a *Aggregator) SendListener(req listener.Request) {
	select {
	case a.listenerReqs <- req:
	case <-a.closedCh:
	}
}

// Publish implements CIO.
func (a *Aggregator) Publish(msg rpc.CtlMessage) {
	if a.publisher == nil {
		return
	}
	a.publisher.Publish(msg)
}

// NewHandle implements CIO.
func (a *Aggregator) NewHandle(tid ids.TorrentID) Handle {
	return Handle{tid: tid, agg: a}
}

func (a *Aggregator) pushPeer(msg PeerMessage) {
	select {
	case a.peerEvents <- msg:
	case <-a.closedCh:
		log.Warningln("cio: dropping peer event after shutdown")
	}
}
