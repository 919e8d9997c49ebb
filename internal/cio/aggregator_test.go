package cio

import (
	"context"
	"testing"
	"time"

	"github.com/aereaux/synapse/internal/disk"
	"github.com/aereaux/synapse/internal/ids"
	"github.com/aereaux/synapse/internal/listener"
	"github.com/aereaux/synapse/internal/rpc"
	"github.com/aereaux/synapse/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	received []rpc.CtlMessage
}

func (f *fakePublisher) Publish(msg rpc.CtlMessage) { f.received = append(f.received, msg) }

func newFixture() (*Aggregator, chan tracker.Result, chan disk.Response, chan listener.Result, chan rpc.Message, *fakePublisher) {
	trackerResults := make(chan tracker.Result, 4)
	diskResults := make(chan disk.Response, 4)
	listenerResults := make(chan listener.Result, 4)
	rpcCommands := make(chan rpc.Message, 4)
	pub := &fakePublisher{}
	agg := NewAggregator(
		make(chan tracker.Request, 4), trackerResults,
		make(chan disk.Request, 4), diskResults,
		make(chan listener.Request, 4), listenerResults,
		rpcCommands,
		pub,
	)
	return agg, trackerResults, diskResults, listenerResults, rpcCommands, pub
}

func TestAggregatorFansInTrackerResult(t *testing.T) {
	agg, trackerResults, _, _, _, _ := newFixture()
	defer agg.Close()

	trackerResults <- tracker.Result{Response: tracker.Response{TorrentID: 7}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok := agg.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, EventTracker, ev.Kind)
	assert.Equal(t, ids.TorrentID(7), ev.Tracker.Response.TorrentID)
}

func TestAggregatorFansInRPCCommand(t *testing.T) {
	agg, _, _, _, rpcCommands, _ := newFixture()
	defer agg.Close()

	rpcCommands <- rpc.Message{Kind: rpc.CmdPause}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok := agg.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, EventRPC, ev.Kind)
	assert.Equal(t, rpc.CmdPause, ev.RPC.Kind)
}

func TestAggregatorPushPeerDeliversPeerEvent(t *testing.T) {
	agg, _, _, _, _, _ := newFixture()
	defer agg.Close()

	h := agg.NewHandle(3)
	h.PushPeer(9, 128, false, false, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok := agg.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, EventPeer, ev.Kind)
	assert.Equal(t, ids.TorrentID(3), ev.Peer.TorrentID)
	assert.Equal(t, ids.PeerID(9), ev.Peer.PeerID)
	assert.Equal(t, 128, ev.Peer.Bytes)
}

func TestAggregatorPublishForwardsToPublisher(t *testing.T) {
	agg, _, _, _, _, pub := newFixture()
	defer agg.Close()

	agg.Publish(rpc.CtlMessage{Kind: rpc.CtlExtant})
	require.Len(t, pub.received, 1)
	assert.Equal(t, rpc.CtlExtant, pub.received[0].Kind)
}

func TestSetTimerFiresTimerEvent(t *testing.T) {
	agg, _, _, _, _, _ := newFixture()
	defer agg.Close()

	id := agg.SetTimer(20*time.Millisecond, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok := agg.Poll(ctx)
	require.True(t, ok)
	assert.Equal(t, EventTimer, ev.Kind)
	assert.Equal(t, id, ev.Timer)
}

func TestStopTimerPreventsFurtherEvents(t *testing.T) {
	agg, _, _, _, _, _ := newFixture()
	defer agg.Close()

	id := agg.SetTimer(10*time.Millisecond, true)
	agg.StopTimer(id)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := agg.Poll(ctx)
	assert.False(t, ok)
}

func TestPollReturnsFalseOnContextCancel(t *testing.T) {
	agg, _, _, _, _, _ := newFixture()
	defer agg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := agg.Poll(ctx)
	assert.False(t, ok)
}
