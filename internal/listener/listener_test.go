package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aereaux/synapse/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndAddr(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer a.ln.Close()
	assert.NotEmpty(t, a.Addr().String())
}

func TestHandshakeParsesPreamble(t *testing.T) {
	a := &Acceptor{}
	client, server := net.Pipe()
	defer client.Close()

	results := make(chan Result, 1)
	go a.handshake(context.Background(), server, results)

	var frame []byte
	frame = append(frame, byte(len(protocolName)))
	frame = append(frame, []byte(protocolName)...)
	var reserved [8]byte
	frame = append(frame, reserved[:]...)
	var hash [20]byte
	hash[0] = 0x11
	frame = append(frame, hash[:]...)
	var peerID [20]byte
	peerID[0] = 0x22
	frame = append(frame, peerID[:]...)

	go func() {
		client.Write(frame)
	}()

	select {
	case res := <-results:
		require.NoError(t, res.Err)
		assert.Equal(t, hash, [20]byte(res.Message.Hash))
		assert.Equal(t, peerID, res.Message.PeerID)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never produced a result")
	}
}

func TestRunStopsOnShutdownRequest(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	requests := make(chan Request, 1)
	results := make(chan Result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.Run(ctx, requests, results)
		close(done)
	}()

	requests <- Request{Kind: KindShutdown}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after shutdown request")
	}
}

func TestRunDialsOnConnectRequestAndProducesResult(t *testing.T) {
	remote, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer remote.ln.Close()

	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	requests := make(chan Request, 1)
	results := make(chan Result, 2)
	remoteResults := make(chan Result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Run(ctx, requests, results)
	go func() {
		conn, err := remote.ln.Accept()
		if err != nil {
			return
		}
		remote.handshake(ctx, conn, remoteResults)
	}()

	var hash ids.ContentHash
	hash[0] = 0x33
	var peerID [20]byte
	peerID[0] = 0x44
	requests <- Request{Kind: KindConnect, Addr: remote.Addr(), Hash: hash, PeerID: peerID}

	select {
	case res := <-remoteResults:
		require.NoError(t, res.Err)
		assert.Equal(t, hash, ids.ContentHash(res.Message.Hash))
		assert.Equal(t, peerID, res.Message.PeerID)
	case <-time.After(2 * time.Second):
		t.Fatal("remote side never received the dialed preamble")
	}
}
