// Package listener is the core-facing interface to the out-of-scope peer
// listener subsystem (spec.md §1). By the time a connection reaches the
// core as a Message, handshake has already completed: the core only ever
// sees the content hash requested, the remote peer id, and the reserved
// extension-bits field (spec.md §4.4, "Listener(ok)"). The full wire
// handshake (BEP 3 + extensions) is out of scope; this package keeps only
// the minimal preamble read needed to produce that Message.
package listener

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"github.com/aereaux/synapse/internal/ids"
	"github.com/pkg/errors"
)

// Message is an inbound peer connection that has completed handshake.
type Message struct {
	Hash     ids.ContentHash
	PeerID   [20]byte
	Reserved [8]byte
	Conn     net.Conn
}

// Kind discriminates Requests sent to the listener subsystem.
type Kind int

const (
	// KindShutdown asks the listener to stop accepting and close.
	KindShutdown Kind = iota
	// KindConnect asks the listener subsystem to dial a peer address and
	// complete the outbound side of the BEP 3 preamble exchange (spec.md
	// §4.4's Tracker(ok) handler: "attempt an outgoing connect to each"
	// tracker-returned peer endpoint).
	KindConnect
)

// Request is a command sent to the listener subsystem. Addr/Hash/PeerID are
// only set for KindConnect.
type Request struct {
	Kind   Kind
	Addr   net.Addr
	Hash   ids.ContentHash
	PeerID [20]byte
}

// Result pairs a Message with an error; exactly one is set.
type Result struct {
	Message Message
	Err     error
}

// Acceptor accepts inbound TCP connections and reads the fixed-size BEP 3
// preamble (protocol name, reserved bytes, info hash, peer id) needed to
// route the connection to a torrent. It does not negotiate extensions or
// encryption — that remains the out-of-scope peer wire-protocol's job.
type Acceptor struct {
	ln net.Listener
}

// Listen opens a TCP listener on addr.
func Listen(addr string) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	return &Acceptor{ln: ln}, nil
}

// Addr returns the address the acceptor is bound to.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Run accepts connections until ctx is cancelled or a KindShutdown request
// arrives on requests, sending one Result per accepted connection on
// results.
func (a *Acceptor) Run(ctx context.Context, requests <-chan Request, results chan<- Result) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				a.ln.Close()
				return
			case req, ok := <-requests:
				if !ok || req.Kind == KindShutdown {
					a.ln.Close()
					return
				}
				if req.Kind == KindConnect {
					go a.dial(ctx, req, results)
				}
			}
		}
	}()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case results <- Result{Err: errors.Wrap(err, "accept")}:
			case <-ctx.Done():
				return
			}
			continue
		}
		go a.handshake(ctx, conn, results)
	}
}

const protocolName = "BitTorrent protocol"

const dialTimeout = 10 * time.Second

// dial opens an outbound connection to req.Addr, writes our side of the BEP
// 3 preamble, and reuses handshake to parse the remote's reply (spec.md
// §4.4's Tracker(ok) handler: connects out to tracker-returned peers).
func (a *Acceptor) dial(ctx context.Context, req Request, results chan<- Result) {
	conn, err := net.DialTimeout("tcp", req.Addr.String(), dialTimeout)
	if err != nil {
		a.send(ctx, results, Result{Err: errors.Wrap(err, "dial")})
		return
	}
	if err := writePreamble(conn, req.Hash, req.PeerID); err != nil {
		conn.Close()
		a.send(ctx, results, Result{Err: errors.Wrap(err, "write preamble")})
		return
	}
	a.handshake(ctx, conn, results)
}

func writePreamble(conn net.Conn, hash ids.ContentHash, peerID [20]byte) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(protocolName)))
	buf.WriteString(protocolName)
	var reserved [8]byte
	buf.Write(reserved[:])
	buf.Write(hash[:])
	buf.Write(peerID[:])
	_, err := conn.Write(buf.Bytes())
	return err
}

func (a *Acceptor) handshake(ctx context.Context, conn net.Conn, results chan<- Result) {
	r := bufio.NewReader(conn)
	var pstrlen [1]byte
	if _, err := r.Read(pstrlen[:]); err != nil {
		conn.Close()
		a.send(ctx, results, Result{Err: errors.Wrap(err, "read pstrlen")})
		return
	}
	preamble := make([]byte, int(pstrlen[0])+8+20+20)
	if _, err := readFull(r, preamble); err != nil {
		conn.Close()
		a.send(ctx, results, Result{Err: errors.Wrap(err, "read preamble")})
		return
	}
	off := int(pstrlen[0])
	var msg Message
	copy(msg.Reserved[:], preamble[off:off+8])
	copy(msg.Hash[:], preamble[off+8:off+28])
	copy(msg.PeerID[:], preamble[off+28:off+48])
	msg.Conn = conn
	a.send(ctx, results, Result{Message: msg})
}

func (a *Acceptor) send(ctx context.Context, results chan<- Result, r Result) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
