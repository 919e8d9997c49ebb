// Package tracker is the core-facing interface to the out-of-scope tracker
// subsystem (spec.md §1). The control loop never speaks the tracker wire
// protocol itself; it only issues Requests and consumes Responses carrying
// peer endpoints, exactly as spec.md §4.4's "Tracker(ok)"/"Tracker(err)"
// events describe.
package tracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aereaux/synapse/internal/ids"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/zeebo/bencode"
)

// AnnounceStats is the transfer-state snapshot a torrent reports to its
// tracker on each announce. Adapted from the teacher's tracker.Torrent type,
// generalized to carry the torrent id the core uses for routing instead of
// identifying the torrent solely by info hash.
type AnnounceStats struct {
	TorrentID       ids.TorrentID
	Hash            ids.ContentHash
	PeerID          [20]byte
	Port            int
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64
}

// Request is one announce request, addressed to a specific tracker URL.
type Request struct {
	URL   string
	Stats AnnounceStats
}

// Response is a successful announce result.
type Response struct {
	TorrentID ids.TorrentID
	Peers     []*net.TCPAddr
	Interval  time.Duration
}

// Result pairs a Response with an error; exactly one is set. The control
// loop's cio.Event wraps this directly (spec.md §6: Event kinds consumed by
// the core include Tracker(Result<Response>)).
type Result struct {
	Response Response
	Err      error
}

type bencodeAnnounceResponse struct {
	Interval int64  `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// Client announces torrents over HTTP, retrying transient failures with
// exponential backoff (github.com/cenkalti/backoff/v4, the same retry
// family uber-kraken depends on for its outbound HTTP calls) and decoding
// the bencoded response body with the teacher's own bencode package.
type Client struct {
	httpClient *http.Client
}

// NewClient returns an HTTP tracker client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Run processes announce requests until ctx is cancelled, sending one Result
// per Request on results.
func (c *Client) Run(ctx context.Context, requests <-chan Request, results chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			go func(req Request) {
				resp, err := c.announceWithRetry(ctx, req)
				result := Result{Err: err}
				if err == nil {
					result.Response = resp
				}
				select {
				case results <- result:
				case <-ctx.Done():
				}
			}(req)
		}
	}
}

func (c *Client) announceWithRetry(ctx context.Context, req Request) (Response, error) {
	var resp Response
	operation := func() error {
		r, err := c.announce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return Response{}, errors.Wrap(err, "announce")
	}
	return resp, nil
}

func (c *Client) announce(ctx context.Context, req Request) (Response, error) {
	v := url.Values{}
	v.Set("info_hash", string(req.Stats.Hash[:]))
	v.Set("peer_id", string(req.Stats.PeerID[:]))
	v.Set("port", strconv.Itoa(req.Stats.Port))
	v.Set("uploaded", strconv.FormatInt(req.Stats.BytesUploaded, 10))
	v.Set("downloaded", strconv.FormatInt(req.Stats.BytesDownloaded, 10))
	v.Set("left", strconv.FormatInt(req.Stats.BytesLeft, 10))
	v.Set("compact", "1")

	u := fmt.Sprintf("%s?%s", req.URL, v.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var body bencodeAnnounceResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Response{}, errors.Wrap(err, "decode announce response")
	}
	return Response{
		TorrentID: req.Stats.TorrentID,
		Peers:     parseCompactPeers(body.Peers),
		Interval:  time.Duration(body.Interval) * time.Second,
	}, nil
}

func parseCompactPeers(raw string) []*net.TCPAddr {
	var addrs []*net.TCPAddr
	for i := 0; i+6 <= len(raw); i += 6 {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3])
		port := int(raw[i+4])<<8 | int(raw[i+5])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
	}
	return addrs
}
