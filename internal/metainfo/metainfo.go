// Package metainfo supports reading torrent files and parsing the bencoded
// "info" dictionary a torrent is identified by. The RPC surface this module
// exposes only ever needs the resulting Info value (principally its Hash);
// full metainfo handling — announce lists, multi-file layouts, the rest of
// the bencode surface — belongs to the out-of-scope metainfo/bencode
// collaborator named in spec.md §1, not the session control core itself.
package metainfo

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // BitTorrent info-hash is defined as SHA-1.
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// MetaInfo is the top-level .torrent file dictionary.
type MetaInfo struct {
	Info         *Info              `bencode:"-"`
	RawInfo      bencode.RawMessage `bencode:"info"`
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	CreationDate int64              `bencode:"creation date"`
	Comment      string             `bencode:"comment"`
	CreatedBy    string             `bencode:"created by"`
}

// New parses a bencoded torrent file from r.
func New(r io.Reader) (*MetaInfo, error) {
	var t MetaInfo
	if err := bencode.NewDecoder(r).Decode(&t); err != nil {
		return nil, err
	}
	if len(t.RawInfo) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.RawInfo)
	if err != nil {
		return nil, err
	}
	t.Info = info
	return &t, nil
}

// GetTrackers flattens Announce/AnnounceList into a single ordered list of
// tracker announce URLs, de-duplicated, Announce first.
func (m *MetaInfo) GetTrackers() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}

// Info is the parsed "info" dictionary: the part of a torrent that
// identifies its content hash and piece layout. The core only cares about
// Hash (its primary key) and Private (whether DHT/PEX should be used); the
// rest is opaque payload forwarded to the out-of-scope piece-picker/disk
// collaborator.
type Info struct {
	// Bytes is the raw bencoded info dict, needed to reconstruct Hash and to
	// persist/forward the dict unchanged.
	Bytes []byte
	// Hash is the SHA-1 of Bytes: the torrent's ContentHash.
	Hash [20]byte
	Name string `bencode:"name"`
	// PieceLength and NumPieces describe the out-of-scope piece layout; kept
	// here only because resume blobs reference piece counts.
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Length      int64  `bencode:"length"`
	Private     int64  `bencode:"private"`
}

// NewInfo parses a raw bencoded info dict.
func NewInfo(raw []byte) (*Info, error) {
	var info Info
	if err := bencode.NewDecoder(bytes.NewReader(raw)).Decode(&info); err != nil {
		return nil, err
	}
	info.Bytes = append([]byte(nil), raw...)
	info.Hash = sha1.Sum(raw)
	return &info, nil
}

// NumPieces returns the number of pieces implied by the pieces string.
func (i *Info) NumPieces() uint32 {
	return uint32(len(i.Pieces) / 20)
}
