package metainfo

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // matches production's BEP3 info-hash definition.
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

type infoFixture struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Length      int64  `bencode:"length"`
	Private     int64  `bencode:"private"`
}

type metaInfoFixture struct {
	Info         infoFixture `bencode:"info"`
	Announce     string      `bencode:"announce"`
	AnnounceList [][]string  `bencode:"announce-list"`
	CreationDate int64       `bencode:"creation date"`
	Comment      string      `bencode:"comment"`
	CreatedBy    string      `bencode:"created by"`
}

func encodeFixture(t *testing.T, m metaInfoFixture) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bencode.NewEncoder(&buf).Encode(m))
	return buf.Bytes()
}

func TestNewParsesTorrentFileAndComputesHash(t *testing.T) {
	fixture := metaInfoFixture{
		Info: infoFixture{
			Name:        "example.iso",
			PieceLength: 16384,
			Pieces:      string(make([]byte, 40)), // two piece-hash slots
			Length:      32000,
		},
		Announce: "http://tracker.example/announce",
		Comment:  "a test torrent",
	}
	raw := encodeFixture(t, fixture)

	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, mi.Info)
	assert.Equal(t, "example.iso", mi.Info.Name)
	assert.Equal(t, int64(16384), mi.Info.PieceLength)
	assert.Equal(t, "http://tracker.example/announce", mi.Announce)
	assert.Equal(t, "a test torrent", mi.Comment)

	expectedHash := sha1.Sum(mi.Info.Bytes)
	assert.Equal(t, expectedHash, mi.Info.Hash)
}

func TestNewRejectsMissingInfoDict(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, bencode.NewEncoder(&buf).Encode(struct {
		Announce string `bencode:"announce"`
	}{Announce: "http://tracker.example/announce"}))

	_, err := New(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestGetTrackersDeduplicatesAnnounceFirst(t *testing.T) {
	mi := &MetaInfo{
		Announce: "http://primary/announce",
		AnnounceList: [][]string{
			{"http://primary/announce", "http://backup-a/announce"},
			{"http://backup-b/announce"},
		},
	}
	assert.Equal(t, []string{
		"http://primary/announce",
		"http://backup-a/announce",
		"http://backup-b/announce",
	}, mi.GetTrackers())
}

func TestGetTrackersSkipsEmptyAnnounce(t *testing.T) {
	mi := &MetaInfo{
		AnnounceList: [][]string{{"http://only/announce"}},
	}
	assert.Equal(t, []string{"http://only/announce"}, mi.GetTrackers())
}

func TestNewInfoHashesRawBytesAndCopiesThem(t *testing.T) {
	raw := encodeFixture(t, metaInfoFixture{
		Info: infoFixture{Name: "x", Pieces: string(make([]byte, 20))},
	})
	var outer struct {
		Info bencode.RawMessage `bencode:"info"`
	}
	require.NoError(t, bencode.NewDecoder(bytes.NewReader(raw)).Decode(&outer))

	info, err := NewInfo(outer.Info)
	require.NoError(t, err)
	assert.Equal(t, sha1.Sum(outer.Info), info.Hash)
	assert.Equal(t, uint32(1), info.NumPieces())

	outer.Info[0] = 0
	assert.NotEqual(t, byte(0), info.Bytes[0], "Info.Bytes must be an independent copy")
}

func TestNumPiecesDividesByHashLength(t *testing.T) {
	info := &Info{Pieces: string(make([]byte, 61))}
	assert.Equal(t, uint32(3), info.NumPieces())
}
