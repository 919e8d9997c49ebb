// Package ids defines the small integer and fixed-size handle types shared
// across the session control core's packages (table, torrent, cio, throttle,
// job, and the subsystem adapters), so that those packages can refer to the
// same identity types without creating import cycles between them.
package ids

// TorrentID is a small integer handle assigned by the core, monotonically
// increasing and never reused within a process lifetime.
type TorrentID uint64

// PeerID is a small integer handle assigned by a torrent when it accepts a
// peer connection. Unique across all torrents within a process.
type PeerID uint64

// ContentHash is the 20-byte identifier of a torrent's metainfo.
type ContentHash [20]byte
