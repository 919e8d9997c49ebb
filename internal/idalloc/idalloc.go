// Package idalloc provides a process-wide, monotonically increasing id
// allocator. A single instance is shared by every torrent so that PeerIDs
// stay unique across torrents, as spec.md §3 requires, even though each
// torrent assigns its own peer ids independently.
package idalloc

import "sync/atomic"

// Allocator hands out unique uint64 ids. Zero value is ready to use.
type Allocator struct {
	next uint64
}

// New returns a fresh Allocator starting at 0.
func New() *Allocator {
	return &Allocator{}
}

// Next returns the next unused id.
func (a *Allocator) Next() uint64 {
	return atomic.AddUint64(&a.next, 1) - 1
}
