// Package recvbuf implements the receiver's reordering buffer: a set of
// in-window received data packets keyed by sequence number, each tracking
// how much of its payload has already been written to the application so
// that a single packet can be drained across multiple writable events.
package recvbuf

import "sync"

// Entry is one buffered, received-but-not-fully-delivered packet.
type Entry struct {
	Seqno    uint32
	Payload  []byte
	Progress int // bytes of Payload already written to the application
}

// Remaining returns the payload bytes not yet delivered.
func (e Entry) Remaining() []byte {
	return e.Payload[e.Progress:]
}

// Done reports whether the entire payload has been delivered.
func (e Entry) Done() bool {
	return e.Progress >= len(e.Payload)
}

// Buffer is a seqno-keyed set of Entry. Grounded on the teacher corpus's
// tcpRecvBuffer (tinyrange-cc internal/netstack/tcp.go), adapted from
// byte-range out-of-order segments to per-packet entries keyed by their own
// sequence number, matching this protocol's per-packet cumulative ACK.
type Buffer struct {
	mu      sync.Mutex
	entries map[uint32]*Entry
}

// New creates an empty receive buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[uint32]*Entry)}
}

// Insert adds payload to the buffer under seqno. A second insert at the
// same seqno is a no-op — insertion is idempotent, per spec §4.3.
func (b *Buffer) Insert(seqno uint32, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[seqno]; exists {
		return
	}
	b.entries[seqno] = &Entry{Seqno: seqno, Payload: payload}
}

// Contains reports whether seqno is already buffered (used to detect
// duplicates before inserting).
func (b *Buffer) Contains(seqno uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[seqno]
	return ok
}

// Lookup returns the entry at seqno, if present.
func (b *Buffer) Lookup(seqno uint32) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[seqno]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AdvanceProgress records that n more bytes of the entry at seqno have been
// written to the application.
func (b *Buffer) AdvanceProgress(seqno uint32, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[seqno]; ok {
		e.Progress += n
	}
}

// Advance removes every entry with seqno < nextToDeliver, once its payload
// has been fully written to the application.
func (b *Buffer) Advance(nextToDeliver uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for seqno := range b.entries {
		if seqno < nextToDeliver {
			delete(b.entries, seqno)
		}
	}
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
