package artifact

import "sync"

// Buffer bridges the tool goroutine that generates an image and the
// request goroutine that renders the response. The generation tool runs
// on whatever goroutine the agent loop dispatched it to, so all access
// is mutex-guarded.
//
// The buffer is unbounded and has no cancellation: an image added but
// never drained stays until the next drain. That leak is accepted — the
// durable store's ListRecent covers recovery after a restart.
//
// One Buffer is constructed at startup and passed by reference to the
// tool registry and the web server. It is not a package-level global.
type Buffer struct {
	mu      sync.Mutex
	pending []Image
}

// NewBuffer creates an empty handoff buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends an image for the next drain. It never blocks beyond lock
// acquisition.
func (b *Buffer) Add(img Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, img)
}

// Drain atomically snapshots and clears the buffer. A second Drain with
// no intervening Add returns an empty slice. This is the only
// consumption primitive; there is no peek.
func (b *Buffer) Drain() []Image {
	b.mu.Lock()
	defer b.mu.Unlock()

	imgs := make([]Image, len(b.pending))
	copy(imgs, b.pending)
	b.pending = b.pending[:0]
	return imgs
}

// Len reports the number of pending images. Diagnostic use only.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
