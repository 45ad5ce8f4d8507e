package ssh

import "sync"

// captureBuffer collects session output. The SSH library may write from
// its own goroutines, so writes are locked.
type captureBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *captureBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
