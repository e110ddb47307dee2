package executor

import (
	"sync"
)

// DefaultTailSize is the number of trailing stderr bytes kept for reports.
const DefaultTailSize = 4096

// TailBuffer is an io.Writer that keeps only the last n bytes written.
type TailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

// NewTailBuffer creates a TailBuffer holding at most n bytes.
func NewTailBuffer(n int) *TailBuffer {
	if n <= 0 {
		n = DefaultTailSize
	}
	return &TailBuffer{n: n}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.n; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
