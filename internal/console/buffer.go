package console

import "sync"

const DefaultCapacity = 1000

// Buffer is a bounded FIFO of console lines. One reader goroutine appends,
// any number of callers drain. When full the oldest line is evicted so the
// window always holds the most recent output.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	head  int
	size  int
}

// NewBuffer returns a buffer holding at most capacity lines.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Append adds line, evicting the oldest entry when the buffer is full.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == len(b.lines) {
		b.lines[b.head] = line
		b.head = (b.head + 1) % len(b.lines)
		return
	}
	b.lines[(b.head+b.size)%len(b.lines)] = line
	b.size++
}

// Drain removes and returns all buffered lines in arrival order.
// An empty buffer yields nil. Each appended line is returned by exactly
// one Drain call.
func (b *Buffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % len(b.lines)
		out[i] = b.lines[idx]
		b.lines[idx] = ""
	}
	b.head = 0
	b.size = 0
	return out
}

// Peek returns up to n of the most recent lines without removing them.
// n <= 0 returns everything currently buffered.
func (b *Buffer) Peek(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]string, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(b.head+start+i)%len(b.lines)]
	}
	return out
}

// Len reports the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap reports the configured capacity.
func (b *Buffer) Cap() int {
	return len(b.lines)
}
