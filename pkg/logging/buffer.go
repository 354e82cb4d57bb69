package logging

import (
	"strings"
	"sync"
)

// DefaultCaptureLines is how many lines the global captures retain.
const DefaultCaptureLines = 50

// LineRing is an io.Writer keeping the most recent lines in memory, for the
// status endpoint. Each Write is treated as one line.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
}

// NewLineRing creates a ring holding up to size lines (minimum 1).
func NewLineRing(size int) *LineRing {
	return &LineRing{lines: make([]string, max(size, 1))}
}

// ServerCapture receives every server log record.
var ServerCapture = NewLineRing(DefaultCaptureLines)

// EventCapture receives every formatted alarm event.
var EventCapture = NewLineRing(DefaultCaptureLines)

// Write implements io.Writer.
func (r *LineRing) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	return len(p), nil
}

// Last returns the newest line, or "".
func (r *LineRing) Last() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full && r.next == 0 {
		return ""
	}
	return r.lines[(r.next-1+len(r.lines))%len(r.lines)]
}

// Recent returns up to n lines, oldest first.
func (r *LineRing) Recent(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.lines)
	}
	n = min(n, count)
	if n <= 0 {
		return nil
	}

	out := make([]string, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := range out {
		out[i] = r.lines[(start+i)%len(r.lines)]
	}
	return out
}
