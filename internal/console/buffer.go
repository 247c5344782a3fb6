package console

import (
	"regexp"
	"sync"
)

// ansiEscapePattern matches the colour and cursor sequences FXServer writes
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\([B0]|[=>])`)

// StripANSI removes terminal escape sequences from line
func StripANSI(line string) string {
	return ansiEscapePattern.ReplaceAllString(line, "")
}

// RingBuffer keeps the most recent lines of console output
type RingBuffer struct {
	lines    []string
	maxLines int
	current  int
	full     bool
	mu       sync.RWMutex
}

// NewRingBuffer creates a buffer holding at most maxLines lines
func NewRingBuffer(maxLines int) *RingBuffer {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &RingBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add appends a line, evicting the oldest one when full
func (rb *RingBuffer) Add(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.current] = line
	rb.current = (rb.current + 1) % rb.maxLines
	if rb.current == 0 {
		rb.full = true
	}
}

// Lines returns a copy of the buffered lines, oldest first
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]string(nil), rb.lines[:rb.current]...)
	}

	result := make([]string, rb.maxLines)
	for i := 0; i < rb.maxLines; i++ {
		result[i] = rb.lines[(rb.current+i)%rb.maxLines]
	}
	return result
}

// Last returns up to n of the newest lines
func (rb *RingBuffer) Last(n int) []string {
	lines := rb.Lines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Reset drops every buffered line
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines = make([]string, rb.maxLines)
	rb.current = 0
	rb.full = false
}
