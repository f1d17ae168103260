package session

import "sync"

// maxLines is the number of recent output lines retained per session,
// per the data model's "bounded ring buffer of recent output lines
// (last 100)".
const maxLines = 100

// LineBuffer is a fixed-capacity ring buffer of complete output lines,
// split from the raw PTY byte stream on '\n'. Incomplete trailing bytes
// are carried forward until a newline completes them. Safe for
// concurrent use.
type LineBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial []byte
}

// NewLineBuffer returns an empty LineBuffer.
func NewLineBuffer() *LineBuffer {
	return &LineBuffer{}
}

// Write splits data on '\n' boundaries, appending complete lines
// (partial tail carried forward) and evicting the oldest line once the
// buffer exceeds maxLines.
func (b *LineBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			line := string(b.partial) + string(data[start:i])
			b.partial = nil
			b.append(line)
			start = i + 1
		}
	}
	if start < len(data) {
		b.partial = append(b.partial, data[start:]...)
	}
}

func (b *LineBuffer) append(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > maxLines {
		b.lines = b.lines[len(b.lines)-maxLines:]
	}
}

// Lines returns a copy of the currently retained complete lines,
// oldest first.
func (b *LineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
