// Package terminal is the reference Terminal Client adapter: it holds
// a local replace-or-append buffer over the raw output stream,
// switching to "replace" whenever it sees a screen-clear control
// sequence or a recognizable full-screen redraw marker.
package terminal

import "strings"

// redrawMarkers are byte sequences that signal the underlying
// assistant CLI has repainted the whole screen rather than appended
// to it: the standard VT100 "clear screen" (ESC[2J) and "cursor home"
// (ESC[H) sequences, plus a literal banner glyph the assistant CLI
// emits at the top of every full redraw.
var redrawMarkers = []string{
	"\x1b[2J",
	"\x1b[H",
	"✳ claude",
}

// Buffer accumulates output chunks, replacing its entire contents
// instead of appending whenever a redraw marker is observed in the
// incoming chunk. Purely presentational: it imposes no constraint on
// the Agent and is not authoritative over session state.
type Buffer struct {
	content strings.Builder
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write appends chunk to the buffer, or, if chunk contains a redraw
// marker, replaces the buffer's entire contents with the part of chunk
// that starts at its latest-occurring marker.
func (b *Buffer) Write(chunk string) {
	if marker, ok := lastRedrawMarker(chunk); ok {
		b.content.Reset()
		b.content.WriteString(chunk[strings.LastIndex(chunk, marker):])
		return
	}
	b.content.WriteString(chunk)
}

// lastRedrawMarker reports the latest-occurring redraw marker present
// in chunk, if any — later markers in the same chunk supersede earlier
// ones.
func lastRedrawMarker(chunk string) (string, bool) {
	best := -1
	var bestMarker string
	for _, marker := range redrawMarkers {
		if idx := strings.LastIndex(chunk, marker); idx > best {
			best = idx
			bestMarker = marker
		}
	}
	return bestMarker, best >= 0
}

// String returns the buffer's current contents.
func (b *Buffer) String() string {
	return b.content.String()
}
