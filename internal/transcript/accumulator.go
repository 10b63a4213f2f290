// Package transcript buffers live input transcription and finalizes one utterance per turn.
package transcript

import (
	"strings"
	"sync"
)

// Accumulator holds the transcription text seen since the last turn boundary.
// It is safe for concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	buf    strings.Builder
	deltas int
}

// OnDelta appends text and returns the full buffer for live display.
func (a *Accumulator) OnDelta(text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.WriteString(text)
	a.deltas++
	return a.buf.String()
}

// OnTurnComplete returns the finalized utterance and clears the buffer.
// An empty result means the turn carried no input.
func (a *Accumulator) OnTurnComplete() string {
	utterance, _ := a.Finalize()
	return utterance
}

// Finalize is OnTurnComplete plus the number of deltas that formed the utterance.
// Zero deltas marks a turn boundary that arrived without any transcription.
func (a *Accumulator) Finalize() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	utterance := a.buf.String()
	deltas := a.deltas
	a.buf.Reset()
	a.deltas = 0
	return utterance, deltas
}

// Current returns the buffer without modifying it.
func (a *Accumulator) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Reset discards the buffer.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
	a.deltas = 0
}
