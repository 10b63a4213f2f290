package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rbright/parley/internal/audio"
)

// Kind distinguishes ready audio from text that needs synthesis.
type Kind string

const (
	KindAudio Kind = "audio"
	KindText  Kind = "text"
)

// Item is one enqueued delivery. Callers await it with Wait or Done.
type Item struct {
	id   uint64
	kind Kind
	text string

	// ready is closed once frames (or synthErr) are final.
	ready    chan struct{}
	frames   []audio.Frame
	synthErr error
	cancel   context.CancelFunc

	done chan struct{}
	once sync.Once
	err  error
}

func newItem(id uint64, kind Kind) *Item {
	return &Item{
		id:     id,
		kind:   kind,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		cancel: func() {},
	}
}

func (i *Item) ID() uint64 { return i.id }

func (i *Item) Kind() Kind { return i.kind }

// Text is the source text of a text item.
func (i *Item) Text() string { return i.text }

// Done is closed when the item finished playing, failed, or was discarded.
func (i *Item) Done() <-chan struct{} { return i.done }

// Err is the item's outcome. It is only meaningful after Done is closed.
func (i *Item) Err() error {
	select {
	case <-i.done:
		return i.err
	default:
		return nil
	}
}

// Wait blocks until the item completes or ctx is done.
func (i *Item) Wait(ctx context.Context) error {
	select {
	case <-i.done:
		return i.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration is the total audio length once the item is ready.
func (i *Item) Duration() time.Duration {
	select {
	case <-i.ready:
	default:
		return 0
	}
	var total time.Duration
	for _, f := range i.frames {
		total += f.Duration()
	}
	return total
}

func (i *Item) resolve(frames []audio.Frame, err error) {
	i.frames = frames
	i.synthErr = err
	close(i.ready)
}

// finish records the outcome once and reports whether this call did so.
func (i *Item) finish(err error) bool {
	finished := false
	i.once.Do(func() {
		i.err = err
		i.cancel()
		close(i.done)
		finished = true
	})
	return finished
}
