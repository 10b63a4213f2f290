package pipeline

import (
	"context"
	"sync"

	"github.com/rbright/parley/internal/audio"
)

// DefaultQueueFrames bounds outbound audio to roughly eight seconds of 4096-sample blocks.
const DefaultQueueFrames = 32

// Queue is a bounded FIFO of capture frames. Push never blocks: when full it
// evicts the oldest unsent frame.
type Queue struct {
	mu      sync.Mutex
	frames  []audio.Frame
	limit   int
	dropped int64
	closed  bool
	notify  chan struct{}
}

// NewQueue builds a queue holding at most limit frames.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultQueueFrames
	}
	return &Queue{
		frames: make([]audio.Frame, 0, limit),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues frame and reports how many frames were evicted to make room.
// Frames pushed after Close are discarded.
func (q *Queue) Push(frame audio.Frame) (evicted int) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	if len(q.frames) >= q.limit {
		evicted = len(q.frames) - q.limit + 1
		q.frames = append(q.frames[:0], q.frames[evicted:]...)
		q.dropped += int64(evicted)
	}
	q.frames = append(q.frames, frame)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return evicted
}

// Pop waits for the oldest frame. It returns false once the queue is closed or ctx is done.
func (q *Queue) Pop(ctx context.Context) (audio.Frame, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return audio.Frame{}, false
		}
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = audio.Frame{}
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return audio.Frame{}, false
		case <-q.notify:
		}
	}
}

// Close discards pending frames and wakes any waiting Pop. It returns the number discarded.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	discarded := len(q.frames)
	q.frames = nil
	close(q.notify)
	return discarded
}

// Len reports the number of pending frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports total frames evicted by overflow.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
