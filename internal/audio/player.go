package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// ErrPlayerClosed is returned by Play after Close.
var ErrPlayerClosed = errors.New("audio player closed")

// PlayerOptions configures one playback device.
type PlayerOptions struct {
	// Sink is a Pulse sink id; empty selects the server default.
	Sink string
	// LatencySeconds is the requested Pulse buffer latency.
	LatencySeconds float64
	// MediaName labels streams in the mixer.
	MediaName string
}

// Player owns one Pulse client and renders frames one stream at a time.
// Each Play call blocks until the frame has drained from the device.
type Player struct {
	opts PlayerOptions

	mu     sync.Mutex
	client *pulse.Client
	sink   *pulse.Sink
	closed bool
}

// OpenPlayer connects to Pulse and resolves the output sink.
func OpenPlayer(opts PlayerOptions) (*Player, error) {
	if opts.LatencySeconds <= 0 {
		opts.LatencySeconds = 0.02
	}
	if opts.MediaName == "" {
		opts.MediaName = "parley assistant"
	}

	client, err := connect("audio-speakers")
	if err != nil {
		return nil, err
	}

	player := &Player{opts: opts, client: client}
	if opts.Sink != "" {
		sink, err := client.SinkByID(opts.Sink)
		if err != nil {
			client.Close()
			return nil, classifyPulseError(fmt.Sprintf("resolve sink %q", opts.Sink), err)
		}
		player.sink = sink
	}
	return player, nil
}

// Play renders frame and returns when it finished playing or ctx is done.
func (p *Player) Play(ctx context.Context, frame Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	client := p.client
	sink := p.sink
	p.mu.Unlock()

	samples := frame.Float32()
	if len(samples) == 0 {
		return nil
	}
	rate := frame.SampleRate
	if rate <= 0 {
		rate = PlaybackRate
	}

	var (
		cursorMu sync.Mutex
		cursor   int
		aborted  bool
	)
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		cursorMu.Lock()
		defer cursorMu.Unlock()
		if aborted || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(p.opts.LatencySeconds),
		pulse.PlaybackMediaName(p.opts.MediaName),
	}
	if sink != nil {
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	stream, err := client.NewPlayback(reader, opts...)
	if err != nil {
		return classifyPulseError("create pulse playback stream", err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		stream.Start()
		stream.Drain()
	}()

	select {
	case <-drained:
		defer stream.Close()
		if err := stream.Error(); err != nil {
			return fmt.Errorf("%w: playback stream: %v", ErrDeviceUnavailable, err)
		}
		return nil
	case <-ctx.Done():
		cursorMu.Lock()
		aborted = true
		cursorMu.Unlock()
		stream.Stop()
		stream.Close()
		return ctx.Err()
	}
}

// Close releases the Pulse client. It is safe to call more than once.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	return nil
}
