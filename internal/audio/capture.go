package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
)

const (
	// DefaultBlockSamples matches a 256ms capture block at 16kHz.
	DefaultBlockSamples = 4096
	defaultStallTimeout = 2 * time.Second
)

// CaptureOptions tunes block framing and device-loss detection.
type CaptureOptions struct {
	BlockSamples int
	StallTimeout time.Duration
}

// Capture streams fixed-size float32 blocks from one selected Pulse source.
// The stream is created by OpenCapture and starts delivering only after Start.
type Capture struct {
	device       Device
	blockSamples int
	stallTimeout time.Duration

	client *pulse.Client
	stream *pulse.RecordStream

	stopCh chan struct{}

	mu       sync.Mutex
	pending  []float32
	onBlock  func([]float32)
	onFault  func(error)
	started  bool
	stopped  bool
	faulted  bool
	lastData time.Time

	inflight sync.WaitGroup
	samples  atomic.Int64
}

// OpenCapture connects to Pulse and creates a 16kHz mono float32 record stream.
func OpenCapture(ctx context.Context, selected Device, opts CaptureOptions) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture := newCapture(selected, opts)

	client, err := connect("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	capture.client = client

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		capture.release()
		return nil, classifyPulseError(fmt.Sprintf("resolve source %q", selected.ID), err)
	}

	stream, err := client.NewRecord(
		pulse.Float32Writer(capture.onSamples),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(CaptureRate),
		pulse.RecordBufferFragmentSize(uint32(capture.blockSamples*4)),
		pulse.RecordMediaName("parley conversation"),
	)
	if err != nil {
		capture.release()
		return nil, classifyPulseError("create pulse record stream", err)
	}
	capture.stream = stream
	return capture, nil
}

func newCapture(selected Device, opts CaptureOptions) *Capture {
	block := opts.BlockSamples
	if block <= 0 {
		block = DefaultBlockSamples
	}
	stall := opts.StallTimeout
	if stall <= 0 {
		stall = defaultStallTimeout
	}
	return &Capture{
		device:       selected,
		blockSamples: block,
		stallTimeout: stall,
		stopCh:       make(chan struct{}),
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// SamplesCaptured reports total samples accepted from Pulse.
func (c *Capture) SamplesCaptured() int64 {
	return c.samples.Load()
}

// Start begins delivering blocks. onBlock runs on the capture goroutine and must not block.
// onFault is called at most once if the device stops producing audio.
func (c *Capture) Start(onBlock func([]float32), onFault func(error)) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: capture already stopped", ErrDeviceUnavailable)
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.onBlock = onBlock
	c.onFault = onFault
	c.lastData = time.Now()
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Start()
	}
	go c.watch()
	return nil
}

// Stop halts the stream and releases the Pulse client. Partial blocks are discarded
// and no block is delivered after Stop returns.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.release()
	c.inflight.Wait()

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return nil
}

func (c *Capture) release() {
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
}

// onSamples receives raw Pulse samples and emits blockSamples-sized copies.
func (c *Capture) onSamples(buffer []float32) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped so Stop's Wait observes it.
	c.inflight.Add(1)
	c.lastData = time.Now()
	c.pending = append(c.pending, buffer...)

	var blocks [][]float32
	for len(c.pending) >= c.blockSamples {
		block := make([]float32, c.blockSamples)
		copy(block, c.pending[:c.blockSamples])
		c.pending = c.pending[c.blockSamples:]
		blocks = append(blocks, block)
	}
	onBlock := c.onBlock
	c.mu.Unlock()
	defer c.inflight.Done()

	c.samples.Add(int64(len(buffer)))

	if onBlock != nil {
		for _, block := range blocks {
			onBlock(block)
		}
	}
	return len(buffer), nil
}

// watch reports a device fault when the stream stops delivering audio.
func (c *Capture) watch() {
	ticker := time.NewTicker(c.stallTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			stalled := !c.stopped && !c.faulted && now.Sub(c.lastData) > c.stallTimeout
			if stalled {
				c.faulted = true
			}
			onFault := c.onFault
			c.mu.Unlock()

			if stalled {
				if onFault != nil {
					onFault(fmt.Errorf("%w: no audio from %q for %s", ErrDeviceUnavailable, c.device.ID, c.stallTimeout))
				}
				return
			}
		}
	}
}
