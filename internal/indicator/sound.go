package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rbright/parley/internal/audio"
)

type cueKind int

const (
	cueListen cueKind = iota + 1
	cueStop
	cueError
)

const cueSampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	listenCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.18},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: 0.18},
	})
	stopCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 740, duration: 65 * time.Millisecond, volume: 0.18},
		{frequencyHz: 620, duration: 90 * time.Millisecond, volume: 0.18},
	})
	errorCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 480, duration: 75 * time.Millisecond, volume: 0.18},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: 0.18},
	})
)

// cuePlayer is the output a cue renders through; *audio.Player satisfies it.
type cuePlayer interface {
	Play(ctx context.Context, frame audio.Frame) error
	Close() error
}

func openCuePlayer() (cuePlayer, error) {
	return audio.OpenPlayer(audio.PlayerOptions{MediaName: "parley indicator cue"})
}

// emitCue opens a short-lived output stream and blocks until the cue drained.
func emitCue(ctx context.Context, open func() (cuePlayer, error), kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}

	player, err := open()
	if err != nil {
		return fmt.Errorf("open cue output: %w", err)
	}
	defer player.Close()

	frame := audio.Frame{Samples: samples, SampleRate: cueSampleRate, Channels: 1}
	if err := player.Play(ctx, frame); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}

func cueSamples(kind cueKind) []int16 {
	switch kind {
	case cueListen:
		return listenCuePCM
	case cueStop:
		return stopCuePCM
	case cueError:
		return errorCuePCM
	default:
		return nil
	}
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gapSamples := samplesForDuration(22 * time.Millisecond)
	total := 0
	for i, part := range parts {
		total += samplesForDuration(part.duration)
		if i < len(parts)-1 {
			total += gapSamples
		}
	}

	pcm := make([]int16, 0, total)
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gapSamples > 0 {
			pcm = append(pcm, make([]int16, gapSamples)...)
		}
	}
	return pcm
}

func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(n/10, cueSampleRate/200) // at most 5ms
	ramp = max(ramp, 1)

	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = math.Min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / cueSampleRate
		sample := math.Sin(2 * math.Pi * spec.frequencyHz * t)
		pcm[i] = audio.EncodeSample(float32(sample * spec.volume * envelope))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
