// Package audio handles PulseAudio device discovery, microphone capture,
// playback streams, and PCM framing.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const applicationName = "parley"

var (
	// ErrPermissionDenied reports that the sound server refused microphone or speaker access.
	ErrPermissionDenied = errors.New("audio permission denied")
	// ErrDeviceUnavailable reports a capture or playback device that is missing or was lost.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// Describe formats device metadata for logs.
func (d Device) Describe() string {
	description := strings.TrimSpace(d.Description)
	id := strings.TrimSpace(d.ID)
	switch {
	case description == "":
		return id
	case id == "":
		return description
	default:
		return fmt.Sprintf("%s (%s)", description, id)
	}
}

// connect opens a Pulse client and maps connection failures onto the audio error kinds.
func connect(icon string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName(icon),
	)
	if err != nil {
		return nil, classifyPulseError("connect pulse server", err)
	}
	return client, nil
}

// classifyPulseError wraps err with ErrPermissionDenied or ErrDeviceUnavailable.
func classifyPulseError(op string, err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "access denied") || strings.Contains(lower, "permission denied") {
		return fmt.Errorf("%s: %w: %v", op, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrDeviceUnavailable, err)
}

// ListDevices returns Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := connect("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves audio.input/audio.fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList applies the input/fallback policy to a pre-fetched device list.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, fmt.Errorf("%w: no audio input devices found", ErrDeviceUnavailable)
	}

	primary, err := findPreferred(devices, input, "audio.input")
	if err != nil {
		return Selection{}, err
	}
	reason := unusableReason(primary)
	if reason == "" {
		return Selection{Device: primary}, nil
	}

	alternate, err := findPreferred(devices, fallback, "audio.fallback")
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input %q is %s and no usable fallback: %w", primary.ID, reason, err)
	}
	if altReason := unusableReason(alternate); altReason != "" {
		return Selection{}, fmt.Errorf("%w: audio fallback device %q is %s", ErrDeviceUnavailable, alternate.ID, altReason)
	}

	return Selection{
		Device:   alternate,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, alternate.ID),
		Fallback: primary.ID != alternate.ID,
	}, nil
}

// findPreferred resolves one preference term; empty and "default" mean the server default source.
func findPreferred(devices []Device, term string, field string) (Device, error) {
	term = strings.TrimSpace(strings.ToLower(term))
	if term == "" || term == "default" {
		for _, dev := range devices {
			if dev.Default {
				return dev, nil
			}
		}
		return Device{}, fmt.Errorf("%w: default audio source is unavailable", ErrDeviceUnavailable)
	}
	for _, dev := range devices {
		if deviceMatches(dev, term) {
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("%s %q did not match any device", field, term)
}

func unusableReason(dev Device) string {
	switch {
	case dev.Muted:
		return "muted"
	case !dev.Available:
		return "unavailable"
	default:
		return ""
	}
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
