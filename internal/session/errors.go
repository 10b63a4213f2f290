package session

import (
	"errors"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/live"
)

var (
	// ErrPermissionDenied means the microphone could not be opened for lack of access.
	ErrPermissionDenied = audio.ErrPermissionDenied
	// ErrDeviceUnavailable means an audio device is missing, muted, or stopped delivering.
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
	// ErrChannel covers remote connection and protocol failures.
	ErrChannel = live.ErrChannel
	// ErrDecode marks an inbound audio payload that could not be decoded.
	ErrDecode = errors.New("decode inbound audio")
	// ErrProtocolViolation marks a turn boundary that arrived without any transcription.
	ErrProtocolViolation = errors.New("turn complete without transcription")
)

// IsDeviceError reports whether err came from local audio hardware rather than the remote peer.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable)
}
