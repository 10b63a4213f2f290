package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning means a parley owner holds the socket and reported its session status.
var ErrAlreadyRunning = errors.New("parley session already running")

const (
	defaultProbeTimeout = 200 * time.Millisecond
	staleBackoff        = 25 * time.Millisecond
)

// RuntimeSocketPath is the owner socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, "parley.sock"), nil
}

// AcquireOptions tunes how an existing socket is checked before it is replaced.
type AcquireOptions struct {
	ProbeTimeout time.Duration
	// Retries is how many times a stale socket may be removed and listened on again.
	Retries int
}

// Acquire makes the caller the session owner by listening on path. A socket
// whose peer reports a parley status is left alone and yields
// ErrAlreadyRunning; a dead socket file is removed and retried. Anything that
// answers but is not a parley owner, or does not answer in time, is never
// unlinked.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		status, alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if alive {
			return nil, runningError(status)
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * staleBackoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
}

func runningError(status Status) error {
	if status.SessionID == "" {
		return fmt.Errorf("%w (%s)", ErrAlreadyRunning, status.State)
	}
	return fmt.Errorf("%w (session %s is %s)", ErrAlreadyRunning, status.SessionID, status.State)
}
