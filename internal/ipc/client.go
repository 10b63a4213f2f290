package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/rbright/parley/internal/fsm"
)

// ErrNotOwner means a peer answered on the socket but not as a parley session owner.
var ErrNotOwner = errors.New("socket peer is not a parley owner")

// Status is an owner's report of its session.
type Status struct {
	State      fsm.State
	SessionID  string
	Transcript string
}

// Send performs one request/response roundtrip on the owner socket.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Command, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrNotOwner, err)
	}
	return resp, nil
}

// QueryStatus asks the owner at path for its session state. An answer that is
// not a well-formed parley status fails with ErrNotOwner.
func QueryStatus(ctx context.Context, path string, timeout time.Duration) (Status, error) {
	resp, err := Send(ctx, path, Request{Command: CommandStatus}, timeout)
	if err != nil {
		return Status{}, err
	}
	return statusFromResponse(resp)
}

func statusFromResponse(resp Response) (Status, error) {
	if !resp.OK {
		return Status{}, fmt.Errorf("%w: status rejected: %s", ErrNotOwner, resp.Error)
	}
	state, ok := fsm.Parse(resp.State)
	if !ok {
		return Status{}, fmt.Errorf("%w: unknown session state %q", ErrNotOwner, resp.State)
	}
	if fsm.Active(state) && resp.SessionID == "" {
		return Status{}, fmt.Errorf("%w: %s session has no id", ErrNotOwner, state)
	}
	return Status{State: state, SessionID: resp.SessionID, Transcript: resp.Transcript}, nil
}

// Probe checks whether a parley owner is listening on path. alive is false
// with a nil error when nothing is listening; a peer that answers as
// something else yields ErrNotOwner.
func Probe(ctx context.Context, path string, timeout time.Duration) (Status, bool, error) {
	status, err := QueryStatus(ctx, path, timeout)
	switch {
	case err == nil:
		return status, true, nil
	case isSocketMissing(err) || isConnectionRefused(err):
		return Status{}, false, nil
	default:
		return Status{}, false, fmt.Errorf("probe socket: %w", err)
	}
}

func isSocketMissing(err error) bool {
	return err != nil && errors.Is(err, os.ErrNotExist)
}

func isConnectionRefused(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNREFUSED)
}
