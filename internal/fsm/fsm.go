// Package fsm defines the conversation session lifecycle as a pure transition function.
package fsm

import (
	"fmt"
	"strings"
)

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateErrored    State = "errored"
)

const (
	EventStart        Event = "start"
	EventReady        Event = "ready"
	EventStop         Event = "stop"
	EventRemoteClosed Event = "remote_closed"
	EventReleased     Event = "released"
	EventFail         Event = "fail"
)

// Active reports whether a session holds resources in state.
func Active(state State) bool {
	switch state {
	case StateConnecting, StateStreaming, StateClosing:
		return true
	default:
		return false
	}
}

// Parse maps a reported state name back to a State.
func Parse(name string) (State, bool) {
	switch state := State(strings.ToLower(strings.TrimSpace(name))); state {
	case StateIdle, StateConnecting, StateStreaming, StateClosing, StateClosed, StateErrored:
		return state, true
	default:
		return "", false
	}
}

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle, StateClosed, StateErrored:
		switch event {
		case EventStart:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventReady:
			return StateStreaming, nil
		case EventStop:
			return StateClosing, nil
		case EventFail:
			return StateErrored, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStreaming:
		switch event {
		case EventStop, EventRemoteClosed:
			return StateClosing, nil
		case EventFail:
			return StateErrored, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosing:
		switch event {
		case EventReleased:
			return StateClosed, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
