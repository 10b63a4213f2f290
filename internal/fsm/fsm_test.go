package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateConnecting, next)

	next, err = Transition(next, EventReady)
	require.NoError(t, err)
	require.Equal(t, StateStreaming, next)

	next, err = Transition(next, EventStop)
	require.NoError(t, err)
	require.Equal(t, StateClosing, next)

	next, err = Transition(next, EventReleased)
	require.NoError(t, err)
	require.Equal(t, StateClosed, next)
}

func TestTransitionRemoteCloseWhileStreaming(t *testing.T) {
	next, err := Transition(StateStreaming, EventRemoteClosed)
	require.NoError(t, err)
	require.Equal(t, StateClosing, next)
}

func TestTransitionFailOnlyFromConnectingOrStreaming(t *testing.T) {
	for _, state := range []State{StateConnecting, StateStreaming} {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateErrored, next)
	}
	for _, state := range []State{StateIdle, StateClosing, StateClosed, StateErrored} {
		next, err := Transition(state, EventFail)
		require.Error(t, err)
		require.Equal(t, state, next)
	}
}

func TestTransitionRestartFromTerminalStates(t *testing.T) {
	for _, state := range []State{StateIdle, StateClosed, StateErrored} {
		next, err := Transition(state, EventStart)
		require.NoError(t, err)
		require.Equal(t, StateConnecting, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{name: "idle stop", state: StateIdle, event: EventStop},
		{name: "idle ready", state: StateIdle, event: EventReady},
		{name: "connecting start", state: StateConnecting, event: EventStart},
		{name: "connecting remote closed", state: StateConnecting, event: EventRemoteClosed},
		{name: "streaming start", state: StateStreaming, event: EventStart},
		{name: "streaming released", state: StateStreaming, event: EventReleased},
		{name: "closing stop", state: StateClosing, event: EventStop},
		{name: "closing start", state: StateClosing, event: EventStart},
		{name: "closed stop", state: StateClosed, event: EventStop},
		{name: "errored released", state: StateErrored, event: EventReleased},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.state, next)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestActive(t *testing.T) {
	require.True(t, Active(StateConnecting))
	require.True(t, Active(StateStreaming))
	require.True(t, Active(StateClosing))
	require.False(t, Active(StateIdle))
	require.False(t, Active(StateClosed))
	require.False(t, Active(StateErrored))
}

func TestParse(t *testing.T) {
	state, ok := Parse(" Streaming ")
	require.True(t, ok)
	require.Equal(t, StateStreaming, state)

	state, ok = Parse("errored")
	require.True(t, ok)
	require.Equal(t, StateErrored, state)

	_, ok = Parse("recording")
	require.False(t, ok)
	_, ok = Parse("")
	require.False(t, ok)
}
