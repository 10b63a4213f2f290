package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenPlayerFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := OpenPlayer(PlayerOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestClosedPlayerRejectsPlay(t *testing.T) {
	player := &Player{}
	require.NoError(t, player.Close())
	require.NoError(t, player.Close())

	err := player.Play(context.Background(), Frame{Samples: []int16{1, 2}, SampleRate: PlaybackRate, Channels: 1})
	require.ErrorIs(t, err, ErrPlayerClosed)
}
