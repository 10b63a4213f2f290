package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTidyNormalizesWhitespaceAndSentenceCase(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Hello world. From parley", Tidy(" hello  world.\nfrom parley "))
}

func TestTidyEmptyInput(t *testing.T) {
	t.Parallel()

	require.Empty(t, Tidy(""))
	require.Empty(t, Tidy(" \n\t "))
}

func TestTidyCapitalizesPronounI(t *testing.T) {
	t.Parallel()

	got := Tidy("when i speak i'm clearer. i think i will keep using it.")
	require.Equal(t, "When I speak I'm clearer. I think I will keep using it.", got)
}

func TestTidyKeepsDigitsLeading(t *testing.T) {
	t.Parallel()

	require.Equal(t, "3 things to plan? Start now", Tidy("3 things to plan? start now"))
}

func TestTidyIdempotent(t *testing.T) {
	t.Parallel()

	first := Tidy("set a timer. how do you spell necessary")
	require.Equal(t, first, Tidy(first))
}
