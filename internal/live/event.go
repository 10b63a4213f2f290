package live

// Kind tags one inbound channel event.
type Kind string

const (
	KindTranscriptDelta Kind = "transcript_delta"
	KindTurnComplete    Kind = "turn_complete"
	KindInlineAudio     Kind = "inline_audio"
	KindInlineText      Kind = "inline_text"
	KindError           Kind = "error"
	KindClosed          Kind = "closed"
)

// Event is one inbound item from the remote peer. Which fields are set depends on Kind:
// Text for transcript deltas and inline text, Audio and MIME for inline audio, and
// Err for errors or an inline part that could not be decoded.
type Event struct {
	Kind  Kind
	Text  string
	Audio []byte
	MIME  string
	Err   error
}
