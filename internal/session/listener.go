package session

import "github.com/rbright/parley/internal/playback"

// Listener receives session output. Every field is optional. Callbacks run on
// the session goroutine and should hand long work off elsewhere.
type Listener struct {
	// OnLiveTranscript receives the whole in-progress utterance after every
	// transcription delta, and "" when a turn ends.
	OnLiveTranscript func(text string)
	// OnFinalUtterance fires at most once per turn and never for an empty turn.
	OnFinalUtterance func(text string)
	// OnAssistantAudio fires for every reply item handed to playback.
	OnAssistantAudio func(item *playback.Item)
	// OnError receives the terminal error of a failed session, plus isolated
	// failures such as undecodable reply audio.
	OnError func(err error)
}

func (l Listener) liveTranscript(text string) {
	if l.OnLiveTranscript != nil {
		l.OnLiveTranscript(text)
	}
}

func (l Listener) finalUtterance(text string) {
	if l.OnFinalUtterance != nil {
		l.OnFinalUtterance(text)
	}
}

func (l Listener) assistantAudio(item *playback.Item) {
	if l.OnAssistantAudio != nil {
		l.OnAssistantAudio(item)
	}
}

func (l Listener) fail(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}
