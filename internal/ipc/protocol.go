// Package ipc implements the single-instance owner socket: one JSON request
// line in, one JSON response line out.
package ipc

const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandStop   = "stop"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// Transcript is the in-progress utterance of the active session.
	Transcript string `json:"transcript,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}
