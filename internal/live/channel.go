// Package live implements the duplex conversation channel over the Gemini Live
// BidiGenerateContent websocket protocol.
//
// Audio goes out as base64 PCM media chunks. Inbound server messages are
// flattened into an ordered stream of Events consumed by a single reader.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice   = "Zephyr"

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultDialTimeout = 10 * time.Second
	defaultEventBuffer = 64
	keepaliveInterval  = 20 * time.Second
	keepaliveTimeout   = 5 * time.Second
)

var (
	// ErrChannel marks remote connection and protocol failures.
	ErrChannel = errors.New("live channel error")
	// ErrClosed is returned by Send after Close or after the remote hung up.
	ErrClosed = errors.New("live channel closed")
	// ErrMalformedPayload marks an inline data part that could not be decoded.
	ErrMalformedPayload = errors.New("malformed inline payload")
)

// Config selects the model and the session options requested at setup.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Voice is the prebuilt synthesis voice for audio responses.
	Voice string
	// ResponseModalities defaults to AUDIO only.
	ResponseModalities []string
	InputTranscription bool
	SystemInstruction  string
	DialTimeout        time.Duration
	EventBuffer        int
	Logger             *slog.Logger
}

// Channel is one open Live session.
type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial connects, sends the setup message, and returns once the server has
// acknowledged setup. The returned channel is ready to accept audio.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	cfg = withDefaults(cfg)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrChannel)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s%s?key=%s", strings.TrimRight(cfg.BaseURL, "/"), bidiPath, url.QueryEscape(cfg.APIKey))
	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrChannel, err)
	}
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:   conn,
		logger: cfg.Logger,
		events: make(chan Event, cfg.EventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
		done:   make(chan struct{}),
	}

	if err := c.writeJSON(dialCtx, buildSetup(cfg)); err != nil {
		c.abort("setup failed")
		return nil, fmt.Errorf("%w: send setup: %v", ErrChannel, err)
	}
	if err := c.awaitSetupComplete(dialCtx); err != nil {
		c.abort("setup failed")
		return nil, err
	}

	go c.receiveLoop()
	go c.keepaliveLoop()
	return c, nil
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if len(cfg.ResponseModalities) == 0 {
		cfg.ResponseModalities = []string{"AUDIO"}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg
}

func buildSetup(cfg Config) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model:            model,
			GenerationConfig: generationConfig{ResponseModalities: cfg.ResponseModalities},
		},
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	return msg
}

// awaitSetupComplete reads until the setup acknowledgement or a server error arrives.
func (c *Channel) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: await setup: %v", ErrChannel, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("live: skipping malformed frame during setup", "error", err.Error())
			continue
		}
		if msg.Error != nil {
			return serverErr(msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// Events returns the ordered inbound event stream. It is closed when the
// channel ends; a final Closed or Error event precedes the close unless the
// local side called Close.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send delivers one media chunk. Calls are serialized so chunks keep their order on the wire.
func (c *Channel) Send(ctx context.Context, data []byte, mime string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(data)}},
		},
	}
	if err := c.writeJSON(ctx, msg); err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("%w: send media: %v", ErrChannel, err)
	}
	return nil
}

// Close terminates the session. It does not wait for the server's close handshake.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	_ = c.conn.CloseNow()
	return nil
}

func (c *Channel) abort(reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusInternalError, reason)
}

func (c *Channel) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop owns the events channel and closes it on exit.
func (c *Channel) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.markClosed()
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				c.emit(Event{Kind: KindClosed})
				return
			}
			c.emit(Event{Kind: KindError, Err: fmt.Errorf("%w: read: %v", ErrChannel, err)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("live: skipping malformed frame", "error", err.Error())
			continue
		}
		if !c.dispatch(&msg) {
			return
		}
	}
}

// dispatch flattens one server message into events. It returns false once the stream should end.
func (c *Channel) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		c.markClosed()
		c.emit(Event{Kind: KindError, Err: serverErr(msg.Error)})
		return false
	}
	if msg.GoAway != nil {
		c.logger.Info("live: server announced disconnect", "time_left", msg.GoAway.TimeLeft)
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !c.emit(Event{Kind: KindTranscriptDelta, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !c.emit(Event{Kind: KindTurnComplete}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			ev, ok := partEvent(p)
			if !ok {
				continue
			}
			if !c.emit(ev) {
				return false
			}
		}
	}
	return true
}

func partEvent(p part) (Event, bool) {
	if p.InlineData != nil {
		payload, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return Event{Kind: KindInlineAudio, MIME: p.InlineData.MIMEType, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}, true
		}
		if len(payload) == 0 {
			return Event{}, false
		}
		return Event{Kind: KindInlineAudio, MIME: p.InlineData.MIMEType, Audio: payload}, true
	}
	if p.Text != "" && !p.Thought {
		return Event{Kind: KindInlineText, Text: p.Text}, true
	}
	return Event{}, false
}

// emit blocks until the reader accepts ev or the channel is closed locally.
func (c *Channel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Channel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func serverErr(se *serverError) error {
	message := se.Message
	if message == "" {
		message = "unknown error"
	}
	if se.Status != "" {
		return fmt.Errorf("%w: server %s (%d): %s", ErrChannel, se.Status, se.Code, message)
	}
	return fmt.Errorf("%w: server: %s", ErrChannel, message)
}
