package live_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rbright/parley/internal/live"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer runs handler against each accepted websocket connection.
func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func acceptSetup(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
	return setup
}

func dial(t *testing.T, srv *httptest.Server) *live.Channel {
	t.Helper()
	ch, err := live.Dial(context.Background(), live.Config{
		BaseURL:            wsURL(srv),
		APIKey:             "test-key",
		Voice:              "Zephyr",
		InputTranscription: true,
		DialTimeout:        3 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch *live.Channel) live.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed early")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

func TestDialSendsSetupAndWaitsForAck(t *testing.T) {
	t.Parallel()

	setupCh := make(chan map[string]any, 1)
	keyCh := make(chan string, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		keyCh <- r.URL.Query().Get("key")
		setupCh <- acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	dial(t, srv)

	require.Equal(t, "test-key", <-keyCh)
	setup := (<-setupCh)["setup"].(map[string]any)
	require.Equal(t, "models/"+live.DefaultModel, setup["model"])
	require.Contains(t, setup, "inputAudioTranscription")

	gen := setup["generationConfig"].(map[string]any)
	require.Equal(t, []any{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	require.Equal(t, "Zephyr", voice["voiceName"])
}

func TestDialFailsOnServerErrorBeforeSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 403, "message": "api key invalid", "status": "PERMISSION_DENIED"}})
	})

	_, err := live.Dial(context.Background(), live.Config{BaseURL: wsURL(srv), APIKey: "bad", DialTimeout: 3 * time.Second})
	require.Error(t, err)
	require.True(t, errors.Is(err, live.ErrChannel))
	require.Contains(t, err.Error(), "api key invalid")
}

func TestDialRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := live.Dial(context.Background(), live.Config{BaseURL: "ws://127.0.0.1:1"})
	require.ErrorIs(t, err, live.ErrChannel)
}

func TestDialUnreachableIsChannelError(t *testing.T) {
	t.Parallel()

	_, err := live.Dial(context.Background(), live.Config{BaseURL: "ws://127.0.0.1:1", APIKey: "k", DialTimeout: time.Second})
	require.ErrorIs(t, err, live.ErrChannel)
}

func TestSendEncodesMediaChunksInOrder(t *testing.T) {
	t.Parallel()

	type chunk struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	}
	received := make(chan chunk, 3)
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for i := 0; i < 3; i++ {
			var msg struct {
				RealtimeInput struct {
					MediaChunks []chunk `json:"mediaChunks"`
				} `json:"realtimeInput"`
			}
			readJSON(t, conn, &msg)
			if len(msg.RealtimeInput.MediaChunks) == 1 {
				received <- msg.RealtimeInput.MediaChunks[0]
			}
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := dial(t, srv)
	for i := byte(0); i < 3; i++ {
		require.NoError(t, ch.Send(context.Background(), []byte{i, 0}, "audio/pcm;rate=16000"))
	}

	for i := byte(0); i < 3; i++ {
		select {
		case got := <-received:
			require.Equal(t, "audio/pcm;rate=16000", got.MIMEType)
			raw, err := base64.StdEncoding.DecodeString(got.Data)
			require.NoError(t, err)
			require.Equal(t, []byte{i, 0}, raw)
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for chunk %d", i)
		}
	}
}

func TestEventsFlattenServerContent(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x40, 0x00, 0xC0}
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"inputTranscription": map[string]any{"text": "Hel"}}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"inputTranscription": map[string]any{"text": "lo"}}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"modelTurn": map[string]any{"parts": []any{
			map[string]any{"text": "reasoning", "thought": true},
			map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(pcm)}},
			map[string]any{"text": "Hi there"},
		}}}})
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := dial(t, srv)

	ev := nextEvent(t, ch)
	require.Equal(t, live.KindTranscriptDelta, ev.Kind)
	require.Equal(t, "Hel", ev.Text)

	ev = nextEvent(t, ch)
	require.Equal(t, live.KindTranscriptDelta, ev.Kind)
	require.Equal(t, "lo", ev.Text)

	require.Equal(t, live.KindTurnComplete, nextEvent(t, ch).Kind)

	ev = nextEvent(t, ch)
	require.Equal(t, live.KindInlineAudio, ev.Kind)
	require.Equal(t, pcm, ev.Audio)
	require.Equal(t, "audio/pcm;rate=24000", ev.MIME)

	ev = nextEvent(t, ch)
	require.Equal(t, live.KindInlineText, ev.Kind)
	require.Equal(t, "Hi there", ev.Text)
}

func TestMalformedInlineDataSurfacesPayloadError(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"modelTurn": map[string]any{"parts": []any{
			map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm", "data": "!!not-base64!!"}},
		}}}})
		<-conn.CloseRead(context.Background()).Done()
	})

	ev := nextEvent(t, dial(t, srv))
	require.Equal(t, live.KindInlineAudio, ev.Kind)
	require.ErrorIs(t, ev.Err, live.ErrMalformedPayload)
}

func TestServerErrorEndsStream(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 500, "message": "internal"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := dial(t, srv)
	ev := nextEvent(t, ch)
	require.Equal(t, live.KindError, ev.Kind)
	require.ErrorIs(t, ev.Err, live.ErrChannel)

	select {
	case _, ok := <-ch.Events():
		require.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after error")
	}
	require.ErrorIs(t, ch.Send(context.Background(), []byte{0, 0}, "audio/pcm;rate=16000"), live.ErrClosed)
}

func TestRemoteNormalCloseEmitsClosed(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	})

	ev := nextEvent(t, dial(t, srv))
	require.Equal(t, live.KindClosed, ev.Kind)
}

func TestCloseIsIdempotentAndStopsSend(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch := dial(t, srv)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.Send(context.Background(), []byte{1, 2}, "audio/pcm;rate=16000"), live.ErrClosed)

	select {
	case _, ok := <-ch.Events():
		require.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}
