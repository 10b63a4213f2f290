package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model string
	Key   string
	Body  map[string]any
}

// fakeGemini serves generateContent and replies with respond(model).
type fakeGemini struct {
	mu       sync.Mutex
	requests []capturedRequest
	respond  func(model string) (int, any)
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	idx := strings.LastIndex(r.URL.Path, "/models/")
	if idx < 0 || !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	model := strings.TrimSuffix(r.URL.Path[idx+len("/models/"):], ":generateContent")

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	key := r.Header.Get("x-goog-api-key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Model: model, Key: key, Body: body})
	f.mu.Unlock()

	status, payload := f.respond(model)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeGemini) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func textResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
		}},
	}
}

func newFake(t *testing.T, respond func(model string) (int, any)) (*fakeGemini, Config) {
	t.Helper()
	fake := &fakeGemini{respond: respond}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, Config{APIKey: "test-key", BaseURL: srv.URL + "/", RequestTimeout: 5 * time.Second}
}

func newResponder(t *testing.T, cfg Config) *Responder {
	t.Helper()
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	return NewResponder(client, cfg, nil, nil)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestRespondDefaultRoute(t *testing.T) {
	fake, cfg := newFake(t, func(string) (int, any) { return http.StatusOK, textResponse("  Why did the chicken cross the road?  ") })
	responder := newResponder(t, cfg)

	reply, err := responder.Respond(context.Background(), "Tell me a joke")
	require.NoError(t, err)
	require.Equal(t, RouteDefault, reply.Route)
	require.Equal(t, DefaultTextModel, reply.Model)
	require.Equal(t, "Why did the chicken cross the road?", reply.Text)
	require.Empty(t, reply.Sources)

	req := fake.last(t)
	require.Equal(t, DefaultTextModel, req.Model)
	require.Equal(t, "test-key", req.Key)
	require.NotContains(t, req.Body, "tools")
}

func TestRespondQuickRouteUsesFastModel(t *testing.T) {
	fake, cfg := newFake(t, func(string) (int, any) { return http.StatusOK, textResponse("N-E-C-E-S-S-A-R-Y") })
	responder := newResponder(t, cfg)

	reply, err := responder.Respond(context.Background(), "how do you spell necessary")
	require.NoError(t, err)
	require.Equal(t, RouteQuick, reply.Route)
	require.Equal(t, DefaultFastModel, fake.last(t).Model)
}

func TestRespondNewsRouteReturnsSources(t *testing.T) {
	fake, cfg := newFake(t, func(string) (int, any) {
		resp := textResponse("The home team won 3-1.")
		candidate := resp["candidates"].([]any)[0].(map[string]any)
		candidate["groundingMetadata"] = map[string]any{
			"groundingChunks": []any{
				map[string]any{"web": map[string]any{"uri": "https://example.com/a", "title": "Match report"}},
				map[string]any{"web": map[string]any{"uri": "https://example.com/a", "title": "Duplicate"}},
				map[string]any{"web": map[string]any{"uri": "https://example.com/b"}},
			},
		}
		return http.StatusOK, resp
	})
	responder := newResponder(t, cfg)

	reply, err := responder.Respond(context.Background(), "Who won the match last night?")
	require.NoError(t, err)
	require.Equal(t, RouteNews, reply.Route)
	require.Equal(t, []Source{
		{URI: "https://example.com/a", Title: "Match report"},
		{URI: "https://example.com/b", Title: "https://example.com/b"},
	}, reply.Sources)

	tools, ok := fake.last(t).Body["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	require.Contains(t, tools[0].(map[string]any), "googleSearch")
}

func TestRespondPlanRouteSetsThinkingBudget(t *testing.T) {
	fake, cfg := newFake(t, func(string) (int, any) { return http.StatusOK, textResponse("Day one: ...") })
	responder := newResponder(t, cfg)

	reply, err := responder.Respond(context.Background(), "plan my week")
	require.NoError(t, err)
	require.Equal(t, RoutePlan, reply.Route)

	req := fake.last(t)
	require.Equal(t, DefaultComplexModel, req.Model)
	gen := req.Body["generationConfig"].(map[string]any)
	thinking := gen["thinkingConfig"].(map[string]any)
	require.EqualValues(t, DefaultThinkingBudget, thinking["thinkingBudget"])
}

func TestRespondEmptyReplyFallsBack(t *testing.T) {
	_, cfg := newFake(t, func(string) (int, any) { return http.StatusOK, textResponse("   ") })
	responder := newResponder(t, cfg)

	reply, err := responder.Respond(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, EmptyReplyText, reply.Text)
}

func TestRespondServerErrorIsReturned(t *testing.T) {
	_, cfg := newFake(t, func(string) (int, any) {
		return http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": 500, "message": "backend exploded", "status": "INTERNAL"}}
	})
	responder := newResponder(t, cfg)

	reply, err := responder.Respond(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, RouteDefault, reply.Route)
	require.Empty(t, reply.Text)
}

func TestSpeakerSynthesizesPCMFrame(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xC0, 0x01, 0x00}
	fake, cfg := newFake(t, func(string) (int, any) {
		return http.StatusOK, map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{
					"inlineData": map[string]any{"mimeType": "audio/L16;codec=pcm;rate=24000", "data": base64.StdEncoding.EncodeToString(pcm)},
				}}},
			}},
		}
	})
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	speaker := NewSpeaker(client, cfg)

	frame, err := speaker.Synthesize(context.Background(), "Hello there")
	require.NoError(t, err)
	require.Equal(t, audio.PlaybackRate, frame.SampleRate)
	require.Equal(t, []int16{16384, -16384, 1}, frame.Samples)

	req := fake.last(t)
	require.Equal(t, DefaultTTSModel, req.Model)
	gen := req.Body["generationConfig"].(map[string]any)
	require.Equal(t, []any{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	require.Equal(t, DefaultTTSVoice, voice["voiceName"])
}

func TestSpeakerWithoutAudioFails(t *testing.T) {
	_, cfg := newFake(t, func(string) (int, any) { return http.StatusOK, textResponse("no audio here") })
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)

	_, err = NewSpeaker(client, cfg).Synthesize(context.Background(), "Hello")
	require.ErrorIs(t, err, ErrNoAudio)
}

func TestRateFromMIME(t *testing.T) {
	require.Equal(t, 24000, rateFromMIME("audio/L16;codec=pcm;rate=24000", 16000))
	require.Equal(t, 16000, rateFromMIME("audio/pcm", 16000))
	require.Equal(t, 16000, rateFromMIME("audio/pcm; rate=abc", 16000))
	require.Equal(t, 22050, rateFromMIME("audio/pcm; RATE=22050", 16000))
}
