package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultTextModel      = "gemini-2.5-flash"
	DefaultFastModel      = "gemini-flash-lite-latest"
	DefaultGroundedModel  = "gemini-2.5-flash"
	DefaultComplexModel   = "gemini-2.5-pro"
	DefaultThinkingBudget = 32768
	DefaultTTSModel       = "gemini-2.5-flash-preview-tts"
	DefaultTTSVoice       = "Kore"
	defaultRequestTimeout = 60 * time.Second
)

// ErrNoAPIKey is returned when no Gemini API key is configured.
var ErrNoAPIKey = errors.New("gemini api key is empty")

// Config selects the REST models used outside the live session.
type Config struct {
	APIKey  string
	BaseURL string

	TextModel      string
	FastModel      string
	GroundedModel  string
	ComplexModel   string
	ThinkingBudget int

	TTSModel string
	TTSVoice string

	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TextModel == "" {
		c.TextModel = DefaultTextModel
	}
	if c.FastModel == "" {
		c.FastModel = DefaultFastModel
	}
	if c.GroundedModel == "" {
		c.GroundedModel = DefaultGroundedModel
	}
	if c.ComplexModel == "" {
		c.ComplexModel = DefaultComplexModel
	}
	if c.ThinkingBudget <= 0 {
		c.ThinkingBudget = DefaultThinkingBudget
	}
	if c.TTSModel == "" {
		c.TTSModel = DefaultTTSModel
	}
	if c.TTSVoice == "" {
		c.TTSVoice = DefaultTTSVoice
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// NewClient builds a Gemini API client shared by Responder and Speaker.
func NewClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}
