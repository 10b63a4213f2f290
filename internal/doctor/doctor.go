// Package doctor runs runtime readiness diagnostics for config, credentials, audio, and Gemini.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
)

// DefaultRESTBase is probed when gemini.base_url is unset.
const DefaultRESTBase = "https://generativelanguage.googleapis.com"

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks := []Check{{Name: "config", Pass: true, Message: message}}

	checks = append(checks, checkAPIKey(cfg.Config.Gemini))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	if cfg.Config.Playback.Enable {
		checks = append(checks, checkAudioOutput(cfg.Config))
	}
	if cfg.Config.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications use busctl"))
	}
	checks = append(checks, checkGeminiReachable(ctx, cfg.Config.Gemini))

	return Report{Checks: checks}
}

// checkAPIKey reports where the key comes from without printing it.
func checkAPIKey(cfg config.GeminiConfig) Check {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return Check{Name: "gemini.api_key", Pass: true, Message: "inline key set in config"}
	}
	if cfg.ResolveAPIKey() != "" {
		return Check{Name: "gemini.api_key", Pass: true, Message: fmt.Sprintf("read from $%s", cfg.APIKeyEnv)}
	}
	if cfg.APIKeyEnv == "" {
		return Check{Name: "gemini.api_key", Pass: false, Message: "no api key and gemini.api_key_env is empty"}
	}
	return Check{Name: "gemini.api_key", Pass: false, Message: fmt.Sprintf("$%s is empty", cfg.APIKeyEnv)}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkAudioOutput opens and releases the configured playback sink.
func checkAudioOutput(cfg config.Config) Check {
	player, err := audio.OpenPlayer(audio.PlayerOptions{Sink: cfg.Playback.Sink})
	if err != nil {
		return Check{Name: "audio.output", Pass: false, Message: err.Error()}
	}
	_ = player.Close()

	sink := cfg.Playback.Sink
	if sink == "" {
		sink = "default"
	}
	return Check{Name: "audio.output", Pass: true, Message: fmt.Sprintf("opened sink %q", sink)}
}

// checkGeminiReachable lists one model to confirm the endpoint accepts the key.
func checkGeminiReachable(ctx context.Context, cfg config.GeminiConfig) Check {
	key := cfg.ResolveAPIKey()
	if key == "" {
		return Check{Name: "gemini.reachable", Pass: false, Message: "skipped: no api key"}
	}

	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultRESTBase
	}
	url := strings.TrimRight(base, "/") + "/v1beta/models?pageSize=1"

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: "gemini.reachable", Pass: false, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("x-goog-api-key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "gemini.reachable", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Check{Name: "gemini.reachable", Pass: false, Message: fmt.Sprintf("HTTP %d: api key rejected", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Check{Name: "gemini.reachable", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, base)}
	}
	return Check{Name: "gemini.reachable", Pass: true, Message: fmt.Sprintf("reachable at %s", base)}
}
