package indicator

import (
	"os"
	"strings"

	"github.com/rbright/parley/internal/config"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	listening string
	speaking  string
	errorText string
}

func indicatorMessagesFromEnv(cfg config.IndicatorConfig) messages {
	msg := indicatorMessages(resolveLocale(os.Getenv("LANG")))
	if text := strings.TrimSpace(cfg.TextListening); text != "" {
		msg.listening = text
	}
	if text := strings.TrimSpace(cfg.TextSpeaking); text != "" {
		msg.speaking = text
	}
	if text := strings.TrimSpace(cfg.TextError); text != "" {
		msg.errorText = text
	}
	return msg
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			listening: "Listening…",
			speaking:  "Speaking…",
			errorText: "Voice session error",
		}
	}
}
