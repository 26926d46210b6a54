package voice

import (
	"strings"

	"lumos/internal/domain"
)

const (
	DefaultLang   = "en-US"
	DefaultRate   = 1.0
	DefaultPitch  = 1.0
	DefaultVolume = 0.8
)

// Preferences shape each utterance. They are hints: a platform without a
// matching voice speaks with its default one.
type Preferences struct {
	Lang      string
	NameHints []string // every hint must appear in the voice name
	Rate      float64
	Pitch     float64
	Volume    float64
}

// DefaultPreferences prefers an en-US Google female voice.
func DefaultPreferences() Preferences {
	return Preferences{
		Lang:      DefaultLang,
		NameHints: []string{"Google", "Female"},
		Rate:      DefaultRate,
		Pitch:     DefaultPitch,
		Volume:    DefaultVolume,
	}
}

func (p Preferences) withDefaults() Preferences {
	if p.Rate <= 0 {
		p.Rate = DefaultRate
	}
	if p.Pitch <= 0 {
		p.Pitch = DefaultPitch
	}
	if p.Volume <= 0 {
		p.Volume = DefaultVolume
	}
	return p
}

// SelectVoice returns the name of the best voice for lang and hints: first a
// voice in lang whose name contains every hint, then any voice in lang.
// An empty result means "use the platform default".
func SelectVoice(voices []domain.Voice, lang string, hints []string) string {
	if lang == "" {
		return ""
	}
	var sameLang string
	for _, v := range voices {
		if !strings.EqualFold(v.Lang, lang) {
			continue
		}
		if containsAll(v.Name, hints) {
			return v.Name
		}
		if sameLang == "" {
			sameLang = v.Name
		}
	}
	return sameLang
}

func containsAll(name string, hints []string) bool {
	for _, h := range hints {
		if !strings.Contains(name, h) {
			return false
		}
	}
	return true
}
