package agent

import (
	"log/slog"
	"time"

	"lumos/internal/bus"
	"lumos/internal/domain"
	"lumos/internal/voice"

	"github.com/google/uuid"
)

// SpeechConstructor builds the speech capabilities for one session. Either
// return value may be nil for "not supported".
type SpeechConstructor func() (domain.SpeechInput, domain.SpeechOutput)

// SessionFactory creates sessions that share a router and settings.
type SessionFactory struct {
	router        domain.IntentRouter
	speech        SpeechConstructor
	prefs         voice.Preferences
	muted         bool
	thinkingDelay time.Duration
	greeting      string
	logger        *slog.Logger
}

type FactoryConfig struct {
	Router        domain.IntentRouter
	Speech        SpeechConstructor // optional, sessions get no speech when nil
	Voice         voice.Preferences
	SpeechMuted   bool
	ThinkingDelay time.Duration
	Greeting      string
	Logger        *slog.Logger
}

func NewSessionFactory(cfg FactoryConfig) *SessionFactory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Router == nil {
		cfg.Router = NewDefaultRouter()
	}
	return &SessionFactory{
		router:        cfg.Router,
		speech:        cfg.Speech,
		prefs:         cfg.Voice,
		muted:         cfg.SpeechMuted,
		thinkingDelay: cfg.ThinkingDelay,
		greeting:      cfg.Greeting,
		logger:        cfg.Logger,
	}
}

// New creates a session with the factory's own speech capabilities.
func (f *SessionFactory) New(events *bus.EventBus) *Session {
	var in domain.SpeechInput
	var out domain.SpeechOutput
	if f.speech != nil {
		in, out = f.speech()
	}
	return f.NewWithSpeech(events, in, out)
}

// NewWithSpeech creates a session over the given capabilities, for front
// ends that bring their own (a browser connection, for instance).
func (f *SessionFactory) NewWithSpeech(events *bus.EventBus, in domain.SpeechInput, out domain.SpeechOutput) *Session {
	id := uuid.NewString()
	f.logger.Debug("creating session", "session", id)
	return NewSession(SessionConfig{
		ID:            id,
		Router:        f.router,
		Events:        events,
		SpeechInput:   in,
		SpeechOutput:  out,
		Voice:         f.prefs,
		SpeechMuted:   f.muted,
		ThinkingDelay: f.thinkingDelay,
		Greeting:      f.greeting,
		Logger:        f.logger,
	})
}

// NewText creates a session without speech, for text-only channels.
func (f *SessionFactory) NewText(events *bus.EventBus) *Session {
	return f.NewWithSpeech(events, nil, nil)
}
