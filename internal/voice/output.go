package voice

import (
	"log/slog"
	"strings"
	"sync"

	"lumos/internal/domain"
)

// Output drives a SpeechOutput: at most one utterance is audible at a time,
// a new Speak replaces the one in progress, and disabling output silences it.
type Output struct {
	platform domain.SpeechOutput
	prefs    Preferences
	onState  func(speaking bool)
	onError  func(err error)
	logger   *slog.Logger

	callMu sync.Mutex // serializes calls into the platform

	mu       sync.Mutex
	enabled  bool
	closed   bool
	held     bool   // capture is running; nothing may be spoken
	active   bool   // an utterance was issued and has not ended
	speaking bool   // the platform reported it started rendering
	gen      uint64 // id of the current utterance; stale events are dropped
}

type OutputConfig struct {
	Platform      domain.SpeechOutput
	Preferences   Preferences
	Muted         bool               // start with output disabled
	OnStateChange func(speaking bool) // called on every isSpeaking transition
	OnError       func(err error)     // optional; synthesis failures are non-critical
	Logger        *slog.Logger
}

func NewOutput(cfg OutputConfig) *Output {
	if cfg.Platform == nil {
		cfg.Platform = UnsupportedOutput{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Output{
		platform: cfg.Platform,
		prefs:    cfg.Preferences.withDefaults(),
		onState:  cfg.OnStateChange,
		onError:  cfg.OnError,
		logger:   cfg.Logger,
		enabled:  !cfg.Muted,
	}
}

// Speak renders text aloud. It is a no-op when output is disabled, held,
// closed, or the platform has no synthesis.
func (o *Output) Speak(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	o.callMu.Lock()
	defer o.callMu.Unlock()

	o.mu.Lock()
	if o.held {
		o.mu.Unlock()
		o.logger.Debug("speech held while listening", "text_len", len(text))
		return
	}
	if !o.enabled || o.closed || !o.platform.Available() {
		o.mu.Unlock()
		return
	}
	o.gen++
	gen := o.gen
	wasActive := o.active
	wasSpeaking := o.speaking
	o.active = true
	o.speaking = false
	o.mu.Unlock()

	if wasActive {
		o.platform.Cancel()
	}
	if wasSpeaking {
		o.notify(false)
	}

	u := domain.Utterance{
		Text:   text,
		Voice:  SelectVoice(o.platform.Voices(), o.prefs.Lang, o.prefs.NameHints),
		Rate:   o.prefs.Rate,
		Pitch:  o.prefs.Pitch,
		Volume: o.prefs.Volume,
	}
	err := o.platform.Speak(u, domain.UtteranceEvents{
		OnStart: func() { o.started(gen) },
		OnEnd:   func() { o.finished(gen, nil) },
		OnError: func(err error) { o.finished(gen, err) },
	})
	if err != nil {
		o.finished(gen, err)
	}
}

// Cancel silences the utterance in progress, if any.
func (o *Output) Cancel() {
	o.callMu.Lock()
	defer o.callMu.Unlock()
	o.cancelLocked()
}

// cancelLocked requires callMu.
func (o *Output) cancelLocked() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.gen++
	o.active = false
	wasSpeaking := o.speaking
	o.speaking = false
	o.mu.Unlock()

	o.platform.Cancel()
	if wasSpeaking {
		o.notify(false)
	}
}

// Hold cancels the utterance in progress and keeps Speak silent until
// Release.
func (o *Output) Hold() {
	o.callMu.Lock()
	defer o.callMu.Unlock()
	o.mu.Lock()
	o.held = true
	o.mu.Unlock()
	o.cancelLocked()
}

// Release lets Speak render again.
func (o *Output) Release() {
	o.mu.Lock()
	o.held = false
	o.mu.Unlock()
}

// Held reports whether capture is holding output quiet.
func (o *Output) Held() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held
}

// SetEnabled toggles output. Disabling cancels the utterance in progress.
// Setting the current value again has no effect.
func (o *Output) SetEnabled(enabled bool) {
	o.callMu.Lock()
	defer o.callMu.Unlock()

	o.mu.Lock()
	if o.enabled == enabled {
		o.mu.Unlock()
		return
	}
	o.enabled = enabled
	o.mu.Unlock()

	if !enabled {
		o.cancelLocked()
	}
}

func (o *Output) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// Available reports whether the platform can synthesize speech at all.
func (o *Output) Available() bool {
	return o.platform.Available()
}

// Close cancels any utterance and makes later Speak calls no-ops.
func (o *Output) Close() {
	o.callMu.Lock()
	defer o.callMu.Unlock()
	o.cancelLocked()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *Output) started(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || !o.active || o.speaking {
		o.mu.Unlock()
		return
	}
	o.speaking = true
	o.mu.Unlock()
	o.notify(true)
}

func (o *Output) finished(gen uint64, err error) {
	o.mu.Lock()
	if gen != o.gen || !o.active {
		o.mu.Unlock()
		return
	}
	o.active = false
	wasSpeaking := o.speaking
	o.speaking = false
	o.mu.Unlock()

	if wasSpeaking {
		o.notify(false)
	}
	if err != nil {
		o.logger.Debug("speech output failed", "err", err)
		if o.onError != nil {
			o.onError(wrapOutputErr(err))
		}
	}
}

func (o *Output) notify(speaking bool) {
	if o.onState != nil {
		o.onState(speaking)
	}
}
