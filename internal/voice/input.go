package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"lumos/internal/domain"
)

// Silencer is audio output that capture holds quiet: Hold cancels the
// utterance in progress and refuses new ones until Release, so the
// microphone never records the assistant's own voice.
type Silencer interface {
	Hold()
	Release()
}

// Input drives a SpeechInput through idle, requesting-permission,
// listening and error.
type Input struct {
	platform     domain.SpeechInput
	silencer     Silencer
	onTranscript func(string)
	onState      func(domain.VoiceState)
	onError      func(error)
	logger       *slog.Logger

	startMu sync.Mutex // one Start in flight at a time

	mu     sync.Mutex
	state  domain.VoiceState
	gen    uint64 // capture attempt; events from older attempts are dropped
	closed bool
}

type InputConfig struct {
	Platform      domain.SpeechInput
	Silencer      Silencer
	OnTranscript  func(text string)             // cumulative transcript, replaces pending input
	OnStateChange func(state domain.VoiceState) // called on every transition
	OnError       func(err error)               // failures after capture began
	Logger        *slog.Logger
}

func NewInput(cfg InputConfig) *Input {
	if cfg.Platform == nil {
		cfg.Platform = UnsupportedInput{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Input{
		platform:     cfg.Platform,
		silencer:     cfg.Silencer,
		onTranscript: cfg.OnTranscript,
		onState:      cfg.OnStateChange,
		onError:      cfg.OnError,
		logger:       cfg.Logger,
		state:        domain.VoiceIdle,
	}
}

func (in *Input) State() domain.VoiceState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Listening reports whether capture is active.
func (in *Input) Listening() bool {
	return in.State() == domain.VoiceListening
}

// Active reports whether capture is starting or running.
func (in *Input) Active() bool {
	s := in.State()
	return s == domain.VoiceRequesting || s == domain.VoiceListening
}

// Start requests permission and begins capture. It blocks while the
// permission request is outstanding. Calling Start while capture is already
// starting or running does nothing.
//
// The returned error wraps domain.ErrVoiceInputUnsupported,
// domain.ErrVoiceInputPermissionDenied or domain.ErrVoiceInputFailure.
func (in *Input) Start(ctx context.Context) error {
	in.startMu.Lock()
	defer in.startMu.Unlock()

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return fmt.Errorf("%w: controller closed", domain.ErrVoiceInputFailure)
	}
	if in.state == domain.VoiceRequesting || in.state == domain.VoiceListening {
		in.mu.Unlock()
		return nil
	}
	in.gen++
	gen := in.gen
	if !in.platform.Available() {
		in.state = domain.VoiceError
		in.mu.Unlock()
		in.notify(domain.VoiceError)
		return domain.ErrVoiceInputUnsupported
	}
	in.state = domain.VoiceRequesting
	in.mu.Unlock()
	in.notify(domain.VoiceRequesting)

	if err := in.platform.RequestPermission(ctx); err != nil {
		err = classifyInputErr(err)
		in.transition(gen, domain.VoiceError, domain.VoiceRequesting)
		return err
	}

	// Stop or Close may have run while permission was pending.
	in.mu.Lock()
	stale := gen != in.gen
	in.mu.Unlock()
	if stale {
		return nil
	}

	if in.silencer != nil {
		in.silencer.Hold()
	}

	err := in.platform.Start(domain.RecognitionEvents{
		OnResult: func(t string) { in.result(gen, t) },
		OnEnd:    func() { in.transition(gen, domain.VoiceIdle, domain.VoiceRequesting, domain.VoiceListening) },
		OnError:  func(err error) { in.failed(gen, err) },
	})
	if err != nil {
		err = classifyInputErr(err)
		in.transition(gen, domain.VoiceError, domain.VoiceRequesting)
		return err
	}

	if !in.transition(gen, domain.VoiceListening, domain.VoiceRequesting) {
		// Stopped meanwhile, or the platform already ended the capture.
		in.mu.Lock()
		stale = gen != in.gen
		in.mu.Unlock()
		if stale {
			in.platform.Abort()
		}
	}
	return nil
}

// Stop ends capture (or abandons a pending permission request) and returns
// to idle.
func (in *Input) Stop() {
	in.mu.Lock()
	prev := in.state
	if prev != domain.VoiceRequesting && prev != domain.VoiceListening {
		in.mu.Unlock()
		return
	}
	in.gen++
	in.state = domain.VoiceIdle
	in.mu.Unlock()

	if prev == domain.VoiceListening {
		in.platform.Stop()
	}
	in.notify(domain.VoiceIdle)
}

// Close aborts any capture and rejects further Start calls.
func (in *Input) Close() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	prev := in.state
	in.gen++
	in.state = domain.VoiceIdle
	in.mu.Unlock()

	switch prev {
	case domain.VoiceListening:
		in.platform.Abort()
		in.notify(domain.VoiceIdle)
	case domain.VoiceRequesting:
		in.notify(domain.VoiceIdle)
	}
}

func (in *Input) result(gen uint64, transcript string) {
	in.mu.Lock()
	ok := gen == in.gen && (in.state == domain.VoiceListening || in.state == domain.VoiceRequesting)
	in.mu.Unlock()
	if ok && in.onTranscript != nil {
		in.onTranscript(transcript)
	}
}

func (in *Input) failed(gen uint64, err error) {
	if !in.transition(gen, domain.VoiceIdle, domain.VoiceRequesting, domain.VoiceListening) {
		return
	}
	err = classifyInputErr(err)
	in.logger.Warn("speech recognition error", "err", err)
	if in.onError != nil {
		in.onError(err)
	}
}

// transition moves to `to` if gen is current and the state is one of from.
func (in *Input) transition(gen uint64, to domain.VoiceState, from ...domain.VoiceState) bool {
	in.mu.Lock()
	if gen != in.gen {
		in.mu.Unlock()
		return false
	}
	allowed := false
	for _, f := range from {
		if in.state == f {
			allowed = true
			break
		}
	}
	if !allowed {
		in.mu.Unlock()
		return false
	}
	in.state = to
	in.mu.Unlock()
	in.notify(to)
	return true
}

func (in *Input) notify(s domain.VoiceState) {
	if in.silencer != nil && (s == domain.VoiceIdle || s == domain.VoiceError) {
		in.silencer.Release()
	}
	if in.onState != nil {
		in.onState(s)
	}
}

func classifyInputErr(err error) error {
	switch {
	case errors.Is(err, domain.ErrVoiceInputPermissionDenied),
		errors.Is(err, domain.ErrVoiceInputUnsupported),
		errors.Is(err, domain.ErrVoiceInputFailure):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrVoiceInputFailure, err)
	}
}

func wrapOutputErr(err error) error {
	if errors.Is(err, domain.ErrVoiceOutputFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrVoiceOutputFailure, err)
}
