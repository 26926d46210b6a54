package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"lumos/internal/config"
	"lumos/internal/domain"
	"lumos/internal/voice"
)

// InputConstructor builds a speech input from its config section.
type InputConstructor func(vc config.VoiceInputConfig, logger *slog.Logger) (domain.SpeechInput, error)

// OutputConstructor builds a speech output from its config section.
type OutputConstructor func(vc config.VoiceOutputConfig, logger *slog.Logger) (domain.SpeechOutput, error)

// Factory creates speech providers from config. Providers named "none" or
// left empty resolve to the unsupported stand-ins.
type Factory struct {
	cfg    config.VoiceConfig
	logger *slog.Logger

	mu      sync.RWMutex
	inputs  map[string]InputConstructor
	outputs map[string]OutputConstructor
}

func NewFactory(cfg config.VoiceConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:     cfg,
		logger:  logger,
		inputs:  make(map[string]InputConstructor),
		outputs: make(map[string]OutputConstructor),
	}
	f.registerDefaults()
	return f
}

// RegisterInput adds (or replaces) a speech input constructor by name.
func (f *Factory) RegisterInput(name string, ctor InputConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[name] = ctor
}

// RegisterOutput adds (or replaces) a speech output constructor by name.
func (f *Factory) RegisterOutput(name string, ctor OutputConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.inputs["whisper"] = func(vc config.VoiceInputConfig, logger *slog.Logger) (domain.SpeechInput, error) {
		return NewWhisper(WhisperConfig{
			APIBase:  vc.APIBase,
			APIKey:   vc.APIKey,
			Model:    vc.Model,
			Language: vc.Language,
			Source:   vc.Source,
			Logger:   logger,
		}), nil
	}

	tts := func(vc config.VoiceOutputConfig, logger *slog.Logger) (domain.SpeechOutput, error) {
		sink, err := newSink(vc)
		if err != nil {
			return nil, err
		}
		return NewTTS(TTSConfig{
			Provider: vc.Provider,
			APIBase:  vc.APIBase,
			APIKey:   vc.APIKey,
			Model:    vc.Model,
			Voice:    vc.Voice,
			Lang:     vc.PreferredLang,
			Sink:     sink,
			Retries:  defaultMaxRetries,
			Logger:   logger,
		}), nil
	}
	f.outputs["openai"] = tts
	f.outputs["elevenlabs"] = tts
}

func newSink(vc config.VoiceOutputConfig) (AudioSink, error) {
	switch {
	case vc.Player != "":
		return ParseCommandSink(vc.Player)
	case vc.SpoolDir != "":
		return &SpoolSink{Dir: vc.SpoolDir}, nil
	default:
		return DiscardSink{}, nil
	}
}

// Input builds the configured speech input.
func (f *Factory) Input() (domain.SpeechInput, error) {
	name := f.cfg.Input.Provider
	if name == "" || name == "none" {
		return voice.UnsupportedInput{}, nil
	}
	f.mu.RLock()
	ctor, ok := f.inputs[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown speech input provider: %s", name)
	}
	return ctor(f.cfg.Input, f.logger.With("speech", "input", "provider", name))
}

// Output builds the configured speech output.
func (f *Factory) Output() (domain.SpeechOutput, error) {
	name := f.cfg.Output.Provider
	if name == "" || name == "none" {
		return voice.UnsupportedOutput{}, nil
	}
	f.mu.RLock()
	ctor, ok := f.outputs[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown speech output provider: %s", name)
	}
	return ctor(f.cfg.Output, f.logger.With("speech", "output", "provider", name))
}

// Speech builds both capabilities. A provider that fails to build is logged
// and replaced by its unsupported stand-in so a session can still run.
func (f *Factory) Speech() (domain.SpeechInput, domain.SpeechOutput) {
	in, err := f.Input()
	if err != nil {
		f.logger.Warn("speech input unavailable", "err", err)
		in = voice.UnsupportedInput{}
	}
	out, err := f.Output()
	if err != nil {
		f.logger.Warn("speech output unavailable", "err", err)
		out = voice.UnsupportedOutput{}
	}
	return in, out
}
