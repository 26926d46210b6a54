package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lumos/internal/domain"
)

const (
	defaultElevenLabsBase  = "https://api.elevenlabs.io/v1"
	defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"
)

// openAIVoices are the voices of the OpenAI speech endpoint. They all speak
// the input language, so they are listed under the default locale.
var openAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// TTSConfig configures the text-to-speech provider.
type TTSConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g. "tts-1" (OpenAI) or "eleven_monolingual_v1" (ElevenLabs)
	Voice    string // default voice name or ElevenLabs voice ID
	Lang     string // locale reported for the voices, default "en-US"
	Sink     AudioSink
	Client   *http.Client
	Retries  int
	Logger   *slog.Logger
}

// TTS speaks utterances through an HTTP speech API. It implements
// domain.SpeechOutput; at most one utterance is in flight.
type TTS struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	lang     string
	sink     AudioSink
	client   *http.Client
	retries  int
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewTTS creates a new text-to-speech output.
func NewTTS(cfg TTSConfig) *TTS {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
		if cfg.Provider == "elevenlabs" {
			cfg.APIBase = defaultElevenLabsBase
		}
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
		if cfg.Provider == "elevenlabs" {
			cfg.Model = "eleven_monolingual_v1"
		}
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
		if cfg.Provider == "elevenlabs" {
			cfg.Voice = defaultElevenLabsVoice
		}
	}
	if cfg.Lang == "" {
		cfg.Lang = "en-US"
	}
	if cfg.Sink == nil {
		cfg.Sink = DiscardSink{}
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(60 * time.Second)
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TTS{
		provider: cfg.Provider,
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		lang:     cfg.Lang,
		sink:     cfg.Sink,
		client:   cfg.Client,
		retries:  cfg.Retries,
		logger:   cfg.Logger,
	}
}

// Available reports whether the provider is usable. Without an API key every
// request would be rejected.
func (t *TTS) Available() bool {
	return t.apiKey != ""
}

func (t *TTS) Voices() []domain.Voice {
	if t.provider != "openai" {
		return []domain.Voice{{Name: t.voice, Lang: t.lang}}
	}
	voices := make([]domain.Voice, len(openAIVoices))
	for i, name := range openAIVoices {
		voices[i] = domain.Voice{Name: name, Lang: t.lang}
	}
	return voices
}

// Speak starts synthesis in the background and returns immediately.
// Events fire on the synthesis goroutine; a cancelled utterance fires none.
func (t *TTS) Speak(u domain.Utterance, ev domain.UtteranceEvents) error {
	if u.Text == "" {
		return errors.New("empty utterance")
	}
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	t.mu.Unlock()

	go t.render(ctx, cancel, u, ev)
	return nil
}

// Cancel aborts the request or playback in progress.
func (t *TTS) Cancel() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
}

func (t *TTS) render(ctx context.Context, cancel context.CancelFunc, u domain.Utterance, ev domain.UtteranceEvents) {
	defer cancel()

	audio, err := t.Synthesize(ctx, u)
	if err != nil {
		if ctx.Err() == nil && ev.OnError != nil {
			ev.OnError(err)
		}
		return
	}
	defer audio.Close()

	if ctx.Err() != nil {
		return
	}
	if ev.OnStart != nil {
		ev.OnStart()
	}

	err = t.sink.Play(ctx, audio)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		t.logger.Debug("audio playback failed", "err", err)
		if ev.OnError != nil {
			ev.OnError(err)
		}
		return
	}
	if ev.OnEnd != nil {
		ev.OnEnd()
	}
}

// Synthesize converts an utterance to audio (MP3).
// The caller closes the returned reader.
func (t *TTS) Synthesize(ctx context.Context, u domain.Utterance) (io.ReadCloser, error) {
	switch t.provider {
	case "openai":
		return t.synthesizeOpenAI(ctx, u)
	case "elevenlabs":
		return t.synthesizeElevenLabs(ctx, u)
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", t.provider)
	}
}

type openAISpeechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

func (t *TTS) synthesizeOpenAI(ctx context.Context, u domain.Utterance) (io.ReadCloser, error) {
	voice := t.voice
	if u.Voice != "" {
		voice = u.Voice
	}
	body, err := json.Marshal(openAISpeechRequest{
		Model: t.model,
		Input: u.Text,
		Voice: voice,
		Speed: clamp(u.Rate, 0.25, 4),
	})
	if err != nil {
		return nil, err
	}

	resp, err := doWithRetry(ctx, t.client, t.retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/audio/speech", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("TTS API request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("TTS", resp)
	}
	return resp.Body, nil
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

func (t *TTS) synthesizeElevenLabs(ctx context.Context, u domain.Utterance) (io.ReadCloser, error) {
	voiceID := t.voice
	if u.Voice != "" {
		voiceID = u.Voice
	}
	body, err := json.Marshal(elevenLabsRequest{
		Text:    u.Text,
		ModelID: t.model,
		VoiceSettings: elevenLabsSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           clamp(u.Rate, 0.7, 1.2),
		},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", t.apiBase, voiceID)
	resp, err := doWithRetry(ctx, t.client, t.retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("xi-api-key", t.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		return req, nil
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs API request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("ElevenLabs", resp)
	}
	return resp.Body, nil
}

// clamp limits v to [lo, hi]; zero stays zero so the API default applies.
func clamp(v, lo, hi float64) float64 {
	switch {
	case v == 0:
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
