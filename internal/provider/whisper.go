package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lumos/internal/domain"
)

// WhisperConfig configures the Whisper speech-to-text provider.
type WhisperConfig struct {
	APIBase  string // e.g., "https://api.groq.com/openai/v1" or "https://api.openai.com/v1"
	APIKey   string
	Model    string // e.g., "whisper-large-v3" (Groq) or "whisper-1" (OpenAI)
	Language string // optional: ISO-639-1 language code
	Source   string // recording transcribed on each capture
	Client   *http.Client
	Logger   *slog.Logger
}

// Whisper transcribes a recording through the OpenAI-compatible Whisper API.
// As a domain.SpeechInput, a capture uploads Source and reports the
// transcript segment by segment.
type Whisper struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	source   string
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	gen    uint64 // current capture
	cancel context.CancelFunc
	stop   chan struct{}
}

// NewWhisper creates a new Whisper transcription provider.
func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(120 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		source:   cfg.Source,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

// TranscriptionSegment is one timed piece of a verbose transcription.
type TranscriptionSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult contains the result of a transcription.
type TranscriptionResult struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
}

// Available reports whether there is something to transcribe and a key to
// do it with.
func (w *Whisper) Available() bool {
	return w.apiKey != "" && w.source != ""
}

// RequestPermission checks that the recording can be opened.
func (w *Whisper) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(w.source)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %w", domain.ErrVoiceInputPermissionDenied, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrVoiceInputFailure, err)
	}
	return f.Close()
}

// Start uploads the recording in the background. Stop lets the capture end
// with the text recognized so far; Abort drops it without further events.
func (w *Whisper) Start(ev domain.RecognitionEvents) error {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})

	w.mu.Lock()
	if w.cancel != nil {
		if w.stop != nil {
			w.mu.Unlock()
			cancel()
			return fmt.Errorf("%w: capture already running", domain.ErrVoiceInputFailure)
		}
		// A stopped capture still uploading gives way to the new one.
		w.cancel()
	}
	w.gen++
	gen := w.gen
	w.cancel = cancel
	w.stop = stop
	w.mu.Unlock()

	go func() {
		defer w.finish(gen, cancel)
		w.capture(ctx, stop, ev)
	}()
	return nil
}

func (w *Whisper) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

func (w *Whisper) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = nil
	w.stop = nil
}

func (w *Whisper) capture(ctx context.Context, stop <-chan struct{}, ev domain.RecognitionEvents) {
	f, err := os.Open(w.source)
	if err != nil {
		if ctx.Err() == nil && ev.OnError != nil {
			ev.OnError(err)
		}
		return
	}
	defer f.Close()

	result, err := w.Transcribe(ctx, f, filepath.Base(w.source))
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if ev.OnError != nil {
			ev.OnError(err)
		}
		return
	}

	for _, text := range cumulative(result) {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			if ev.OnEnd != nil {
				ev.OnEnd()
			}
			return
		default:
		}
		if ev.OnResult != nil {
			ev.OnResult(text)
		}
	}
	if ctx.Err() == nil && ev.OnEnd != nil {
		ev.OnEnd()
	}
}

func (w *Whisper) finish(gen uint64, cancel context.CancelFunc) {
	cancel()
	w.mu.Lock()
	if w.gen == gen {
		w.cancel = nil
		w.stop = nil
	}
	w.mu.Unlock()
}

// cumulative turns a transcription into successive best guesses, each
// extending the previous one.
func cumulative(r *TranscriptionResult) []string {
	if len(r.Segments) == 0 {
		if t := strings.TrimSpace(r.Text); t != "" {
			return []string{t}
		}
		return nil
	}
	out := make([]string, 0, len(r.Segments))
	var sb strings.Builder
	for _, seg := range r.Segments {
		part := strings.TrimSpace(seg.Text)
		if part == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(part)
		out = append(out, sb.String())
	}
	return out
}

// Transcribe converts audio data to text.
// filename should include the extension (e.g., "audio.ogg").
func (w *Whisper) Transcribe(ctx context.Context, audioData io.Reader, filename string) (*TranscriptionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioData); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "verbose_json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	writer.Close()

	payload := body.Bytes()
	resp, err := doWithRetry(ctx, w.client, defaultMaxRetries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		return req, nil
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("whisper API request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("whisper", resp)
	}
	defer resp.Body.Close()

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	w.logger.Info("transcription complete",
		"text_len", len(result.Text),
		"segments", len(result.Segments),
		"language", result.Language,
		"duration", result.Duration,
	)

	return &result, nil
}
