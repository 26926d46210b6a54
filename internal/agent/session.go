package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lumos/internal/bus"
	"lumos/internal/domain"
	"lumos/internal/memory"
	"lumos/internal/metrics"
	"lumos/internal/voice"
)

const (
	DefaultThinkingDelay = 1000 * time.Millisecond
	DefaultGreeting      = "Hello! I'm CLUMOSS AI Assistant. How can I help you today?"
)

// User-facing notices.
const (
	NoticeSpeechOn         = "Voice responses turned on"
	NoticeSpeechOff        = "Voice responses turned off"
	NoticeListening        = "Listening..."
	NoticeMicDenied        = "Microphone access denied. Please enable it in your browser settings."
	NoticeRecognitionError = "Speech recognition failed. Try again later."
	NoticeUnsupported      = "Speech recognition is not supported in your browser."
	NoticeThrottled        = "You're sending messages too quickly. Please wait a moment."
)

var (
	ErrEmptyInput      = errors.New("empty input")
	ErrSessionClosed   = errors.New("session closed")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrNotAssistantMsg = errors.New("only assistant messages can be replayed")
)

// Timer is the handle of a deferred reply; *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d on another goroutine.
// It must not call f synchronously.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Session is one open chat view: it owns the message log, the pending
// input and both voice controllers, and turns submissions into delayed
// canned replies.
//
// Event handlers run synchronously on the goroutine that caused the event.
// They must not call Submit or Close.
type Session struct {
	id     string
	router domain.IntentRouter
	log    *memory.Log
	input  *voice.Input
	output *voice.Output
	events *bus.EventBus
	delay  time.Duration
	after  AfterFunc
	now    func() time.Time
	logger *slog.Logger

	turnMu sync.Mutex // orders log appends against Close

	mu                 sync.Mutex
	pendingInput       string
	pending            map[uint64]Timer // outstanding thinking delays by submission
	nextToken          uint64
	closed             bool
	unsupportedNoticed bool
}

// SessionConfig holds the collaborators of a Session.
type SessionConfig struct {
	ID            string
	Router        domain.IntentRouter
	Events        *bus.EventBus // optional, one is created when nil
	SpeechInput   domain.SpeechInput
	SpeechOutput  domain.SpeechOutput
	Voice         voice.Preferences
	SpeechMuted   bool
	ThinkingDelay time.Duration
	Greeting      string // first assistant message; "-" for none
	AfterFunc     AfterFunc
	Logger        *slog.Logger
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Router == nil {
		cfg.Router = NewDefaultRouter()
	}
	if cfg.Events == nil {
		cfg.Events = bus.NewEventBus(cfg.Logger)
	}
	if cfg.ThinkingDelay <= 0 {
		cfg.ThinkingDelay = DefaultThinkingDelay
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}

	s := &Session{
		id:      cfg.ID,
		router:  cfg.Router,
		log:     memory.NewLog(),
		events:  cfg.Events,
		delay:   cfg.ThinkingDelay,
		after:   cfg.AfterFunc,
		now:     time.Now,
		logger:  cfg.Logger.With("session", cfg.ID),
		pending: make(map[uint64]Timer),
	}

	s.output = voice.NewOutput(voice.OutputConfig{
		Platform:      cfg.SpeechOutput,
		Preferences:   cfg.Voice,
		Muted:         cfg.SpeechMuted,
		OnStateChange: s.speakingChanged,
		OnError: func(err error) {
			metrics.VoiceOutputErrors.Inc()
			s.logger.Debug("speech output error", "err", err)
		},
		Logger: s.logger,
	})
	s.input = voice.NewInput(voice.InputConfig{
		Platform:      cfg.SpeechInput,
		Silencer:      s.output,
		OnTranscript:  s.transcript,
		OnStateChange: s.listeningChanged,
		OnError:       s.voiceInputFailed,
		Logger:        s.logger,
	})

	s.log.OnAppend(func(m domain.Message) {
		s.emit(bus.EventMessageAppended, map[string]any{bus.KeyMessage: m})
	})
	if cfg.Greeting != "-" {
		s.log.Append(domain.AuthorAssistant, cfg.Greeting)
	}

	metrics.ActiveSessions.Inc()
	return s
}

func (s *Session) ID() string { return s.id }

// Events returns the bus the presentation layer subscribes to.
func (s *Session) Events() *bus.EventBus { return s.events }

// Messages returns the log, oldest first.
func (s *Session) Messages() []domain.Message { return s.log.All() }

func (s *Session) Log() *memory.Log { return s.log }

// Snapshot is the state a presentation layer renders controls from.
type Snapshot struct {
	PendingInput  string            `json:"pending_input"`
	Listening     bool              `json:"listening"`
	VoiceInput    domain.VoiceState `json:"voice_input"`
	Speaking      bool              `json:"speaking"`
	SpeechEnabled bool              `json:"speech_enabled"`
	Thinking      int               `json:"thinking"`
	Closed        bool              `json:"closed"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		PendingInput: s.pendingInput,
		Thinking:     len(s.pending),
		Closed:       s.closed,
	}
	s.mu.Unlock()
	snap.VoiceInput = s.input.State()
	snap.Listening = snap.VoiceInput == domain.VoiceListening
	snap.Speaking = s.output.Speaking()
	snap.SpeechEnabled = s.output.Enabled()
	return snap
}

func (s *Session) PendingInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingInput
}

func (s *Session) IsListening() bool   { return s.input.Listening() }
func (s *Session) IsSpeaking() bool    { return s.output.Speaking() }
func (s *Session) SpeechEnabled() bool { return s.output.Enabled() }

// SetPendingInput stages typed text for submission.
func (s *Session) SetPendingInput(text string) {
	if !s.setPending(text) {
		return
	}
	s.emit(bus.EventInputChanged, map[string]any{bus.KeyText: text})
}

// SubmitPending submits the staged input.
func (s *Session) SubmitPending() error {
	return s.Submit(s.PendingInput())
}

// Submit appends text as a user message right away and schedules the
// assistant's reply after the thinking delay. Blank text is rejected.
func (s *Session) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		metrics.RejectedSubmits.Inc()
		return ErrEmptyInput
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.RejectedSubmits.Inc()
		return ErrSessionClosed
	}
	s.nextToken++
	token := s.nextToken
	s.mu.Unlock()

	msg := s.log.Append(domain.AuthorUser, text)
	metrics.UserMessages.Inc()
	s.SetPendingInput("")

	submitted := s.now()
	s.mu.Lock()
	s.pending[token] = s.after(s.delay, func() { s.respond(token, text, submitted) })
	s.mu.Unlock()

	s.logger.Debug("message submitted", "message", msg.ID, "text_len", len(text))
	return nil
}

// respond runs when the thinking delay for one submission has elapsed.
// Each reply carries its own text, so overlapping submissions stay intact.
func (s *Session) respond(token uint64, text string, submitted time.Time) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if _, ok := s.pending[token]; !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, token)
	s.mu.Unlock()

	route := s.router.Route(text)
	msg := s.log.Append(domain.AuthorAssistant, route.Response)
	metrics.AssistantMessages.Inc()
	metrics.IntentRouted(route.Intent).Inc()
	metrics.ReplyLatency.Observe(s.now().Sub(submitted).Seconds())

	if s.input.Active() {
		s.logger.Debug("reply not spoken, capture is active", "message", msg.ID)
	} else {
		s.output.Speak(route.Response)
	}

	if route.HasTarget() {
		metrics.Navigations.Inc()
		s.emit(bus.EventNavigate, map[string]any{bus.KeyTarget: route.Target})
	}
	s.logger.Info("assistant replied", "message", msg.ID, "intent", route.Intent, "target", route.Target)
}

// ToggleListening starts voice capture, or stops it if it is running.
// Errors are also surfaced as notices; none of them end the session.
func (s *Session) ToggleListening(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.input.Active() {
		s.input.Stop()
		return nil
	}

	err := s.input.Start(ctx)
	switch {
	case err == nil:
		if s.input.Listening() {
			s.notice(bus.LevelInfo, NoticeListening)
		}
	case errors.Is(err, domain.ErrVoiceInputUnsupported):
		s.mu.Lock()
		first := !s.unsupportedNoticed
		s.unsupportedNoticed = true
		s.mu.Unlock()
		if first {
			s.notice(bus.LevelError, NoticeUnsupported)
		}
	default:
		s.voiceInputFailed(err)
	}
	return err
}

// ToggleSpeech flips voice responses and returns the new setting.
func (s *Session) ToggleSpeech() bool {
	enabled := !s.output.Enabled()
	s.SetSpeechEnabled(enabled)
	return enabled
}

// SetSpeechEnabled turns voice responses on or off. Repeating the current
// setting changes nothing.
func (s *Session) SetSpeechEnabled(enabled bool) {
	if s.output.Enabled() == enabled {
		return
	}
	s.output.SetEnabled(enabled)
	s.emit(bus.EventSpeechToggled, map[string]any{bus.KeyEnabled: enabled})
	if enabled {
		s.notice(bus.LevelSuccess, NoticeSpeechOn)
	} else {
		s.notice(bus.LevelSuccess, NoticeSpeechOff)
	}
}

// Replay speaks an earlier assistant message again.
func (s *Session) Replay(id uint64) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	msg, ok := s.log.Get(id)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.IsUser() {
		return ErrNotAssistantMsg
	}
	s.output.Speak(msg.Text)
	return nil
}

// Close tears the session down: pending replies are dropped, capture is
// aborted and speech is cancelled. Safe to call more than once.
func (s *Session) Close() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timers := s.pending
	s.pending = make(map[uint64]Timer)
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	s.input.Close()
	s.output.Close()

	metrics.ActiveSessions.Dec()
	s.emit(bus.EventSessionClosed, nil)
	s.logger.Info("session closed", "messages", s.log.Len(), "dropped_replies", len(timers))
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setPending(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pendingInput == text {
		return false
	}
	s.pendingInput = text
	return true
}

// transcript replaces the pending input with the recognizer's cumulative
// best guess.
func (s *Session) transcript(text string) {
	s.SetPendingInput(text)
}

func (s *Session) listeningChanged(state domain.VoiceState) {
	s.emit(bus.EventVoiceInputState, map[string]any{bus.KeyState: state})
}

func (s *Session) speakingChanged(speaking bool) {
	s.emit(bus.EventVoiceOutputState, map[string]any{bus.KeySpeaking: speaking})
}

func (s *Session) voiceInputFailed(err error) {
	metrics.VoiceInputErrors.Inc()
	s.logger.Warn("voice input error", "err", err)
	if errors.Is(err, domain.ErrVoiceInputPermissionDenied) {
		s.notice(bus.LevelError, NoticeMicDenied)
		return
	}
	s.notice(bus.LevelError, NoticeRecognitionError)
}

func (s *Session) notice(level, text string) {
	s.emit(bus.EventNotice, map[string]any{bus.KeyLevel: level, bus.KeyText: text})
}

func (s *Session) emit(eventType string, payload map[string]any) {
	s.events.Emit(bus.Event{Type: eventType, Source: s.id, Payload: payload})
}
