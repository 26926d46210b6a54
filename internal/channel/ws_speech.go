package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lumos/internal/domain"
)

const defaultPermissionTimeout = 30 * time.Second

// speechBridge lends a session the speech capabilities of the browser on
// the other end of a connection. Commands go out as WSMessages and the
// browser reports progress back with the id of the capture or utterance it
// belongs to; reports for an id that is no longer current are dropped.
type speechBridge struct {
	send          func(WSMessage)
	logger        *slog.Logger
	permitTimeout time.Duration

	mu        sync.Mutex
	stt       bool
	tts       bool
	voices    []domain.Voice
	granted   bool
	permit    chan error // pending mic.request, if any
	nextID    uint64
	captureID uint64
	capture   domain.RecognitionEvents
	utterID   uint64
	utter     domain.UtteranceEvents
	closed    bool
	done      chan struct{}
}

func newSpeechBridge(send func(WSMessage), logger *slog.Logger) *speechBridge {
	return &speechBridge{
		send:          send,
		logger:        logger,
		permitTimeout: defaultPermissionTimeout,
		done:          make(chan struct{}),
	}
}

func (b *speechBridge) input() domain.SpeechInput   { return remoteInput{b} }
func (b *speechBridge) output() domain.SpeechOutput { return remoteOutput{b} }

// setCapabilities records what the browser announced in its hello.
func (b *speechBridge) setCapabilities(stt, tts bool, voices []domain.Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stt = stt
	b.tts = tts
	if voices != nil {
		b.voices = voices
	}
}

func (b *speechBridge) setVoices(voices []domain.Voice) {
	b.mu.Lock()
	b.voices = voices
	b.mu.Unlock()
}

// close releases a pending permission wait. Later reports are ignored.
func (b *speechBridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.captureID, b.utterID = 0, 0
	close(b.done)
}

// handle applies one speech report from the browser. It reports whether
// msg was a speech report at all.
func (b *speechBridge) handle(msg WSMessage) bool {
	switch msg.Type {
	case MsgMicGranted:
		b.resolvePermission(nil)
	case MsgMicDenied:
		b.resolvePermission(domain.ErrVoiceInputPermissionDenied)
	case MsgSTTResult:
		if ev, ok := b.currentCapture(msg.ID, false); ok && ev.OnResult != nil {
			ev.OnResult(msg.Text)
		}
	case MsgSTTEnd:
		if ev, ok := b.currentCapture(msg.ID, true); ok && ev.OnEnd != nil {
			ev.OnEnd()
		}
	case MsgSTTError:
		if ev, ok := b.currentCapture(msg.ID, true); ok && ev.OnError != nil {
			ev.OnError(recognitionError(msg.Error))
		}
	case MsgTTSStart:
		if ev, ok := b.currentUtterance(msg.ID, false); ok && ev.OnStart != nil {
			ev.OnStart()
		}
	case MsgTTSEnd:
		if ev, ok := b.currentUtterance(msg.ID, true); ok && ev.OnEnd != nil {
			ev.OnEnd()
		}
	case MsgTTSError:
		if ev, ok := b.currentUtterance(msg.ID, true); ok && ev.OnError != nil {
			ev.OnError(fmt.Errorf("%w: %s", domain.ErrVoiceOutputFailure, msg.Error))
		}
	default:
		return false
	}
	return true
}

// recognitionError maps the browser's SpeechRecognition error codes.
func recognitionError(code string) error {
	switch code {
	case "not-allowed", "service-not-allowed":
		return domain.ErrVoiceInputPermissionDenied
	case "":
		return domain.ErrVoiceInputFailure
	default:
		return fmt.Errorf("%w: %s", domain.ErrVoiceInputFailure, code)
	}
}

func (b *speechBridge) resolvePermission(err error) {
	b.mu.Lock()
	ch := b.permit
	b.permit = nil
	if err == nil {
		b.granted = true
	}
	b.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func (b *speechBridge) currentCapture(id uint64, finish bool) (domain.RecognitionEvents, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == 0 || id != b.captureID {
		return domain.RecognitionEvents{}, false
	}
	ev := b.capture
	if finish {
		b.captureID = 0
		b.capture = domain.RecognitionEvents{}
	}
	return ev, true
}

func (b *speechBridge) currentUtterance(id uint64, finish bool) (domain.UtteranceEvents, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == 0 || id != b.utterID {
		return domain.UtteranceEvents{}, false
	}
	ev := b.utter
	if finish {
		b.utterID = 0
		b.utter = domain.UtteranceEvents{}
	}
	return ev, true
}

type remoteInput struct{ b *speechBridge }

func (r remoteInput) Available() bool {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.b.stt && !r.b.closed
}

// RequestPermission asks the browser for the microphone once per
// connection and waits for the answer.
func (r remoteInput) RequestPermission(ctx context.Context) error {
	b := r.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: connection closed", domain.ErrVoiceInputFailure)
	}
	if b.granted {
		b.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	b.permit = ch
	b.mu.Unlock()

	b.send(WSMessage{Type: MsgMicRequest})

	timer := time.NewTimer(b.permitTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		b.dropPermit(ch)
		return fmt.Errorf("%w: %v", domain.ErrVoiceInputFailure, ctx.Err())
	case <-timer.C:
		b.dropPermit(ch)
		return fmt.Errorf("%w: no answer to microphone request", domain.ErrVoiceInputFailure)
	case <-b.done:
		return fmt.Errorf("%w: connection closed", domain.ErrVoiceInputFailure)
	}
}

func (b *speechBridge) dropPermit(ch chan error) {
	b.mu.Lock()
	if b.permit == ch {
		b.permit = nil
	}
	b.mu.Unlock()
}

func (r remoteInput) Start(events domain.RecognitionEvents) error {
	b := r.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("connection closed")
	}
	b.nextID++
	id := b.nextID
	b.captureID = id
	b.capture = events
	b.mu.Unlock()

	b.send(WSMessage{Type: MsgSTTStart, ID: id})
	return nil
}

// Stop asks the browser to finish the capture; it still reports stt.end.
func (r remoteInput) Stop() {
	b := r.b
	b.mu.Lock()
	id := b.captureID
	b.mu.Unlock()
	if id != 0 {
		b.send(WSMessage{Type: MsgSTTStop, ID: id})
	}
}

func (r remoteInput) Abort() {
	b := r.b
	b.mu.Lock()
	id := b.captureID
	b.captureID = 0
	b.capture = domain.RecognitionEvents{}
	closed := b.closed
	b.mu.Unlock()
	if id != 0 && !closed {
		b.send(WSMessage{Type: MsgSTTAbort, ID: id})
	}
}

type remoteOutput struct{ b *speechBridge }

func (r remoteOutput) Available() bool {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.b.tts && !r.b.closed
}

func (r remoteOutput) Voices() []domain.Voice {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return append([]domain.Voice(nil), r.b.voices...)
}

func (r remoteOutput) Speak(u domain.Utterance, events domain.UtteranceEvents) error {
	b := r.b
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: connection closed", domain.ErrVoiceOutputFailure)
	}
	b.nextID++
	id := b.nextID
	b.utterID = id
	b.utter = events
	b.mu.Unlock()

	b.send(WSMessage{Type: MsgTTSSpeak, ID: id, Utterance: &u})
	return nil
}

func (r remoteOutput) Cancel() {
	b := r.b
	b.mu.Lock()
	id := b.utterID
	b.utterID = 0
	b.utter = domain.UtteranceEvents{}
	closed := b.closed
	b.mu.Unlock()
	if id != 0 && !closed {
		b.send(WSMessage{Type: MsgTTSCancel, ID: id})
	}
}
