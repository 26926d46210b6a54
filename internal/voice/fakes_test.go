package voice

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"lumos/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOutput struct {
	mu        sync.Mutex
	available bool
	voices    []domain.Voice
	spoken    []domain.Utterance
	events    []domain.UtteranceEvents
	cancels   int
	speakErr  error
}

func (f *fakeOutput) Available() bool { return f.available }

func (f *fakeOutput) Voices() []domain.Voice { return f.voices }

func (f *fakeOutput) Speak(u domain.Utterance, ev domain.UtteranceEvents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, u)
	f.events = append(f.events, ev)
	return f.speakErr
}

func (f *fakeOutput) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeOutput) utterance(i int) (domain.Utterance, domain.UtteranceEvents) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spoken[i], f.events[i]
}

func (f *fakeOutput) counts() (spoken, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spoken), f.cancels
}

type fakeInput struct {
	mu         sync.Mutex
	available  bool
	permission func(ctx context.Context) error
	startErr   error
	events     domain.RecognitionEvents
	starts     int
	stops      int
	aborts     int
}

func (f *fakeInput) Available() bool { return f.available }

func (f *fakeInput) RequestPermission(ctx context.Context) error {
	if f.permission != nil {
		return f.permission(ctx)
	}
	return nil
}

func (f *fakeInput) Start(ev domain.RecognitionEvents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.events = ev
	return nil
}

func (f *fakeInput) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeInput) Abort() {
	f.mu.Lock()
	f.aborts++
	f.mu.Unlock()
}

func (f *fakeInput) recognition() domain.RecognitionEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

// recorder captures callback order across controllers.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}
