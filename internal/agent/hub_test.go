package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"lumos/internal/bus"
	"lumos/internal/domain"
)

type outbox struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
	got  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{got: make(chan struct{}, 100)}
}

func (o *outbox) add(m domain.OutboundMessage) {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
	o.got <- struct{}{}
}

func (o *outbox) all() []domain.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OutboundMessage(nil), o.msgs...)
}

func (o *outbox) wait(t *testing.T, n int) []domain.OutboundMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for len(o.all()) < n {
		select {
		case <-o.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d outbound messages, got %d", n, len(o.all()))
		}
	}
	return o.all()
}

func newTestHub(t *testing.T) (*Hub, *bus.InMemoryBus, *outbox) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(bus.Config{Buffer: 10, Logger: logger})
	out := newOutbox()
	b.OnOutbound("telegram", out.add)
	h := NewHub(HubConfig{
		Bus: b,
		Factory: NewSessionFactory(FactoryConfig{
			ThinkingDelay: time.Millisecond,
			Logger:        logger,
		}),
		Logger: logger,
	})
	t.Cleanup(h.CloseAll)
	return h, b, out
}

func inbound(chatID, text string) domain.InboundMessage {
	return domain.InboundMessage{Channel: "telegram", ChatID: chatID, SenderID: "u1", Content: text, Timestamp: time.Now()}
}

func TestHub_GreetingReplyAndNavigation(t *testing.T) {
	h, _, out := newTestHub(t)
	h.Handle(inbound("42", "book a demo"))

	msgs := out.wait(t, 3)
	if msgs[0].Content != DefaultGreeting {
		t.Fatalf("expected greeting first, got %q", msgs[0].Content)
	}
	if msgs[1].Content != DefaultRules()[3].Response || msgs[1].ChatID != "42" {
		t.Fatalf("unexpected reply: %+v", msgs[1])
	}
	if msgs[2].Target != domain.SectionSchedule || msgs[2].Content != "" {
		t.Fatalf("expected navigation to schedule, got %+v", msgs[2])
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", h.Len())
	}
}

func TestHub_SessionPerChat(t *testing.T) {
	h, _, out := newTestHub(t)
	h.Handle(inbound("1", "/start"))
	h.Handle(inbound("2", "/start"))
	h.Handle(inbound("1", "/start"))

	out.wait(t, 2)
	if h.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", h.Len())
	}
}

func TestHub_Clear(t *testing.T) {
	h, _, out := newTestHub(t)
	h.Handle(inbound("7", "/start"))
	out.wait(t, 1)
	h.mu.Lock()
	first := h.sessions["telegram:7"].session
	h.mu.Unlock()

	h.Handle(inbound("7", "/clear"))
	msgs := out.wait(t, 3)
	if msgs[1].Content != clearedNotice || msgs[2].Content != DefaultGreeting {
		t.Fatalf("unexpected messages after clear: %+v", msgs)
	}
	if err := first.Submit("hello"); err != ErrSessionClosed {
		t.Fatalf("old session should be closed, got %v", err)
	}
	if h.Len() != 1 {
		t.Fatalf("expected a fresh session, got %d", h.Len())
	}
}

func TestHub_EvictsIdleSessions(t *testing.T) {
	h, _, out := newTestHub(t)
	now := time.Now()
	h.now = func() time.Time { return now }
	h.Handle(inbound("9", "/start"))
	out.wait(t, 1)

	now = now.Add(h.idle + time.Second)
	h.evictIdle()
	if h.Len() != 0 {
		t.Fatalf("idle session should be evicted, got %d", h.Len())
	}
}

func TestHub_RunStopsWhenBusCloses(t *testing.T) {
	h, b, out := newTestHub(t)
	done := make(chan struct{})
	go func() {
		h.Run(context.Background())
		close(done)
	}()

	b.Publish(inbound("5", "contact"))
	out.wait(t, 3)
	b.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("hub did not stop after bus close")
	}
	if h.Len() != 0 {
		t.Fatal("sessions should be closed on shutdown")
	}
}

func TestHub_Throttles(t *testing.T) {
	h, _, out := newTestHub(t)
	h.limiter = NewRateLimiter(1, 1)

	h.Handle(inbound("3", "hello"))
	h.Handle(inbound("3", "hello again"))

	msgs := out.wait(t, 3)
	found := false
	for _, m := range msgs {
		if m.Content == NoticeThrottled {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected throttle notice, got %+v", msgs)
	}
}
