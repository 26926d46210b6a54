package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"lumos/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBus_MessageAppendedCarriesMessage(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got []domain.Message
	eb.On(EventMessageAppended, func(e Event) {
		if m, ok := e.Payload[KeyMessage].(domain.Message); ok {
			got = append(got, m)
		}
	})
	eb.Emit(Event{Type: EventMessageAppended, Source: "s1", Payload: map[string]any{
		KeyMessage: domain.Message{ID: 2, Author: domain.AuthorUser, Text: "book a demo"},
	}})
	eb.Emit(Event{Type: EventNavigate, Source: "s1", Payload: map[string]any{KeyTarget: domain.SectionSchedule}})

	if len(got) != 1 || got[0].ID != 2 || got[0].Text != "book a demo" {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestEventBus_WildcardSeesEverySessionEvent(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var types []string
	eb.On("*", func(e Event) { types = append(types, e.Type) })

	eb.Emit(Event{Type: EventMessageAppended})
	eb.Emit(Event{Type: EventNavigate, Payload: map[string]any{KeyTarget: domain.SectionContact}})
	eb.Emit(Event{Type: EventNotice, Payload: map[string]any{KeyLevel: LevelInfo, KeyText: "Listening..."}})

	want := []string{EventMessageAppended, EventNavigate, EventNotice}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}

func TestEventBus_OffStopsNotices(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var notices []string
	id := eb.On(EventNotice, func(e Event) {
		notices = append(notices, e.Payload[KeyText].(string))
	})

	eb.Emit(Event{Type: EventNotice, Payload: map[string]any{KeyLevel: LevelSuccess, KeyText: "Voice responses turned off"}})
	eb.Off(EventNotice, id)
	eb.Emit(Event{Type: EventNotice, Payload: map[string]any{KeyLevel: LevelSuccess, KeyText: "Voice responses turned on"}})

	if len(notices) != 1 || notices[0] != "Voice responses turned off" {
		t.Fatalf("unexpected notices after Off: %v", notices)
	}
}

func TestEventBus_ReplayNavigation(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: EventNavigate, Payload: map[string]any{KeyTarget: domain.SectionContact}, Timestamp: time.Now().Add(-time.Hour)})
	since := time.Now()
	eb.Emit(Event{Type: EventMessageAppended})
	eb.Emit(Event{Type: EventNavigate, Payload: map[string]any{KeyTarget: domain.SectionSchedule}})

	nav := eb.Replay(EventNavigate, time.Time{})
	if len(nav) != 2 {
		t.Fatalf("expected 2 navigations, got %d", len(nav))
	}
	recent := eb.Replay(EventNavigate, since)
	if len(recent) != 1 || recent[0].Payload[KeyTarget] != domain.SectionSchedule {
		t.Fatalf("unexpected recent navigation: %+v", recent)
	}
	if all := eb.Replay("*", since); len(all) != 2 {
		t.Fatalf("expected 2 events since threshold, got %d", len(all))
	}
	if recent[0].Timestamp.IsZero() {
		t.Fatal("timestamp should be set on emit")
	}
}

func TestEventBus_HistoryIsBounded(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventInputChanged, Payload: map[string]any{KeyText: "what is"}})
	}
	if eb.HistoryLen() != 5 {
		t.Fatalf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.On(EventVoiceOutputState, func(Event) { panic("renderer gone") })
	called := false
	eb.On(EventVoiceOutputState, func(Event) { called = true })

	eb.Emit(Event{Type: EventVoiceOutputState, Payload: map[string]any{KeySpeaking: true}})
	if !called {
		t.Fatal("second handler must still run")
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b, c int
	idA := eb.On(EventNavigate, func(Event) { a++ })
	eb.On(EventNavigate, func(Event) { b++ })
	eb.Off(EventNavigate, idA)
	idC := eb.On(EventNavigate, func(Event) { c++ })
	if idC == idA {
		t.Fatalf("handler ID reused: %s", idC)
	}

	eb.Emit(Event{Type: EventNavigate, Payload: map[string]any{KeyTarget: domain.SectionSchedule}})

	if a != 0 || b != 1 || c != 1 {
		t.Fatalf("unexpected calls a=%d b=%d c=%d", a, b, c)
	}
}

func TestEventBus_HandlerMayUnsubscribeItself(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var id string
	count := 0
	id = eb.On(EventSessionClosed, func(Event) {
		count++
		eb.Off(EventSessionClosed, id)
	})

	eb.Emit(Event{Type: EventSessionClosed})
	eb.Emit(Event{Type: EventSessionClosed})

	if count != 1 {
		t.Fatalf("expected 1 call, got %d", count)
	}
}
