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
)

const (
	defaultIdleTimeout = 30 * time.Minute
	defaultSweepEvery  = time.Minute
	clearedNotice      = "Conversation cleared."
	commandClear       = "/clear"
	commandStart       = "/start"
)

// Hub connects text channels to sessions: one session per channel and
// chat, created on the first message and dropped after a period of
// inactivity.
type Hub struct {
	bus     domain.MessageBus
	factory *SessionFactory
	limiter *RateLimiter
	idle    time.Duration
	sweep   time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*hubSession
}

type hubSession struct {
	session    *Session
	lastActive time.Time
}

type HubConfig struct {
	Bus         domain.MessageBus
	Factory     *SessionFactory
	Limiter     *RateLimiter  // optional, keyed by channel and chat
	IdleTimeout time.Duration // default 30 minutes
	Logger      *slog.Logger
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	sweep := defaultSweepEvery
	if cfg.IdleTimeout < sweep {
		sweep = cfg.IdleTimeout
	}
	return &Hub{
		bus:      cfg.Bus,
		factory:  cfg.Factory,
		limiter:  cfg.Limiter,
		idle:     cfg.IdleTimeout,
		sweep:    sweep,
		now:      time.Now,
		logger:   cfg.Logger,
		sessions: make(map[string]*hubSession),
	}
}

// Run consumes inbound messages until ctx is cancelled or the bus closes,
// then closes every session.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("session hub started", "idle_timeout", h.idle)
	defer h.CloseAll()

	ticker := time.NewTicker(h.sweep)
	defer ticker.Stop()
	inbound := h.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("session hub stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				h.logger.Info("inbound channel closed, session hub stopping")
				return
			}
			h.Handle(msg)
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

// Handle processes one inbound message.
func (h *Hub) Handle(msg domain.InboundMessage) {
	key := msg.Channel + ":" + msg.ChatID
	text := strings.TrimSpace(msg.Content)

	switch strings.ToLower(text) {
	case commandClear:
		h.drop(key)
		h.bus.SendOutbound(domain.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: clearedNotice})
		h.session(key, msg)
		return
	case commandStart:
		h.session(key, msg)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(key) {
		h.logger.Debug("submit throttled", "channel", msg.Channel, "chat", msg.ChatID)
		h.bus.SendOutbound(domain.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: NoticeThrottled})
		return
	}

	s := h.session(key, msg)
	if err := s.Submit(text); err != nil {
		if errors.Is(err, ErrEmptyInput) {
			return
		}
		h.logger.Warn("submit failed", "session", s.ID(), "channel", msg.Channel, "err", err)
	}
}

// Len reports the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll closes every session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*hubSession)
	h.mu.Unlock()

	for _, hs := range sessions {
		hs.session.Close()
	}
}

// session returns the live session for key, creating it if needed.
func (h *Hub) session(key string, msg domain.InboundMessage) *Session {
	h.mu.Lock()
	if hs, ok := h.sessions[key]; ok {
		hs.lastActive = h.now()
		h.mu.Unlock()
		return hs.session
	}
	h.mu.Unlock()

	// The greeting is appended during construction, so forwarding has to be
	// wired before the session exists.
	events := bus.NewEventBus(h.logger)
	h.forward(events, msg.Channel, msg.ChatID)
	s := h.factory.NewText(events)

	h.mu.Lock()
	if hs, ok := h.sessions[key]; ok {
		// Lost a race with another creator.
		h.mu.Unlock()
		s.Close()
		return hs.session
	}
	h.sessions[key] = &hubSession{session: s, lastActive: h.now()}
	h.mu.Unlock()

	h.logger.Info("session opened", "session", s.ID(), "channel", msg.Channel, "chat", msg.ChatID, "sender", msg.SenderID)
	return s
}

// forward relays assistant messages and navigation to the channel.
func (h *Hub) forward(events *bus.EventBus, channel, chatID string) {
	events.On(bus.EventMessageAppended, func(e bus.Event) {
		m, ok := e.Payload[bus.KeyMessage].(domain.Message)
		if !ok || m.IsUser() {
			return
		}
		h.bus.SendOutbound(domain.OutboundMessage{Channel: channel, ChatID: chatID, Content: m.Text})
	})
	events.On(bus.EventNavigate, func(e bus.Event) {
		target, _ := e.Payload[bus.KeyTarget].(string)
		h.bus.SendOutbound(domain.OutboundMessage{Channel: channel, ChatID: chatID, Target: target})
	})
}

func (h *Hub) drop(key string) {
	h.mu.Lock()
	hs, ok := h.sessions[key]
	delete(h.sessions, key)
	h.mu.Unlock()
	if ok {
		hs.session.Close()
	}
}

func (h *Hub) evictIdle() {
	cutoff := h.now().Add(-h.idle)
	var stale []*hubSession

	h.mu.Lock()
	for key, hs := range h.sessions {
		if hs.lastActive.Before(cutoff) {
			stale = append(stale, hs)
			delete(h.sessions, key)
			if h.limiter != nil {
				h.limiter.Forget(key)
			}
		}
	}
	h.mu.Unlock()

	for _, hs := range stale {
		h.logger.Info("closing idle session", "session", hs.session.ID())
		hs.session.Close()
	}
}
