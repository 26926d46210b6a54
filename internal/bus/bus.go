package bus

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lumos/internal/domain"
)

var (
	ErrClosed = errors.New("message bus closed")
	ErrFull   = errors.New("message bus full")
)

const (
	defaultBuffer         = 100
	defaultPublishTimeout = 10 * time.Second
)

type Config struct {
	Buffer         int           // queued chat messages, default 100
	PublishTimeout time.Duration // how long Publish waits on a full queue, default 10s
	Logger         *slog.Logger
}

// InMemoryBus carries chat text from text channels to the session hub and
// replies back to the channel they came from. A reply holds assistant text,
// a navigation target, or both.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	wait    time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	routes map[string]func(domain.OutboundMessage) // by channel name
	closed bool
}

func New(cfg Config) *InMemoryBus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, cfg.Buffer),
		wait:    cfg.PublishTimeout,
		logger:  cfg.Logger,
		routes:  make(map[string]func(domain.OutboundMessage)),
	}
}

// Publish queues a chat message for the hub. When the queue is full it
// waits up to the publish timeout and then gives up with ErrFull, so the
// channel can tell the user to try again.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("hub queue full, waiting", "channel", msg.Channel, "chat", msg.ChatID)
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-timer.C:
		b.logger.Error("chat message dropped, hub queue full",
			"channel", msg.Channel,
			"chat", msg.ChatID,
			"waited", b.wait,
		)
		return ErrFull
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound hands a reply to its channel. Replies with neither text nor
// a navigation target carry nothing and are dropped.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	if strings.TrimSpace(msg.Content) == "" && msg.Target == "" {
		b.logger.Debug("empty reply dropped", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}

	b.mu.RLock()
	deliver, ok := b.routes[msg.Channel]
	b.mu.RUnlock()
	if !ok {
		b.logger.Warn("no route for reply",
			"channel", msg.Channel,
			"chat", msg.ChatID,
			"target", msg.Target,
		)
		return
	}
	deliver(msg)
}

// OnOutbound routes replies for channelName to deliver, replacing any
// earlier route.
func (b *InMemoryBus) OnOutbound(channelName string, deliver func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[channelName] = deliver
}

// Close stops the hub's inbound stream. Replies still route afterwards so
// the last answers reach their chats.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
