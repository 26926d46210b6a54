// Package memory holds the in-process message log of a chat session.
package memory

import (
	"sync"
	"time"

	"lumos/internal/domain"
)

// Log is the ordered, append-only message record of one session.
// Insertion order is display order. Entries are never edited or removed.
type Log struct {
	notifyMu sync.Mutex // serializes append+notify so watchers see log order
	mu       sync.RWMutex
	messages []domain.Message
	nextID   uint64
	watchers []func(domain.Message)
	now      func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records a new message and returns it with its ID assigned.
// IDs start at 1 and increase by one per append, so two messages created
// in the same instant never collide.
//
// Watchers run synchronously on the appending goroutine and must not append.
func (l *Log) Append(author domain.Author, text string) domain.Message {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	l.nextID++
	msg := domain.Message{
		ID:        l.nextID,
		Text:      text,
		Author:    author,
		CreatedAt: l.now(),
	}
	l.messages = append(l.messages, msg)
	watchers := l.watchers
	l.mu.Unlock()

	for _, w := range watchers {
		w(msg)
	}
	return msg
}

// All returns a copy of every message, oldest first.
func (l *Log) All() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recently added message.
func (l *Log) Last() (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return domain.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Get looks a message up by ID.
func (l *Log) Get(id uint64) (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == 0 || id > uint64(len(l.messages)) {
		return domain.Message{}, false
	}
	return l.messages[id-1], true
}

// OnAppend registers fn to be called with every message added afterwards.
func (l *Log) OnAppend(fn func(domain.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// copy-on-write so Append can range over a snapshot without the lock
	next := make([]func(domain.Message), len(l.watchers), len(l.watchers)+1)
	copy(next, l.watchers)
	l.watchers = append(next, fn)
}
