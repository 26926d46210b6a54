package domain

import "time"

// Author identifies who produced a chat message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Message is one entry of a session's message log. It is created once when
// appended and never mutated afterwards.
type Message struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Message) IsUser() bool {
	return m.Author == AuthorUser
}

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Target  string // optional page section the reply points at
}
