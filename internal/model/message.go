package model

import (
	"time"
)

// Message is a single direct message. Immutable once fetched.
type Message struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	AuthorID string    `json:"authorDid"`
	SentAt   time.Time `json:"sentAt"`
}
