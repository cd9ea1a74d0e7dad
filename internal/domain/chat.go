package domain

const MaxChatTextLen = 2048

// ChatMessage is broadcast-only; nothing stores it beyond the in-memory
// history each client keeps.
type ChatMessage struct {
	ID        string        `json:"id"`
	Author    ParticipantID `json:"author"`
	Text      string        `json:"text"`
	Timestamp int64         `json:"ts"` // unix milliseconds, sender clock
}
