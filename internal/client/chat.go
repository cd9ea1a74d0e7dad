package client

import "github.com/avenko/huddle/internal/domain"

const defaultChatHistory = 100

// chatHistory is append-only and bounded: once the cap is exceeded the
// oldest entries are evicted. Order is arrival order at this client,
// which may differ between participants under concurrent sends.
type chatHistory struct {
	limit int
	msgs  []domain.ChatMessage
}

func newChatHistory(limit int) *chatHistory {
	if limit <= 0 {
		limit = defaultChatHistory
	}
	return &chatHistory{limit: limit}
}

func (h *chatHistory) Append(m domain.ChatMessage) {
	h.msgs = append(h.msgs, m)
	if over := len(h.msgs) - h.limit; over > 0 {
		h.msgs = append(h.msgs[:0], h.msgs[over:]...)
	}
}

func (h *chatHistory) All() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(h.msgs))
	copy(out, h.msgs)
	return out
}
