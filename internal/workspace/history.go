package workspace

import (
	"sync"

	"iqbot/models"
)

// ChatHistory is an append-only log of chat turns.
type ChatHistory struct {
	mu    sync.RWMutex
	turns []models.ChatTurn
}

func NewChatHistory() *ChatHistory { return &ChatHistory{} }

func (h *ChatHistory) Append(turns ...models.ChatTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
}

// Turns returns a copy of the history in order.
func (h *ChatHistory) Turns() []models.ChatTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.ChatTurn{}, h.turns...)
}

func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Reset empties the history.
func (h *ChatHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
