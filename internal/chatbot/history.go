package chatbot

import (
	"slices"
	"sync"

	"chatbridge/internal/models"
)

// DefaultMaxHistoryLength caps a user's history when no cap is configured.
const DefaultMaxHistoryLength = 10

// ConversationHistory keeps a bounded, ordered history per user. Histories
// are created on first use and live as long as the process.
type ConversationHistory struct {
	maxLen       int
	systemPrompt string

	mu      sync.Mutex
	entries map[string][]models.ChatMessage
}

// NewConversationHistory builds an empty store. A non-empty systemPrompt
// becomes the first entry of every new history and is never evicted.
func NewConversationHistory(maxLen int, systemPrompt string) *ConversationHistory {
	if maxLen < 2 {
		maxLen = DefaultMaxHistoryLength
	}
	return &ConversationHistory{
		maxLen:       maxLen,
		systemPrompt: systemPrompt,
		entries:      make(map[string][]models.ChatMessage),
	}
}

// Append adds msg, enforces the cap and returns a copy of the result.
func (h *ConversationHistory) Append(userID string, msg models.ChatMessage) []models.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, ok := h.entries[userID]
	if !ok && h.systemPrompt != "" {
		entries = []models.ChatMessage{{Role: models.RoleSystem, Content: h.systemPrompt}}
	}
	entries = truncate(append(entries, msg), h.maxLen)
	h.entries[userID] = entries
	return slices.Clone(entries)
}

// Get returns a copy of the user's history, or nil if there is none.
func (h *ConversationHistory) Get(userID string) []models.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries[userID])
}

// Reset forgets the user's history.
func (h *ConversationHistory) Reset(userID string) {
	h.mu.Lock()
	delete(h.entries, userID)
	h.mu.Unlock()
}

// Users reports how many users have a history.
func (h *ConversationHistory) Users() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// truncate evicts the oldest entries after a leading system entry until the
// history fits. The newest entry always survives. If eviction leaves an
// assistant reply at the front of the window, it goes too, so the window
// opens on a user turn.
func truncate(entries []models.ChatMessage, maxLen int) []models.ChatMessage {
	start := 0
	if len(entries) > 0 && entries[0].Role == models.RoleSystem {
		start = 1
	}
	evicted := false
	for len(entries) > maxLen && len(entries)-start > 1 {
		entries = slices.Delete(entries, start, start+1)
		evicted = true
	}
	if evicted && len(entries)-start > 1 && entries[start].Role == models.RoleAssistant {
		entries = slices.Delete(entries, start, start+1)
	}
	return entries
}
