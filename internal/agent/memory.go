package agent

import (
	"sync"
)

// Turn is one completed exchange.
type Turn struct {
	UserMessage      string
	AssistantMessage string
}

// Memory is the ephemeral per-session conversation store: the last k
// exchanges, keyed by session ID (e.g. "telegram:<chat_id>"). Cleared on
// explicit request or process restart. Memory is context for phrasing only;
// the planner must still invoke data-retrieval tools for facts.
type Memory struct {
	mu           sync.Mutex
	maxExchanges int
	sessions     map[string][]Turn
}

// NewMemory returns a memory keeping maxExchanges turns per session.
func NewMemory(maxExchanges int) *Memory {
	if maxExchanges <= 0 {
		maxExchanges = 3
	}
	return &Memory{
		maxExchanges: maxExchanges,
		sessions:     make(map[string][]Turn),
	}
}

// AddTurn records one exchange, evicting the oldest beyond the limit.
func (m *Memory) AddTurn(sessionID, userMessage, assistantMessage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := append(m.sessions[sessionID], Turn{UserMessage: userMessage, AssistantMessage: assistantMessage})
	if len(turns) > m.maxExchanges {
		turns = turns[len(turns)-m.maxExchanges:]
	}
	m.sessions[sessionID] = turns
}

// ContextMessages returns the session history as alternating user/assistant
// messages in chronological order.
func (m *Memory) ContextMessages(sessionID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.sessions[sessionID]
	out := make([]Message, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out, Message{Role: "user", Content: t.UserMessage})
		out = append(out, Message{Role: "assistant", Content: t.AssistantMessage})
	}
	return out
}

// Clear drops the history for one session.
func (m *Memory) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
