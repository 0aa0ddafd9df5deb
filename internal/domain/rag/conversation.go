package rag

// HistoryWindow is the number of trailing conversation messages kept when
// building a prompt: the last two user/assistant turn pairs.
const HistoryWindow = 4

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn used to seed multi-turn context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TruncateHistory keeps only the most recent HistoryWindow messages.
func TruncateHistory(history []Message) []Message {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}
