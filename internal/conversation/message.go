package conversation

import "fmt"

// Role роль автора сообщения.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message представляет одно сообщение в диалоге.
type Message struct {
	Role    Role   `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// Conversation упорядоченная история диалога: системный промпт,
// затем чередующиеся пары user/assistant.
type Conversation []Message

// Clone возвращает независимую копию истории.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// Validate проверяет форму истории: первый system, далее строго user/assistant,
// незавершённых ходов нет.
func (c Conversation) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: empty conversation", ErrInvalidConversationState)
	}
	if c[0].Role != RoleSystem {
		return fmt.Errorf("%w: first message has role %q", ErrInvalidConversationState, c[0].Role)
	}
	for i := 1; i < len(c); i++ {
		want := RoleUser
		if i%2 == 0 {
			want = RoleAssistant
		}
		if c[i].Role != want {
			return fmt.Errorf("%w: message %d has role %q, want %q", ErrInvalidConversationState, i, c[i].Role, want)
		}
	}
	if len(c)%2 == 0 {
		return fmt.Errorf("%w: turn without assistant reply", ErrInvalidConversationState)
	}
	return nil
}

// Turns возвращает количество завершённых ходов.
func (c Conversation) Turns() int {
	if len(c) == 0 {
		return 0
	}
	return (len(c) - 1) / 2
}
