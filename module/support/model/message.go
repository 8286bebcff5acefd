package model

import "time"

// 消息类型
const (
	MsgKindText       = "text"
	MsgKindAttachment = "attachment"
	MsgKindSystem     = "system"
)

// ChatMessage 会话消息，append-only；除已读标记外不可变。
// 同一会话内以 created_at（落库顺序）为序。
type ChatMessage struct {
	ID         int64  `json:"id"`
	SessionID  int64  `json:"session_id"`
	SenderID   int64  `json:"sender_id"`
	SenderRole string `json:"sender_role"` // customer | agent
	Kind       string `json:"kind"`        // text | attachment | system
	Content    string `json:"content"`

	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
