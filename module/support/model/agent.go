package model

import "time"

// 坐席在线状态
const (
	AgentOnline  = "ONLINE"
	AgentAway    = "AWAY"
	AgentOffline = "OFFLINE"
)

// AgentState 每个坐席一行，首次变更状态或首次接单时惰性创建，只停用不删除。
// 容量计数仅作看板参考，不作为接单硬上限。
// 不变式：0 <= current_count <= max_concurrent 之外还有
// current_count 只在接单成功时 +1、本人会话关闭时 -1。
type AgentState struct {
	AgentID     int64  `json:"agent_id"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name"`

	Presence      string `json:"presence"` // ONLINE | AWAY | OFFLINE
	MaxConcurrent int    `json:"max_concurrent"`
	CurrentCount  int    `json:"current_count"`

	LifetimeHandled int64   `json:"lifetime_handled"`
	RatingSum       int64   `json:"rating_sum"`
	RatingCount     int64   `json:"rating_count"`
	AvgRating       float64 `json:"avg_rating"` // rating_sum / rating_count，读取时计算

	// 能力标签：专长 / 语言
	Specialties []string `json:"specialties,omitempty"`
	Languages   []string `json:"languages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CannedResponse 坐席快捷回复（REST 协作面，CRUD 无新不变式）。
type CannedResponse struct {
	ID        string    `json:"id"` // uuid
	TenantID  string    `json:"tenant_id"`
	AgentID   *int64    `json:"agent_id,omitempty"` // 空表示全租户共享
	Shortcut  string    `json:"shortcut"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
