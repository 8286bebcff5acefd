package model

import "time"

// 会话状态机：WAITING → ACTIVE → CLOSED，也允许 WAITING → CLOSED（排队中放弃）。
// ACTIVE ⟹ agent_id 已指派且只指派一次；从 WAITING 直接关闭的会话 agent_id 保持为空。
const (
	StatusWaiting = "WAITING"
	StatusActive  = "ACTIVE"
	StatusClosed  = "CLOSED"
)

// 角色：customer 发起会话，agent/admin 可接单。
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// 优先级分值由请求方等级服务端换算，客户端传 tier 名不传分值。
// 队列排序：score DESC, entered_at ASC（同档 FIFO）。
const (
	TierDefault  = "default"
	TierPriority = "priority"
	TierVIP      = "vip"

	ScoreDefault  = 50
	ScorePriority = 100
	ScoreVIP      = 150
)

// PriorityScore tier 名到分值的换算，未知档位回落默认分。
func PriorityScore(tier string) int {
	switch tier {
	case TierVIP:
		return ScoreVIP
	case TierPriority:
		return ScorePriority
	default:
		return ScoreDefault
	}
}

// ChatSession 一次客服会话。
//
//	{
//	  "id": 42,
//	  "tenant_id": "t_1001",
//	  "requester_id": 9007,
//	  "requester_name": "李雷",
//	  "agent_id": 12,
//	  "status": "ACTIVE",
//	  "priority_tier": "vip",
//	  "priority_score": 150,
//	  "subject": "支付失败",
//	  "started_at": "...", "accepted_at": "...", "closed_at": null,
//	  "message_count": 8, "wait_seconds": 34, "first_response_seconds": 51
//	}
type ChatSession struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenant_id"`

	RequesterID   int64  `json:"requester_id"`
	RequesterName string `json:"requester_name"`

	AgentID   *int64 `json:"agent_id,omitempty"`   // 接受前为空，接受后不再变更
	AgentName string `json:"agent_name,omitempty"` // 冗余展示字段

	Status        string `json:"status"` // WAITING | ACTIVE | CLOSED
	PriorityTier  string `json:"priority_tier"`
	PriorityScore int    `json:"priority_score"`
	Subject       string `json:"subject,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	// —— 聚合计数（消息通道只增计数，状态由调度器独占）—— //
	MessageCount         int `json:"message_count"`
	WaitSeconds          int `json:"wait_seconds"`                     // accepted_at - started_at
	FirstResponseSeconds int `json:"first_response_seconds,omitempty"` // 首条坐席消息 - accepted_at

	ClosedBy    *int64 `json:"closed_by,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`

	// —— 终评（仅 CLOSED 后可追加）—— //
	Rating   int    `json:"rating,omitempty"` // 1-5
	Feedback string `json:"feedback,omitempty"`
}

// IsMember 请求方或被指派坐席。
func (s *ChatSession) IsMember(userID int64) bool {
	if s.RequesterID == userID {
		return true
	}
	return s.AgentID != nil && *s.AgentID == userID
}

// QueueEntry 排队票据，仅在会话 WAITING 期间存在。
type QueueEntry struct {
	SessionID int64     `json:"session_id"`
	Score     int       `json:"score"`
	EnteredAt time.Time `json:"entered_at"`
}
