package store

import (
	"context"

	"LiveDesk/module/support/model"
)

// Store 持久层契约。每个方法自身就是一个完整事务：
// 多步写（接单、关闭、留言）要么全部落库要么全部回滚，
// 调用方拿到错误时可以安全重发同一逻辑事件。
//
// 并发语义：AcceptSession 必须用条件更新
// （set status=ACTIVE where id=? and status='WAITING'）实现，
// 零行生效即状态冲突——不允许先读后写。
type Store interface {
	// —— 调度器 —— //
	StartSession(ctx context.Context, s *model.ChatSession) (*model.ChatSession, error)
	GetSession(ctx context.Context, id int64) (*model.ChatSession, error)
	AcceptSession(ctx context.Context, sessionID, agentID int64, agentName string) (*model.ChatSession, error)
	CloseSession(ctx context.Context, sessionID, closerID int64, reason string) (*model.ChatSession, error)

	// —— 消息通道 —— //
	AppendMessage(ctx context.Context, m *model.ChatMessage) (*model.ChatMessage, error)
	MarkRead(ctx context.Context, sessionID int64, messageIDs []int64, readerID int64) ([]int64, error)
	ListMessages(ctx context.Context, sessionID int64, limit, offset int) ([]*model.ChatMessage, error)

	// —— 队列 —— //
	QueueSnapshot(ctx context.Context, limit int) ([]*model.QueueEntry, error)
	QueueStats(ctx context.Context, sessionID int64) (*QueueStats, error)

	// —— 坐席 —— //
	UpsertAgentPresence(ctx context.Context, agentID int64, tenantID, name, presence string) (*model.AgentState, error)
	GetAgent(ctx context.Context, agentID int64) (*model.AgentState, error)
	UpdateAgentSettings(ctx context.Context, agentID int64, maxConcurrent int, specialties, languages []string) (*model.AgentState, error)

	// —— REST 协作面 —— //
	ListAgentSessions(ctx context.Context, agentID int64, status string, limit, offset int) ([]*model.ChatSession, error)
	ListRequesterSessions(ctx context.Context, requesterID int64, limit, offset int) ([]*model.ChatSession, error)
	SubmitRating(ctx context.Context, sessionID, requesterID int64, rating int, feedback string) error
	Overview(ctx context.Context) (*Overview, error)

	// —— 快捷回复 —— //
	ListCannedResponses(ctx context.Context, tenantID string, agentID *int64) ([]*model.CannedResponse, error)
	CreateCannedResponse(ctx context.Context, cr *model.CannedResponse) error
	DeleteCannedResponse(ctx context.Context, id string) error
}

// QueueStats 队列状态报表（尽力而为的信息读，允许轻微过期）。
type QueueStats struct {
	TotalWaiting   int `json:"total_waiting"`
	AvgWaitSeconds int `json:"avg_wait_seconds"`
	Position       int `json:"your_position,omitempty"` // 0 = 不在队列中/未指定会话
}

// Overview 聚合统计（外部报表协作面）。
type Overview struct {
	Waiting             int     `json:"waiting"`
	Active              int     `json:"active"`
	Closed              int     `json:"closed"`
	AvgWaitSeconds      float64 `json:"avg_wait_seconds"`
	AvgFirstRespSeconds float64 `json:"avg_first_response_seconds"`
	MessagesTotal       int64   `json:"messages_total"`
	AgentsOnline        int     `json:"agents_online"`
}
