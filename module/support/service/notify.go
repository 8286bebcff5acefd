package service

import (
	"LiveDesk/module/support/model"
	"LiveDesk/service/chat"
)

// ChatNotifier Notifier 的网关实现：把调度器事件翻译成出站帧。
// 寻址规则：
//   - 会话级事件 → session:<id> 广播组（rejoin 过的连接才在组里）
//   - 坐席池事件 → agents 组（坐席鉴权成功即入组）
//   - 点对点回执 → 发起连接本身
type ChatNotifier struct {
	srv *chat.Server
}

func NewChatNotifier(srv *chat.Server) *ChatNotifier {
	return &ChatNotifier{srv: srv}
}

func (n *ChatNotifier) JoinSession(sessionID int64, connID string) {
	c, ok := n.srv.ConnMgr().Get(connID)
	if !ok {
		return
	}
	n.srv.Reg().Join(chat.SessionGroup(sessionID), c)
}

func (n *ChatNotifier) InSession(sessionID int64, connID string) bool {
	return n.srv.Reg().InGroup(chat.SessionGroup(sessionID), connID)
}

func (n *ChatNotifier) SessionStarted(connID string, sess *model.ChatSession) {
	n.srv.SendConn(connID, chat.BuildFrame(chat.EvSessionStarted, sess))
}

// SessionPending 新排队会话推给坐席池，坐席端据此刷新待接列表。
func (n *ChatNotifier) SessionPending(sess *model.ChatSession) {
	n.srv.BroadcastGroup(chat.GroupAgents, chat.BuildFrame(chat.EvSessionPending, map[string]any{
		"session_id":     sess.ID,
		"requester_name": sess.RequesterName,
		"subject":        sess.Subject,
		"priority_tier":  sess.PriorityTier,
		"priority_score": sess.PriorityScore,
		"entered_at":     sess.StartedAt,
	}))
}

func (n *ChatNotifier) SessionAccepted(connID string, sess *model.ChatSession) {
	n.srv.SendConn(connID, chat.BuildFrame(chat.EvSessionAccepted, sess))
}

func (n *ChatNotifier) AgentJoined(sess *model.ChatSession) {
	n.srv.BroadcastGroup(chat.SessionGroup(sess.ID), chat.BuildFrame(chat.EvAgentJoined, map[string]any{
		"session_id": sess.ID,
		"agent_id":   sess.AgentID,
		"agent_name": sess.AgentName,
	}))
}

// LeftQueue 抢单落败的坐席据此把会话从待接列表摘掉。
func (n *ChatNotifier) LeftQueue(sess *model.ChatSession) {
	n.srv.BroadcastGroup(chat.GroupAgents, chat.BuildFrame(chat.EvLeftQueue, map[string]any{
		"session_id": sess.ID,
		"agent_id":   sess.AgentID,
	}))
}

func (n *ChatNotifier) SessionRejoined(connID string, sess *model.ChatSession) {
	n.srv.SendConn(connID, chat.BuildFrame(chat.EvSessionRejoined, sess))
}

func (n *ChatNotifier) SessionExpired(connID string, sessionID int64) {
	n.srv.SendConn(connID, chat.BuildFrame(chat.EvSessionExpired, map[string]any{
		"session_id": sessionID,
	}))
}

func (n *ChatNotifier) SessionClosed(sess *model.ChatSession) {
	n.srv.BroadcastGroup(chat.SessionGroup(sess.ID), chat.BuildFrame(chat.EvSessionClosed, map[string]any{
		"session_id":   sess.ID,
		"closed_by":    sess.ClosedBy,
		"close_reason": sess.CloseReason,
		"closed_at":    sess.ClosedAt,
	}))
}

func (n *ChatNotifier) MessageReceived(msg *model.ChatMessage) {
	n.srv.BroadcastGroup(chat.SessionGroup(msg.SessionID), chat.BuildFrame(chat.EvMessageReceived, msg))
}

func (n *ChatNotifier) TypingChanged(sessionID, userID int64, isTyping bool, excludeConn string) {
	n.srv.BroadcastGroupExcept(chat.SessionGroup(sessionID), excludeConn,
		chat.BuildFrame(chat.EvTypingChanged, map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"is_typing":  isTyping,
		}))
}

func (n *ChatNotifier) ReadReceipt(sessionID int64, messageIDs []int64, readerID int64, excludeConn string) {
	n.srv.BroadcastGroupExcept(chat.SessionGroup(sessionID), excludeConn,
		chat.BuildFrame(chat.EvReadReceipt, map[string]any{
			"session_id":  sessionID,
			"message_ids": messageIDs,
			"reader_id":   readerID,
		}))
}

func (n *ChatNotifier) PresenceChanged(a *model.AgentState) {
	n.srv.BroadcastGroup(chat.GroupAgents, chat.BuildFrame(chat.EvPresenceChanged, map[string]any{
		"agent_id": a.AgentID,
		"name":     a.DisplayName,
		"presence": a.Presence,
	}))
}
