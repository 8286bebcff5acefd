package service

import (
	"context"

	"LiveDesk/logger"
	"LiveDesk/module/support/model"
	"LiveDesk/module/support/store"
	"LiveDesk/service/kafka"
	"LiveDesk/tools/errs"
)

// Caller 一次操作的发起方：连接 + 已验证身份。
// 身份来自令牌，分值/等待时长全部服务端计算，不信客户端上报。
type Caller struct {
	ConnID string
	UserID int64
	Name   string
	Role   string // customer | agent | admin
}

func (c Caller) isAgent() bool {
	return c.Role == model.RoleAgent || c.Role == model.RoleAdmin
}

// Notifier 调度器的出站面：入组/成员查询 + 各类推送。
// 生产实现基于网关广播组；单测用记录桩。
type Notifier interface {
	JoinSession(sessionID int64, connID string)
	InSession(sessionID int64, connID string) bool

	SessionStarted(connID string, sess *model.ChatSession)
	SessionPending(sess *model.ChatSession)
	SessionAccepted(connID string, sess *model.ChatSession)
	AgentJoined(sess *model.ChatSession)
	LeftQueue(sess *model.ChatSession)
	SessionRejoined(connID string, sess *model.ChatSession)
	SessionExpired(connID string, sessionID int64)
	SessionClosed(sess *model.ChatSession)
	MessageReceived(msg *model.ChatMessage)
	TypingChanged(sessionID, userID int64, isTyping bool, excludeConn string)
	ReadReceipt(sessionID int64, messageIDs []int64, readerID int64, excludeConn string)
	PresenceChanged(a *model.AgentState)
}

// Desk 会话调度器。状态机：WAITING → ACTIVE → CLOSED（终态）。
// 每个操作对应持久层的单个事务；通知在事务落定后发出。
type Desk struct {
	store    store.Store
	notifier Notifier
	tenantID string
}

func NewDesk(st store.Store, n Notifier, tenantID string) *Desk {
	return &Desk{store: st, notifier: n, tenantID: tenantID}
}

// StartSession 创建 WAITING 会话并入队。
// 分值由请求方等级换算（vip=150 / priority=100 / 默认=50）。
func (d *Desk) StartSession(ctx context.Context, caller Caller, subject, tier string) (*model.ChatSession, error) {
	sess := &model.ChatSession{
		TenantID:      d.tenantID,
		RequesterID:   caller.UserID,
		RequesterName: caller.Name,
		PriorityTier:  normTier(tier),
	}
	sess.PriorityScore = model.PriorityScore(sess.PriorityTier)
	sess.Subject = subject

	sess, err := d.store.StartSession(ctx, sess)
	if err != nil {
		return nil, err
	}

	d.notifier.JoinSession(sess.ID, caller.ConnID)
	d.notifier.SessionStarted(caller.ConnID, sess)
	d.notifier.SessionPending(sess)
	kafka.EmitLifecycle("session.started", sess.ID, caller.UserID, sess.PriorityTier)
	logger.Infof("[desk] session started id=%d requester=%d tier=%s", sess.ID, caller.UserID, sess.PriorityTier)
	return sess, nil
}

// RejoinSession 重连恢复：只重建广播通道，不动会话状态。
// 只限请求方与被指派坐席本人——管理员走 REST 转录，不进实时通道。
// CLOSED 会话不报错，回过期信号，客户端据此清理本地引用。
func (d *Desk) RejoinSession(ctx context.Context, caller Caller, sessionID int64) (*model.ChatSession, error) {
	sess, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsMember(caller.UserID) {
		return nil, errs.ErrAuthorization.WrapMsg("not a session member", "session", sessionID, "user", caller.UserID)
	}
	if sess.Status == model.StatusClosed {
		// 过期信号，不入组
		d.notifier.SessionExpired(caller.ConnID, sessionID)
		return sess, nil
	}
	d.notifier.JoinSession(sessionID, caller.ConnID)
	d.notifier.SessionRejoined(caller.ConnID, sess)
	return sess, nil
}

// AcceptSession 接单。条件更新保证并发接单只有一个赢家，
// 其余拿到"already accepted or closed"的状态冲突。
func (d *Desk) AcceptSession(ctx context.Context, caller Caller, sessionID int64) (*model.ChatSession, error) {
	if !caller.isAgent() {
		return nil, errs.ErrAuthorization.WrapMsg("accept requires agent role", "user", caller.UserID, "role", caller.Role)
	}

	sess, err := d.store.AcceptSession(ctx, sessionID, caller.UserID, caller.Name)
	if err != nil {
		return nil, err
	}

	d.notifier.JoinSession(sessionID, caller.ConnID)
	d.notifier.SessionAccepted(caller.ConnID, sess)
	d.notifier.AgentJoined(sess)
	d.notifier.LeftQueue(sess)
	kafka.EmitLifecycle("session.accepted", sess.ID, caller.UserID, "")
	logger.Infof("[desk] session accepted id=%d agent=%d wait=%ds", sess.ID, caller.UserID, sess.WaitSeconds)
	return sess, nil
}

// CloseSession 请求方、被指派坐席或管理员可关闭；重复关闭报冲突不崩溃。
func (d *Desk) CloseSession(ctx context.Context, caller Caller, sessionID int64, reason string) (*model.ChatSession, error) {
	cur, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cur.IsMember(caller.UserID) && caller.Role != model.RoleAdmin {
		return nil, errs.ErrAuthorization.WrapMsg("close not permitted", "session", sessionID, "user", caller.UserID)
	}

	sess, err := d.store.CloseSession(ctx, sessionID, caller.UserID, reason)
	if err != nil {
		return nil, err
	}

	d.notifier.SessionClosed(sess)
	kafka.EmitLifecycle("session.closed", sess.ID, caller.UserID, reason)
	logger.Infof("[desk] session closed id=%d by=%d reason=%q", sess.ID, caller.UserID, reason)
	return sess, nil
}

// ChangeAgentPresence 坐席上/离线与小休，广播给坐席池。
func (d *Desk) ChangeAgentPresence(ctx context.Context, caller Caller, presence string) (*model.AgentState, error) {
	if !caller.isAgent() {
		return nil, errs.ErrAuthorization.WrapMsg("presence requires agent role", "user", caller.UserID)
	}
	switch presence {
	case model.AgentOnline, model.AgentAway, model.AgentOffline:
	default:
		return nil, errs.ErrStateConflict.WrapMsg("unknown presence", "presence", presence)
	}

	a, err := d.store.UpsertAgentPresence(ctx, caller.UserID, d.tenantID, caller.Name, presence)
	if err != nil {
		return nil, err
	}
	d.notifier.PresenceChanged(a)
	return a, nil
}

// History 拉取转录（分页）；仅会话成员或管理员。
func (d *Desk) History(ctx context.Context, caller Caller, sessionID int64, limit, offset int) ([]*model.ChatMessage, error) {
	sess, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsMember(caller.UserID) && caller.Role != model.RoleAdmin {
		return nil, errs.ErrAuthorization.WrapMsg("history not permitted", "session", sessionID)
	}
	return d.store.ListMessages(ctx, sessionID, limit, offset)
}

// ActiveSessions 坐席的进行中会话。
func (d *Desk) ActiveSessions(ctx context.Context, caller Caller) ([]*model.ChatSession, error) {
	if !caller.isAgent() {
		return nil, errs.ErrAuthorization.WrapMsg("agent role required", "user", caller.UserID)
	}
	return d.store.ListAgentSessions(ctx, caller.UserID, model.StatusActive, 100, 0)
}

// QueueStatus 队列报表；信息读，过期几秒可接受。
func (d *Desk) QueueStatus(ctx context.Context, sessionID int64) (*store.QueueStats, error) {
	return d.store.QueueStats(ctx, sessionID)
}

func normTier(tier string) string {
	switch tier {
	case model.TierVIP, model.TierPriority:
		return tier
	default:
		return model.TierDefault
	}
}
