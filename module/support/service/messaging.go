package service

import (
	"context"
	"strings"

	"LiveDesk/logger"
	"LiveDesk/module/support/model"
	"LiveDesk/service/kafka"
	"LiveDesk/service/storage"
	"LiveDesk/tools/errs"
)

const maxMessageBytes = 8 << 10

// SendMessage 投递一条会话消息。先查发送方是否在广播组里
// （没 rejoin 的连接直接拒），落库时持久层再校验 ACTIVE + 成员关系。
func (d *Desk) SendMessage(ctx context.Context, caller Caller, sessionID int64, kind, content string) (*model.ChatMessage, error) {
	if !d.notifier.InSession(sessionID, caller.ConnID) {
		return nil, errs.ErrAuthorization.WrapMsg("connection not joined to session", "session", sessionID)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.ErrStateConflict.WrapMsg("empty message")
	}
	if len(content) > maxMessageBytes {
		return nil, errs.ErrStateConflict.WrapMsg("message too large", "bytes", len(content))
	}
	switch kind {
	case "":
		kind = model.MsgKindText
	case model.MsgKindText, model.MsgKindAttachment:
	default:
		return nil, errs.ErrStateConflict.WrapMsg("unknown message kind", "kind", kind)
	}

	msg := &model.ChatMessage{
		SessionID:  sessionID,
		SenderID:   caller.UserID,
		SenderRole: senderRole(caller.Role),
		Kind:       kind,
		Content:    content,
	}
	msg, err := d.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	d.notifier.MessageReceived(msg)
	kafka.EmitLifecycle("message.stored", sessionID, caller.UserID, "")
	return msg, nil
}

// SetTyping 输入状态。纯瞬态：写带 TTL 的缓存键，不落库；
// 缓存挂了只记日志，广播照常走。
func (d *Desk) SetTyping(ctx context.Context, caller Caller, sessionID int64, isTyping bool) error {
	if !d.notifier.InSession(sessionID, caller.ConnID) {
		return errs.ErrAuthorization.WrapMsg("connection not joined to session", "session", sessionID)
	}
	if err := storage.SetTyping(ctx, sessionID, caller.UserID, isTyping); err != nil {
		logger.Warnf("[desk] typing cache write failed: %v", err)
	}
	d.notifier.TypingChanged(sessionID, caller.UserID, isTyping, caller.ConnID)
	return nil
}

// MarkRead 批量已读。只有对方发的未读消息会被翻转；
// 自己的、已读的在持久层静默跳过，返回实际生效的 id。
func (d *Desk) MarkRead(ctx context.Context, caller Caller, sessionID int64, messageIDs []int64) ([]int64, error) {
	if !d.notifier.InSession(sessionID, caller.ConnID) {
		return nil, errs.ErrAuthorization.WrapMsg("connection not joined to session", "session", sessionID)
	}
	if len(messageIDs) == 0 {
		return nil, nil
	}
	changed, err := d.store.MarkRead(ctx, sessionID, messageIDs, caller.UserID)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		d.notifier.ReadReceipt(sessionID, changed, caller.UserID, caller.ConnID)
	}
	return changed, nil
}

func senderRole(role string) string {
	if role == model.RoleAgent || role == model.RoleAdmin {
		return model.RoleAgent
	}
	return model.RoleCustomer
}
