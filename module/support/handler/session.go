package handler

import (
	"LiveDesk/module/support/model"
	"LiveDesk/module/support/service"
	"LiveDesk/service/chat"
	"LiveDesk/service/storage"
	"LiveDesk/tools/decode"
	"LiveDesk/tools/errs"
)

// session.start {"subject":"...","priority":"vip"}
type sessionStartHandler struct {
	desk *service.Desk
}

func (h *sessionStartHandler) Type() chat.EventType { return chat.EvSessionStart }

type sessionStartPayload struct {
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
}

func (h *sessionStartHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[sessionStartPayload](f.Payload)
	if err != nil {
		return errs.ErrStateConflict.WrapMsg("bad session.start payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	_, err = h.desk.StartSession(opc, callerOf(c), p.Subject, p.Priority)
	return err
}

// session.rejoin {"session_id":42}
type sessionRejoinHandler struct {
	desk *service.Desk
}

func (h *sessionRejoinHandler) Type() chat.EventType { return chat.EvSessionRejoin }

type sessionRefPayload struct {
	SessionID int64 `json:"session_id"`
}

func (h *sessionRejoinHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[sessionRefPayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad session.rejoin payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	sess, err := h.desk.RejoinSession(opc, callerOf(c), p.SessionID)
	if err != nil {
		return err
	}

	// 断线期间丢失的瞬态：对端若还在输入中，补发一帧给重连方。
	// 输入状态靠 TTL 自过期，这里按读取时刻判定，不等 stop 事件。
	if sess.Status == model.StatusActive {
		me := c.Identity.UserID
		others := []int64{sess.RequesterID}
		if sess.AgentID != nil {
			others = append(others, *sess.AgentID)
		}
		for _, uid := range others {
			if uid == me {
				continue
			}
			if on, terr := storage.IsTyping(opc, sess.ID, uid); terr == nil && on {
				ctx.S.SendConn(c.SnowID, chat.BuildFrame(chat.EvTypingChanged, map[string]any{
					"session_id": sess.ID,
					"user_id":    uid,
					"is_typing":  true,
				}))
			}
		}
	}
	return nil
}

// session.accept {"session_id":42}
type sessionAcceptHandler struct {
	desk *service.Desk
}

func (h *sessionAcceptHandler) Type() chat.EventType { return chat.EvSessionAccept }

func (h *sessionAcceptHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[sessionRefPayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad session.accept payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	_, err = h.desk.AcceptSession(opc, callerOf(c), p.SessionID)
	return err
}

// session.close {"session_id":42,"reason":"resolved"}
type sessionCloseHandler struct {
	desk *service.Desk
}

func (h *sessionCloseHandler) Type() chat.EventType { return chat.EvSessionClose }

type sessionClosePayload struct {
	SessionID int64  `json:"session_id"`
	Reason    string `json:"reason"`
}

func (h *sessionCloseHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[sessionClosePayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad session.close payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	_, err = h.desk.CloseSession(opc, callerOf(c), p.SessionID, p.Reason)
	return err
}

// session.history {"session_id":42,"limit":50,"offset":0}
// 点对点回包，不走广播。
type sessionHistoryHandler struct {
	desk *service.Desk
}

func (h *sessionHistoryHandler) Type() chat.EventType { return chat.EvSessionHistory }

type historyPayload struct {
	SessionID int64 `json:"session_id"`
	Limit     int   `json:"limit"`
	Offset    int   `json:"offset"`
}

func (h *sessionHistoryHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[historyPayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad session.history payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	msgs, err := h.desk.History(opc, callerOf(c), p.SessionID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	ctx.S.SendConn(c.SnowID, chat.BuildFrame(chat.EvSessionHistory, map[string]any{
		"session_id": p.SessionID,
		"messages":   msgs,
	}))
	return nil
}
