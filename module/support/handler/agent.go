package handler

import (
	"encoding/json"

	"LiveDesk/module/support/service"
	"LiveDesk/service/chat"
	"LiveDesk/service/storage"
	"LiveDesk/tools/decode"
	"LiveDesk/tools/errs"
)

// agent.presence {"presence":"ONLINE"}
type agentPresenceHandler struct {
	desk *service.Desk
}

func (h *agentPresenceHandler) Type() chat.EventType { return chat.EvAgentPresence }

type agentPresencePayload struct {
	Presence string `json:"presence"`
}

func (h *agentPresenceHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[agentPresencePayload](f.Payload)
	if err != nil {
		return errs.ErrStateConflict.WrapMsg("bad agent.presence payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	_, err = h.desk.ChangeAgentPresence(opc, callerOf(c), p.Presence)
	return err
}

// agent.listActive {}
// 回当前坐席名下 ACTIVE 会话，点对点。
type agentListHandler struct {
	desk *service.Desk
}

func (h *agentListHandler) Type() chat.EventType { return chat.EvAgentList }

func (h *agentListHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	opc, cancel := opCtx()
	defer cancel()
	sessions, err := h.desk.ActiveSessions(opc, callerOf(c))
	if err != nil {
		return err
	}
	ctx.S.SendConn(c.SnowID, chat.BuildFrame(chat.EvAgentList, map[string]any{
		"sessions": sessions,
	}))
	return nil
}

// queue.status {"session_id":42}
// session_id 可省略（只要总量报表）。全局报表走短 TTL 缓存，
// 带排位的查询每次现算。
type queueStatusHandler struct {
	desk *service.Desk
}

func (h *queueStatusHandler) Type() chat.EventType { return chat.EvQueueStatus }

func (h *queueStatusHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[sessionRefPayload](f.Payload)
	if err != nil {
		return errs.ErrStateConflict.WrapMsg("bad queue.status payload")
	}
	opc, cancel := opCtx()
	defer cancel()

	if p.SessionID == 0 {
		if cached := storage.CachedQueueStats(opc); cached != nil {
			ctx.S.SendConn(c.SnowID, chat.BuildFrame(chat.EvQueueReport, json.RawMessage(cached)))
			return nil
		}
	}

	stats, err := h.desk.QueueStatus(opc, p.SessionID)
	if err != nil {
		return err
	}
	if p.SessionID == 0 {
		if raw, mErr := json.Marshal(stats); mErr == nil {
			storage.CacheQueueStats(opc, raw)
		}
	}
	ctx.S.SendConn(c.SnowID, chat.BuildFrame(chat.EvQueueReport, stats))
	return nil
}
