package handler

import (
	"LiveDesk/module/support/service"
	"LiveDesk/service/chat"
	"LiveDesk/tools/decode"
	"LiveDesk/tools/errs"
)

// message.send {"session_id":42,"kind":"text","content":"..."}
type messageSendHandler struct {
	desk *service.Desk
}

func (h *messageSendHandler) Type() chat.EventType { return chat.EvMessageSend }

type messageSendPayload struct {
	SessionID int64  `json:"session_id"`
	Kind      string `json:"kind"`
	Content   string `json:"content"`
}

func (h *messageSendHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[messageSendPayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad message.send payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	_, err = h.desk.SendMessage(opc, callerOf(c), p.SessionID, p.Kind, p.Content)
	return err
}

// typing.set {"session_id":42,"is_typing":true}
type typingSetHandler struct {
	desk *service.Desk
}

func (h *typingSetHandler) Type() chat.EventType { return chat.EvTypingSet }

type typingSetPayload struct {
	SessionID int64 `json:"session_id"`
	IsTyping  bool  `json:"is_typing"`
}

func (h *typingSetHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[typingSetPayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad typing.set payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	return h.desk.SetTyping(opc, callerOf(c), p.SessionID, p.IsTyping)
}

// message.markRead {"session_id":42,"message_ids":[7,8,9]}
type markReadHandler struct {
	desk *service.Desk
}

func (h *markReadHandler) Type() chat.EventType { return chat.EvMessageRead }

type markReadPayload struct {
	SessionID  int64   `json:"session_id"`
	MessageIDs []int64 `json:"message_ids"`
}

func (h *markReadHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[markReadPayload](f.Payload)
	if err != nil || p.SessionID == 0 {
		return errs.ErrStateConflict.WrapMsg("bad message.markRead payload")
	}
	opc, cancel := opCtx()
	defer cancel()
	_, err = h.desk.MarkRead(opc, callerOf(c), p.SessionID, p.MessageIDs)
	return err
}
