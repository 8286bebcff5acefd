package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"LiveDesk/tools/errs"
)

// 线协议：单条 websocket 文本帧 {"type":"<event>","payload":{...}}。
// 入站事件逐一映射到状态机操作；出站事件是服务端推送。

type EventType string

// —— 入站 —— //
const (
	EvAuth           EventType = "auth"
	EvSessionStart   EventType = "session.start"
	EvSessionRejoin  EventType = "session.rejoin"
	EvSessionAccept  EventType = "session.accept"
	EvMessageSend    EventType = "message.send"
	EvTypingSet      EventType = "typing.set"
	EvMessageRead    EventType = "message.markRead"
	EvSessionClose   EventType = "session.close"
	EvAgentPresence  EventType = "agent.presence"
	EvSessionHistory EventType = "session.history"
	EvAgentList      EventType = "agent.listActive"
	EvQueueStatus    EventType = "queue.status"
)

// —— 出站 —— //
const (
	EvAuthOK          EventType = "auth.ok"
	EvSessionStarted  EventType = "session.started"
	EvSessionPending  EventType = "session.pending"
	EvSessionAccepted EventType = "session.accepted"
	EvAgentJoined     EventType = "session.agentJoined"
	EvLeftQueue       EventType = "session.leftQueue"
	EvMessageReceived EventType = "message.received"
	EvTypingChanged   EventType = "typing.changed"
	EvReadReceipt     EventType = "message.readReceipt"
	EvSessionClosed   EventType = "session.closed"
	EvSessionRejoined EventType = "session.rejoined"
	EvSessionExpired  EventType = "session.expired"
	EvPresenceChanged EventType = "agent.presenceChanged"
	EvQueueReport     EventType = "queue.statusReport"
	EvError           EventType = "error"
)

// Frame 业务帧。Payload 保持 map，由各 handler 用 decode.DecodeMap 转成类型化负载。
type Frame struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	TS      int64          `json:"ts,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &f, nil
}

// BuildFrame 序列化出站帧；payload 为任意可 JSON 化对象。
func BuildFrame(t EventType, payload any) []byte {
	data, err := json.Marshal(struct {
		Type    EventType `json:"type"`
		Payload any       `json:"payload,omitempty"`
		TS      int64     `json:"ts"`
	}{Type: t, Payload: payload, TS: time.Now().UnixMilli()})
	if err != nil {
		// payload 都是本包可控结构，到这里只可能是编程错误
		return []byte(`{"type":"error","payload":{"message":"marshal failure"}}`)
	}
	return data
}

// BuildError 统一错误帧：{code, message}。
func BuildError(err error) []byte {
	ce := errs.AsCode(err)
	return BuildFrame(EvError, map[string]any{
		"code":    ce.Code,
		"message": ce.Msg,
		"detail":  ce.Detail,
	})
}
