package kafka

import (
	"encoding/json"
	"strconv"
	"time"

	"LiveDesk/logger"
)

// 生命周期事件旁路：每个落定的调度事务发一条紧凑 JSON 到报表 topic。
// 失败只打日志，绝不回滚业务事务。

const LifecycleTopic = "desk_session_events"

type LifecycleEvent struct {
	Event     string `json:"event"` // session.started | session.accepted | session.closed | message.stored
	SessionID int64  `json:"session_id"`
	ActorID   int64  `json:"actor_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
	TS        int64  `json:"ts"`
}

// EmitLifecycle 按会话ID做 key，保证同会话事件在报表侧分区内有序。
func EmitLifecycle(event string, sessionID, actorID int64, detail string) {
	if AsyncProd == nil {
		return
	}
	payload, err := json.Marshal(LifecycleEvent{
		Event:     event,
		SessionID: sessionID,
		ActorID:   actorID,
		Detail:    detail,
		TS:        time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Warnf("lifecycle marshal: %v", err)
		return
	}
	SendAsync(LifecycleTopic, strconv.FormatInt(sessionID, 10), payload)
}
