package handler

import (
	"context"
	"time"

	"LiveDesk/module/support/service"
	"LiveDesk/service/chat"
)

// handler 层只做三件事：解码负载、换算 Caller、调状态机。
// 出站推送走 Notifier，不在这里拼帧。

const opTimeout = 10 * time.Second

// Register 把全部入站事件挂到网关分发器上。
func Register(srv *chat.Server, desk *service.Desk) {
	d := srv.Disp()
	d.Register(&authHandler{})
	d.Register(&sessionStartHandler{desk: desk})
	d.Register(&sessionRejoinHandler{desk: desk})
	d.Register(&sessionAcceptHandler{desk: desk})
	d.Register(&sessionCloseHandler{desk: desk})
	d.Register(&messageSendHandler{desk: desk})
	d.Register(&typingSetHandler{desk: desk})
	d.Register(&markReadHandler{desk: desk})
	d.Register(&agentPresenceHandler{desk: desk})
	d.Register(&sessionHistoryHandler{desk: desk})
	d.Register(&agentListHandler{desk: desk})
	d.Register(&queueStatusHandler{desk: desk})
}

func callerOf(c *chat.Conn) service.Caller {
	return service.Caller{
		ConnID: c.SnowID,
		UserID: c.Identity.UserID,
		Name:   c.Identity.DisplayName,
		Role:   c.Identity.Role,
	}
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
