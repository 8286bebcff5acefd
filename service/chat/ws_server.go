package chat

import (
	"net"
	"net/http"

	"LiveDesk/logger"
	"LiveDesk/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS websocket 入口。
// 握手先行，身份后置：连接登记为未授权，首个有效事件必须是 auth，
// 在那之前除 auth 外的帧一律丢弃（不回错误，防探测）。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	snowID := ids.GenerateString()
	rec, err := s.connMgr.AddUnauth(snowID, ws)
	if err != nil {
		logger.Infof("[ws] register conn error: %v", err)
		_ = ws.Close()
		return
	}
	s.connMgr.AttachPongHandler(ws, snowID)

	defer func() {
		// 断线收尾：退出所有广播组，摘除连接。
		// 持久状态（会话/队列）不动——重连靠 session.rejoin 恢复。
		s.reg.LeaveAll(snowID)
		s.connMgr.Remove(snowID)
		logger.Infof("[ws] closed snowID=%s user=%d", snowID, rec.UserID())
	}()

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed snowID=%s", snowID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout snowID=%s err=%v", snowID, rerr)
			} else {
				logger.Infof("[ws] read err snowID=%s err=%v", snowID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		msg, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame snowID=%s err=%v sample=%q", snowID, perr, sample)
			continue
		}

		// 未授权窗口：只放行 auth
		if !rec.Authorized() && msg.Type != EvAuth {
			logger.Debugf("[ws] drop pre-auth frame snowID=%s type=%s", snowID, msg.Type)
			continue
		}

		if err := s.disp.Dispatch(&Context{S: s}, msg, rec); err != nil {
			// 错误在 handler 边界统一转错误帧回给来源连接，绝不外溢到其他连接
			s.SendConn(snowID, BuildError(err))

			// 认证失败是唯一关连接的错误类别
			if msg.Type == EvAuth {
				logger.Infof("[ws] auth failed snowID=%s err=%v", snowID, err)
				return
			}
			logger.Infof("[ws] handle %s err snowID=%s err=%v", msg.Type, snowID, err)
		}
	}
}
