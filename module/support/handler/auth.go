package handler

import (
	"LiveDesk/logger"
	"LiveDesk/module/support/model"
	"LiveDesk/service/chat"
	"LiveDesk/tools/decode"
	"LiveDesk/tools/errs"
	"LiveDesk/tools/security"
)

// auth {"token":"..."}
// 认证窗口内唯一被受理的事件。成功后身份绑定到连接，
// 坐席连接顺手入坐席池组；失败由网关断开连接。
type authHandler struct{}

func (h *authHandler) Type() chat.EventType { return chat.EvAuth }

type authPayload struct {
	Token string `json:"token"`
}

func (h *authHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Conn) error {
	p, err := decode.DecodeMap[authPayload](f.Payload)
	if err != nil {
		return errs.ErrAuthentication.WrapMsg("bad auth payload")
	}
	if p.Token == "" {
		return errs.ErrAuthentication.WrapMsg("missing token")
	}

	id, err := security.Verify(ctx.S.JWTOpts(), p.Token)
	if err != nil {
		logger.Warnf("[auth] token rejected conn=%s: %v", c.SnowID, err)
		return errs.ErrAuthentication.WrapMsg("token verification failed")
	}
	if err := ctx.S.ConnMgr().BindIdentity(c.SnowID, id); err != nil {
		return errs.ErrAuthentication.WrapMsg("bind identity failed")
	}

	if id.Role == model.RoleAgent || id.Role == model.RoleAdmin {
		ctx.S.Reg().Join(chat.GroupAgents, c)
	}

	ctx.S.SendConn(c.SnowID, chat.BuildFrame(chat.EvAuthOK, map[string]any{
		"user_id": id.UserID,
		"name":    id.DisplayName,
		"role":    id.Role,
	}))
	logger.Infof("[auth] conn=%s bound user=%d role=%s", c.SnowID, id.UserID, id.Role)
	return nil
}
