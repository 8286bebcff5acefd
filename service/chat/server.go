package chat

import (
	"LiveDesk/tools/security"
)

// Server 网关侧聚合：连接管理、广播组、扇出池、事件分发。
// 业务状态机不在这里——handler 解码后调 module/support/service。
type Server struct {
	connMgr *ConnManager
	reg     *Registry
	fanout  *Fanout
	disp    *Dispatcher
	jwtOpts security.Options
}

func NewServer(connMgr *ConnManager, jwtOpts security.Options) *Server {
	return &Server{
		connMgr: connMgr,
		reg:     NewRegistry(),
		fanout:  NewFanout(8, 2048),
		disp:    NewDispatcher(),
		jwtOpts: jwtOpts,
	}
}

func (s *Server) ConnMgr() *ConnManager     { return s.connMgr }
func (s *Server) Reg() *Registry            { return s.reg }
func (s *Server) Disp() *Dispatcher         { return s.disp }
func (s *Server) JWTOpts() security.Options { return s.jwtOpts }

// BroadcastGroup 组广播（按组名保序）。
func (s *Server) BroadcastGroup(group string, payload []byte) {
	s.fanout.Broadcast(group, s.reg.Members(group), payload)
}

// BroadcastGroupExcept 组广播並排除指定连接（typing 不回显）。
func (s *Server) BroadcastGroupExcept(group, exclude string, payload []byte) {
	s.fanout.BroadcastExcept(group, s.reg.Members(group), exclude, payload)
}

// SendConn 点对点回包。
func (s *Server) SendConn(snowID string, payload []byte) {
	c, ok := s.connMgr.Get(snowID)
	if !ok {
		return
	}
	if !c.Enqueue(payload) {
		s.connMgr.Remove(snowID)
	}
}

// SendUser 按身份投递（该身份的全部连接）。
func (s *Server) SendUser(userID int64, payload []byte) {
	s.connMgr.SendUser(userID, payload)
}
