package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"LiveDesk/logger"
	"LiveDesk/tools/security"

	"github.com/gorilla/websocket"
)

// ===== 配置 =====

type ManagerConf struct {
	UnauthTTL  time.Duration    // 未授权连接的 TTL（握手后必须尽快 auth）
	AuthTTL    time.Duration    // 已授权连接的 TTL（由心跳续期）
	SweepEvery time.Duration    // 清理周期
	SendBuffer int              // 每连接发送队列长度
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 60 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Hour
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// ===== 数据结构 =====

// Conn 一条 websocket 连接。Identity 在 auth 成功前为 nil，
// 此前除 auth 外的任何帧都被网关丢弃。
type Conn struct {
	SnowID   string
	Identity *security.Identity
	WS       *websocket.Conn
	Remote   net.Addr

	send      chan []byte
	sendMu    sync.Mutex
	closed    bool
	closeOnce sync.Once

	CreatedAt time.Time
	TTL       time.Duration
	ExpireAt  time.Time
	Heartbeat time.Time
}

// Authorized 是否已绑定身份。
func (c *Conn) Authorized() bool { return c.Identity != nil }

// UserID 便捷访问；未授权返回 0。
func (c *Conn) UserID() int64 {
	if c.Identity == nil {
		return 0
	}
	return c.Identity.UserID
}

// Enqueue 非阻塞投递到该连接的发送队列；队列满视为慢客户端，断开。
// 与 close 用同一把锁串行：扇出 worker 手里的成员快照可能包含
// 刚被摘除的连接，投递已关闭的连接必须返回 false 而不是炸掉 worker。
func (c *Conn) Enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
		_ = c.WS.Close()
	})
}

type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*Conn           // 主索引：snowID -> conn
	byUser map[int64]map[string]*Conn // 辅助索引：userID -> (snowID -> conn)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow: make(map[string]*Conn),
		byUser: make(map[int64]map[string]*Conn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.bySnow {
		c.close()
	}
	m.bySnow = map[string]*Conn{}
	m.byUser = map[int64]map[string]*Conn{}
}

// ===== 登记/绑定 =====

// AddUnauth 新连接（未授权）登记；写泵在此启动。
func (m *ConnManager) AddUnauth(snowID string, ws *websocket.Conn) (*Conn, error) {
	if snowID == "" || ws == nil {
		return nil, errors.New("snowID/ws empty")
	}
	now := m.conf.Clock()
	c := &Conn{
		SnowID:    snowID,
		WS:        ws,
		Remote:    ws.RemoteAddr(),
		send:      make(chan []byte, m.conf.SendBuffer),
		CreatedAt: now,
		Heartbeat: now,
		TTL:       m.conf.UnauthTTL,
		ExpireAt:  now.Add(m.conf.UnauthTTL),
	}

	m.mu.Lock()
	if _, exists := m.bySnow[snowID]; exists {
		m.mu.Unlock()
		return nil, errors.New("snowID exists")
	}
	m.bySnow[snowID] = c
	m.mu.Unlock()

	go m.writePump(c)
	return c, nil
}

// BindIdentity 授权成功后绑定身份：切到 AuthTTL，挂入用户索引。
func (m *ConnManager) BindIdentity(snowID string, id *security.Identity) error {
	if snowID == "" || id == nil {
		return errors.New("snowID/identity empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.bySnow[snowID]
	if !ok {
		return errors.New("snowID not found")
	}

	c.Identity = id
	c.TTL = m.conf.AuthTTL
	c.ExpireAt = now.Add(m.conf.AuthTTL)
	c.Heartbeat = now

	mm := m.byUser[id.UserID]
	if mm == nil {
		mm = make(map[string]*Conn)
		m.byUser[id.UserID] = mm
	}
	mm[snowID] = c
	return nil
}

// ===== 心跳 =====

// Touch 刷新心跳与到期时间。
func (m *ConnManager) Touch(snowID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.bySnow[snowID]
	if !ok {
		return errors.New("snowID not found")
	}
	c.Heartbeat = now
	c.ExpireAt = now.Add(c.TTL)
	return nil
}

// AttachPongHandler 绑定 gorilla 的 PongHandler，自动心跳续期。
func (m *ConnManager) AttachPongHandler(ws *websocket.Conn, snowID string) {
	if ws == nil || snowID == "" {
		return
	}
	ws.SetPongHandler(func(string) error {
		_ = m.Touch(snowID) // 忽略错误：连接可能刚好被清理
		return nil
	})
}

// ===== 查询/发送 =====

func (m *ConnManager) Get(snowID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySnow[snowID]
	return c, ok
}

// ListUserConns 某身份的所有连接（路由提示用，非权威）。
func (m *ConnManager) ListUserConns(userID int64) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// SendUser 向某身份的所有连接投递。
func (m *ConnManager) SendUser(userID int64, data []byte) {
	for _, c := range m.ListUserConns(userID) {
		if !c.Enqueue(data) {
			logger.Warnf("[conn] send buffer full, dropping conn snowID=%s user=%d", c.SnowID, userID)
			m.Remove(c.SnowID)
		}
	}
}

// Remove 关闭并移除指定连接。
func (m *ConnManager) Remove(snowID string) {
	m.mu.Lock()
	c, ok := m.bySnow[snowID]
	if ok {
		delete(m.bySnow, snowID)
		if c.Identity != nil {
			if mm := m.byUser[c.Identity.UserID]; mm != nil {
				delete(mm, snowID)
				if len(mm) == 0 {
					delete(m.byUser, c.Identity.UserID)
				}
			}
		}
	}
	m.mu.Unlock()
	if ok {
		c.close()
	}
}

// ===== 写泵 =====

// writePump 单写协程 + 缓冲队列：gorilla 的 WriteMessage 不能并发调用。
func (m *ConnManager) writePump(c *Conn) {
	ticker := time.NewTicker(45 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if !ok {
				_ = c.WS.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("[conn] write failed snowID=%s err=%v", c.SnowID, err)
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []string
	m.mu.RLock()
	for sid, c := range m.bySnow {
		if now.After(c.ExpireAt) {
			expired = append(expired, sid)
		}
	}
	m.mu.RUnlock()

	for _, sid := range expired {
		logger.Infof("[conn] expired snowID=%s", sid)
		m.Remove(sid)
	}
}
