package chat

import (
	"strconv"
	"sync"
)

// Registry 进程内广播组与在线登记。
// 纯内存，进程重启即清空；只作为投递路由提示，
// 不承载任何会话状态权威（会话归持久层管）。

const GroupAgents = "agents"

// SessionGroup 会话广播组名。
func SessionGroup(sessionID int64) string {
	return "session:" + strconv.FormatInt(sessionID, 10)
}

type Registry struct {
	mu      sync.RWMutex
	byGroup map[string]map[string]*Conn // group -> snowID -> conn
	groups  map[string]map[string]bool  // snowID -> group 集合（断线反查）
}

func NewRegistry() *Registry {
	return &Registry{
		byGroup: make(map[string]map[string]*Conn),
		groups:  make(map[string]map[string]bool),
	}
}

func (r *Registry) Join(group string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byGroup[group]
	if m == nil {
		m = make(map[string]*Conn)
		r.byGroup[group] = m
	}
	m[c.SnowID] = c

	g := r.groups[c.SnowID]
	if g == nil {
		g = make(map[string]bool)
		r.groups[c.SnowID] = g
	}
	g[group] = true
}

func (r *Registry) Leave(group string, snowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(group, snowID)
}

func (r *Registry) leaveLocked(group, snowID string) {
	if m := r.byGroup[group]; m != nil {
		delete(m, snowID)
		if len(m) == 0 {
			delete(r.byGroup, group)
		}
	}
	if g := r.groups[snowID]; g != nil {
		delete(g, group)
		if len(g) == 0 {
			delete(r.groups, snowID)
		}
	}
}

// LeaveAll 断线收尾：退出该连接加入过的所有组。
func (r *Registry) LeaveAll(snowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for group := range r.groups[snowID] {
		r.leaveLocked(group, snowID)
	}
}

// Members 组内当前连接快照。
func (r *Registry) Members(group string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byGroup[group]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// InGroup 成员资格检查（消息通道操作要求先 rejoin/start/accept 入组）。
func (r *Registry) InGroup(group, snowID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byGroup[group]
	return m != nil && m[snowID] != nil
}
