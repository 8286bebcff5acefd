package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"LiveDesk/module/support/model"
	"LiveDesk/module/support/store"
	"LiveDesk/tools/errs"
)

// ===== 内存版持久层桩 =====
// 语义对齐 PgStore：接单是"状态还是 WAITING 才生效"的条件更新，
// 锁内完成，模拟单事务。

type memStore struct {
	mu       sync.Mutex
	nextSess int64
	nextMsg  int64
	sessions map[int64]*model.ChatSession
	queue    map[int64]*model.QueueEntry
	messages map[int64][]*model.ChatMessage
	agents   map[int64]*model.AgentState
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[int64]*model.ChatSession{},
		queue:    map[int64]*model.QueueEntry{},
		messages: map[int64][]*model.ChatMessage{},
		agents:   map[int64]*model.AgentState{},
	}
}

func (m *memStore) StartSession(_ context.Context, s *model.ChatSession) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSess++
	cp := *s
	cp.ID = m.nextSess
	cp.Status = model.StatusWaiting
	cp.StartedAt = time.Now()
	m.sessions[cp.ID] = &cp
	m.queue[cp.ID] = &model.QueueEntry{SessionID: cp.ID, Score: cp.PriorityScore, EnteredAt: cp.StartedAt}
	out := cp
	return &out, nil
}

func (m *memStore) GetSession(_ context.Context, id int64) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("session not found", "id", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) AcceptSession(_ context.Context, sessionID, agentID int64, agentName string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("session not found", "id", sessionID)
	}
	if s.Status != model.StatusWaiting {
		return nil, errs.ErrStateConflict.WrapMsg("already accepted or closed", "id", sessionID)
	}
	now := time.Now()
	s.Status = model.StatusActive
	s.AgentID = &agentID
	s.AgentName = agentName
	s.AcceptedAt = &now
	s.WaitSeconds = int(now.Sub(s.StartedAt).Seconds())
	delete(m.queue, sessionID)
	a := m.agents[agentID]
	if a == nil {
		a = &model.AgentState{AgentID: agentID, DisplayName: agentName}
		m.agents[agentID] = a
	}
	a.CurrentCount++
	cp := *s
	return &cp, nil
}

func (m *memStore) CloseSession(_ context.Context, sessionID, closerID int64, reason string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("session not found", "id", sessionID)
	}
	if s.Status == model.StatusClosed {
		return nil, errs.ErrStateConflict.WrapMsg("already closed", "id", sessionID)
	}
	now := time.Now()
	s.Status = model.StatusClosed
	s.ClosedAt = &now
	s.ClosedBy = &closerID
	s.CloseReason = reason
	delete(m.queue, sessionID)
	// 与持久层一致：只有被指派坐席本人关闭才回收名额/累计处理量
	if s.AgentID != nil && *s.AgentID == closerID {
		if a := m.agents[*s.AgentID]; a != nil && a.CurrentCount > 0 {
			a.CurrentCount--
			a.LifetimeHandled++
		}
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) AppendMessage(_ context.Context, msg *model.ChatMessage) (*model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("session not found", "id", msg.SessionID)
	}
	if s.Status != model.StatusActive {
		return nil, errs.ErrStateConflict.WrapMsg("session not active", "status", s.Status)
	}
	if !s.IsMember(msg.SenderID) {
		return nil, errs.ErrAuthorization.WrapMsg("sender not a member")
	}
	m.nextMsg++
	cp := *msg
	cp.ID = m.nextMsg
	cp.CreatedAt = time.Now()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &cp)
	s.MessageCount++
	out := cp
	return &out, nil
}

func (m *memStore) MarkRead(_ context.Context, sessionID int64, messageIDs []int64, readerID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range messageIDs {
		want[id] = true
	}
	var changed []int64
	for _, msg := range m.messages[sessionID] {
		if want[msg.ID] && !msg.Read && msg.SenderID != readerID {
			msg.Read = true
			changed = append(changed, msg.ID)
		}
	}
	return changed, nil
}

func (m *memStore) ListMessages(_ context.Context, sessionID int64, limit, offset int) ([]*model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[sessionID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*model.ChatMessage, 0, end-offset)
	for _, msg := range all[offset:end] {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) QueueSnapshot(_ context.Context, limit int) ([]*model.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.QueueEntry, 0, len(m.queue))
	for _, e := range m.queue {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EnteredAt.Before(out[j].EnteredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) QueueStats(_ context.Context, sessionID int64) (*store.QueueStats, error) {
	entries, _ := m.QueueSnapshot(context.Background(), 0)
	st := &store.QueueStats{TotalWaiting: len(entries)}
	for i, e := range entries {
		if e.SessionID == sessionID {
			st.Position = i + 1
		}
	}
	return st, nil
}

func (m *memStore) UpsertAgentPresence(_ context.Context, agentID int64, tenantID, name, presence string) (*model.AgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.agents[agentID]
	if a == nil {
		a = &model.AgentState{AgentID: agentID, TenantID: tenantID, DisplayName: name, MaxConcurrent: 5}
		m.agents[agentID] = a
	}
	a.Presence = presence
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAgent(_ context.Context, agentID int64) (*model.AgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("agent not found", "id", agentID)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAgentSettings(_ context.Context, agentID int64, maxConcurrent int, specialties, languages []string) (*model.AgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("agent not found", "id", agentID)
	}
	a.MaxConcurrent = maxConcurrent
	a.Specialties = specialties
	a.Languages = languages
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAgentSessions(_ context.Context, agentID int64, status string, limit, offset int) ([]*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatSession
	for _, s := range m.sessions {
		if s.AgentID != nil && *s.AgentID == agentID && (status == "" || s.Status == status) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListRequesterSessions(_ context.Context, requesterID int64, limit, offset int) ([]*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ChatSession
	for _, s := range m.sessions {
		if s.RequesterID == requesterID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) SubmitRating(_ context.Context, sessionID, requesterID int64, rating int, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("session not found")
	}
	if s.Status != model.StatusClosed || s.RequesterID != requesterID || s.Rating != 0 {
		return errs.ErrStateConflict.WrapMsg("rating not allowed")
	}
	s.Rating = rating
	s.Feedback = feedback
	return nil
}

func (m *memStore) Overview(_ context.Context) (*store.Overview, error) {
	return &store.Overview{}, nil
}

func (m *memStore) ListCannedResponses(_ context.Context, tenantID string, agentID *int64) ([]*model.CannedResponse, error) {
	return nil, nil
}
func (m *memStore) CreateCannedResponse(_ context.Context, cr *model.CannedResponse) error {
	return nil
}
func (m *memStore) DeleteCannedResponse(_ context.Context, id string) error { return nil }

// ===== 记录型 Notifier 桩 =====

type noteCall struct {
	kind string
	sess int64
	conn string
}

type recNotifier struct {
	mu     sync.Mutex
	calls  []noteCall
	joined map[int64]map[string]bool
}

func newRecNotifier() *recNotifier {
	return &recNotifier{joined: map[int64]map[string]bool{}}
}

func (r *recNotifier) record(kind string, sess int64, conn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, noteCall{kind: kind, sess: sess, conn: conn})
}

func (r *recNotifier) JoinSession(sessionID int64, connID string) {
	r.mu.Lock()
	if r.joined[sessionID] == nil {
		r.joined[sessionID] = map[string]bool{}
	}
	r.joined[sessionID][connID] = true
	r.mu.Unlock()
	r.record("join", sessionID, connID)
}

func (r *recNotifier) InSession(sessionID int64, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined[sessionID][connID]
}

func (r *recNotifier) SessionStarted(connID string, s *model.ChatSession) {
	r.record("started", s.ID, connID)
}
func (r *recNotifier) SessionPending(s *model.ChatSession) { r.record("pending", s.ID, "") }
func (r *recNotifier) SessionAccepted(connID string, s *model.ChatSession) {
	r.record("accepted", s.ID, connID)
}
func (r *recNotifier) AgentJoined(s *model.ChatSession) { r.record("agentJoined", s.ID, "") }
func (r *recNotifier) LeftQueue(s *model.ChatSession)   { r.record("leftQueue", s.ID, "") }
func (r *recNotifier) SessionRejoined(connID string, s *model.ChatSession) {
	r.record("rejoined", s.ID, connID)
}
func (r *recNotifier) SessionExpired(connID string, sessionID int64) {
	r.record("expired", sessionID, connID)
}
func (r *recNotifier) SessionClosed(s *model.ChatSession) { r.record("closed", s.ID, "") }
func (r *recNotifier) MessageReceived(m *model.ChatMessage) {
	r.record("message", m.SessionID, "")
}
func (r *recNotifier) TypingChanged(sessionID, userID int64, isTyping bool, excludeConn string) {
	r.record("typing", sessionID, excludeConn)
}
func (r *recNotifier) ReadReceipt(sessionID int64, messageIDs []int64, readerID int64, excludeConn string) {
	r.record("readReceipt", sessionID, excludeConn)
}
func (r *recNotifier) PresenceChanged(a *model.AgentState) { r.record("presence", 0, "") }

func (r *recNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.kind
	}
	return out
}

func (r *recNotifier) has(kind string) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// ===== 测试 =====

func newTestDesk() (*Desk, *memStore, *recNotifier) {
	st := newMemStore()
	n := newRecNotifier()
	return NewDesk(st, n, "t_test"), st, n
}

var (
	customer = Caller{ConnID: "c1", UserID: 100, Name: "李雷", Role: model.RoleCustomer}
	agentA   = Caller{ConnID: "a1", UserID: 200, Name: "客服甲", Role: model.RoleAgent}
	agentB   = Caller{ConnID: "a2", UserID: 201, Name: "客服乙", Role: model.RoleAgent}
)

func TestStartSessionScores(t *testing.T) {
	desk, _, n := newTestDesk()
	ctx := context.Background()

	cases := []struct {
		tier string
		want int
	}{
		{"", model.ScoreDefault},
		{"default", model.ScoreDefault},
		{"priority", model.ScorePriority},
		{"vip", model.ScoreVIP},
		{"unknown-tier", model.ScoreDefault},
	}
	for _, c := range cases {
		sess, err := desk.StartSession(ctx, customer, "支付失败", c.tier)
		if err != nil {
			t.Fatalf("StartSession(%q): %v", c.tier, err)
		}
		if sess.PriorityScore != c.want {
			t.Errorf("tier %q score = %d, want %d", c.tier, sess.PriorityScore, c.want)
		}
		if sess.Status != model.StatusWaiting {
			t.Errorf("new session status = %s, want WAITING", sess.Status)
		}
	}
	if !n.has("pending") || !n.has("started") {
		t.Errorf("expected started + pending notifications, got %v", n.kinds())
	}
}

func TestAcceptSingleWinner(t *testing.T) {
	desk, _, _ := newTestDesk()
	ctx := context.Background()
	sess, err := desk.StartSession(ctx, customer, "", "")
	if err != nil {
		t.Fatal(err)
	}

	// 两个坐席并发抢同一会话，恰好一个成功
	const racers = 16
	var wg sync.WaitGroup
	var wins, conflicts int64
	var mu sync.Mutex
	for i := 0; i < racers; i++ {
		wg.Add(1)
		agent := Caller{ConnID: "r", UserID: int64(200 + i), Name: "agent", Role: model.RoleAgent}
		go func() {
			defer wg.Done()
			_, err := desk.AcceptSession(ctx, agent, sess.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errs.AsCode(err).Code == errs.CodeStateConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if conflicts != racers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, racers-1)
	}

	got, _ := desk.store.GetSession(ctx, sess.ID)
	if got.Status != model.StatusActive || got.AgentID == nil {
		t.Fatalf("after accept: status=%s agent=%v", got.Status, got.AgentID)
	}
}

func TestAcceptRequiresAgentRole(t *testing.T) {
	desk, _, _ := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")

	_, err := desk.AcceptSession(ctx, customer, sess.ID)
	if errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("customer accept: got %v, want authorization error", err)
	}
}

func TestAcceptMissingSession(t *testing.T) {
	desk, _, _ := newTestDesk()
	_, err := desk.AcceptSession(context.Background(), agentA, 9999)
	if errs.AsCode(err).Code != errs.CodeNotFound {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestCloseIdempotentConflict(t *testing.T) {
	desk, _, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	if _, err := desk.AcceptSession(ctx, agentA, sess.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := desk.CloseSession(ctx, agentA, sess.ID, "resolved"); err != nil {
		t.Fatalf("first close: %v", err)
	}
	_, err := desk.CloseSession(ctx, agentA, sess.ID, "again")
	if errs.AsCode(err).Code != errs.CodeStateConflict {
		t.Fatalf("second close: got %v, want state conflict", err)
	}
	if !n.has("closed") {
		t.Error("expected closed notification")
	}
}

func TestCloseRequiresMembership(t *testing.T) {
	desk, _, _ := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, sess.ID)

	// 旁观坐席不能关别人的会话
	_, err := desk.CloseSession(ctx, agentB, sess.ID, "")
	if errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("outsider close: got %v, want authorization error", err)
	}

	// 管理员可以
	admin := Caller{ConnID: "m1", UserID: 999, Name: "管理员", Role: model.RoleAdmin}
	if _, err := desk.CloseSession(ctx, admin, sess.ID, "escalated"); err != nil {
		t.Fatalf("admin close: %v", err)
	}
}

// 排队中放弃：请求方直接关闭 WAITING 会话。
// WAITING → CLOSED 合法，票据同步出队，agent 保持未指派。
func TestCloseWaitingSessionDequeues(t *testing.T) {
	desk, st, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "vip")

	entries, _ := st.QueueSnapshot(ctx, 10)
	if len(entries) != 1 {
		t.Fatalf("queue before close = %d", len(entries))
	}

	closed, err := desk.CloseSession(ctx, customer, sess.ID, "abandoned")
	if err != nil {
		t.Fatalf("close WAITING session: %v", err)
	}
	if closed.Status != model.StatusClosed || closed.AgentID != nil {
		t.Fatalf("after close: status=%s agent=%v", closed.Status, closed.AgentID)
	}

	entries, _ = st.QueueSnapshot(ctx, 10)
	if len(entries) != 0 {
		t.Fatalf("queue after close = %d, want empty", len(entries))
	}
	if !n.has("closed") {
		t.Error("expected closed notification")
	}
}

// 坐席本人关闭：并发名额 -1、累计处理量 +1；
// 请求方关闭时坐席侧计数原样不动。
func TestAgentCloseReleasesCapacity(t *testing.T) {
	desk, st, _ := newTestDesk()
	ctx := context.Background()

	s1, _ := desk.StartSession(ctx, customer, "", "")
	s2, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, s1.ID)
	desk.AcceptSession(ctx, agentA, s2.ID)

	a, _ := st.GetAgent(ctx, agentA.UserID)
	if a.CurrentCount != 2 {
		t.Fatalf("count after accepts = %d", a.CurrentCount)
	}

	if _, err := desk.CloseSession(ctx, agentA, s1.ID, "resolved"); err != nil {
		t.Fatal(err)
	}
	a, _ = st.GetAgent(ctx, agentA.UserID)
	if a.CurrentCount != 1 || a.LifetimeHandled != 1 {
		t.Fatalf("after agent close: count=%d handled=%d", a.CurrentCount, a.LifetimeHandled)
	}

	// 请求方关闭自己的会话，坐席计数不变
	if _, err := desk.CloseSession(ctx, customer, s2.ID, "nevermind"); err != nil {
		t.Fatal(err)
	}
	a, _ = st.GetAgent(ctx, agentA.UserID)
	if a.CurrentCount != 1 || a.LifetimeHandled != 1 {
		t.Fatalf("after requester close: count=%d handled=%d", a.CurrentCount, a.LifetimeHandled)
	}
}

func TestRejoinClosedSignalsExpired(t *testing.T) {
	desk, _, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, sess.ID)
	desk.CloseSession(ctx, customer, sess.ID, "done")

	// 重连到已关闭会话：拿到过期信号，不报错，也不入组
	reconnected := Caller{ConnID: "c2", UserID: customer.UserID, Name: customer.Name, Role: model.RoleCustomer}
	if _, err := desk.RejoinSession(ctx, reconnected, sess.ID); err != nil {
		t.Fatalf("rejoin closed: %v", err)
	}
	if !n.has("expired") {
		t.Error("expected expired notification")
	}
	if n.InSession(sess.ID, "c2") {
		t.Error("closed-session rejoin must not join broadcast group")
	}
}

func TestRejoinActiveRestoresGroup(t *testing.T) {
	desk, _, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, sess.ID)

	reconnected := Caller{ConnID: "c2", UserID: customer.UserID, Name: customer.Name, Role: model.RoleCustomer}
	if _, err := desk.RejoinSession(ctx, reconnected, sess.ID); err != nil {
		t.Fatal(err)
	}
	if !n.InSession(sess.ID, "c2") {
		t.Error("rejoin must restore broadcast membership")
	}
}

func TestRejoinRejectsOutsider(t *testing.T) {
	desk, _, _ := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")

	outsider := Caller{ConnID: "x1", UserID: 777, Role: model.RoleCustomer}
	_, err := desk.RejoinSession(ctx, outsider, sess.ID)
	if errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("outsider rejoin: got %v, want authorization error", err)
	}

	// 管理员也不例外：非成员不进实时通道（转录走 REST）
	admin := Caller{ConnID: "m1", UserID: 999, Role: model.RoleAdmin}
	_, err = desk.RejoinSession(ctx, admin, sess.ID)
	if errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("admin rejoin: got %v, want authorization error", err)
	}
}

func TestSendMessageLifecycle(t *testing.T) {
	desk, _, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")

	// WAITING 期间请求方已在组里，但会话未激活，落库会拒
	_, err := desk.SendMessage(ctx, customer, sess.ID, "", "hello?")
	if errs.AsCode(err).Code != errs.CodeStateConflict {
		t.Fatalf("send to WAITING: got %v, want state conflict", err)
	}

	desk.AcceptSession(ctx, agentA, sess.ID)
	msg, err := desk.SendMessage(ctx, customer, sess.ID, "", "现在可以了吗")
	if err != nil {
		t.Fatalf("send to ACTIVE: %v", err)
	}
	if msg.Kind != model.MsgKindText || msg.SenderRole != model.RoleCustomer {
		t.Errorf("message kind=%s role=%s", msg.Kind, msg.SenderRole)
	}
	if !n.has("message") {
		t.Error("expected message notification")
	}

	// 未 rejoin 的连接（不在组里）直接拒
	stranger := Caller{ConnID: "ghost", UserID: customer.UserID, Role: model.RoleCustomer}
	_, err = desk.SendMessage(ctx, stranger, sess.ID, "", "hi")
	if errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("send without join: got %v, want authorization error", err)
	}

	// 空消息
	_, err = desk.SendMessage(ctx, customer, sess.ID, "", "   ")
	if errs.AsCode(err).Code != errs.CodeStateConflict {
		t.Fatalf("empty message: got %v", err)
	}
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	desk, st, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, sess.ID)

	m1, _ := desk.SendMessage(ctx, customer, sess.ID, "", "你好")
	m2, _ := desk.SendMessage(ctx, agentA, sess.ID, "", "有什么可以帮您")

	// 坐席标已读：只有客户发的 m1 翻转，自己的 m2 跳过
	changed, err := desk.MarkRead(ctx, agentA, sess.ID, []int64{m1.ID, m2.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0] != m1.ID {
		t.Fatalf("changed = %v, want [%d]", changed, m1.ID)
	}

	// 再标一次：全部已读/自己的，无变化也无回执
	before := len(n.kinds())
	changed, _ = desk.MarkRead(ctx, agentA, sess.ID, []int64{m1.ID, m2.ID})
	if len(changed) != 0 {
		t.Fatalf("second markRead changed = %v, want empty", changed)
	}
	for _, k := range n.kinds()[before:] {
		if k == "readReceipt" {
			t.Error("no receipt expected when nothing changed")
		}
	}

	msgs, _ := st.ListMessages(ctx, sess.ID, 10, 0)
	if !msgs[0].Read || msgs[1].Read {
		t.Errorf("read flags: m1=%v m2=%v", msgs[0].Read, msgs[1].Read)
	}

	// 空列表是 no-op
	if changed, err := desk.MarkRead(ctx, agentA, sess.ID, nil); err != nil || changed != nil {
		t.Errorf("empty markRead: %v %v", changed, err)
	}
}

func TestPresenceValidation(t *testing.T) {
	desk, _, n := newTestDesk()
	ctx := context.Background()

	if _, err := desk.ChangeAgentPresence(ctx, customer, model.AgentOnline); errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("customer presence: got %v", err)
	}
	if _, err := desk.ChangeAgentPresence(ctx, agentA, "NAPPING"); errs.AsCode(err).Code != errs.CodeStateConflict {
		t.Fatalf("bad presence value: got %v", err)
	}
	a, err := desk.ChangeAgentPresence(ctx, agentA, model.AgentAway)
	if err != nil {
		t.Fatal(err)
	}
	if a.Presence != model.AgentAway {
		t.Errorf("presence = %s", a.Presence)
	}
	if !n.has("presence") {
		t.Error("expected presence notification")
	}
}

func TestQueueOrdering(t *testing.T) {
	desk, st, _ := newTestDesk()
	ctx := context.Background()

	s1, _ := desk.StartSession(ctx, customer, "", "default")
	vip := Caller{ConnID: "v1", UserID: 101, Name: "韩梅梅", Role: model.RoleCustomer}
	s2, _ := desk.StartSession(ctx, vip, "", "vip")
	s3, _ := desk.StartSession(ctx, customer, "", "default")

	entries, err := st.QueueSnapshot(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{s2.ID, s1.ID, s3.ID} // vip 先，同档 FIFO
	if len(entries) != 3 {
		t.Fatalf("queue len = %d", len(entries))
	}
	for i, e := range entries {
		if e.SessionID != want[i] {
			t.Fatalf("queue[%d] = %d, want %d (order %v)", i, e.SessionID, want[i], want)
		}
	}

	// 接单出队
	desk.AcceptSession(ctx, agentA, s2.ID)
	stats, _ := desk.QueueStatus(ctx, s1.ID)
	if stats.TotalWaiting != 2 || stats.Position != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestTypingRelayWithoutCache(t *testing.T) {
	// 缓存未初始化时输入状态只丢缓存不丢广播
	desk, _, n := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, sess.ID)

	if err := desk.SetTyping(ctx, customer, sess.ID, true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if !n.has("typing") {
		t.Error("expected typing notification")
	}

	ghost := Caller{ConnID: "ghost", UserID: customer.UserID, Role: model.RoleCustomer}
	if err := desk.SetTyping(ctx, ghost, sess.ID, true); errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("typing without join: got %v", err)
	}
}

func TestHistoryRequiresMembership(t *testing.T) {
	desk, _, _ := newTestDesk()
	ctx := context.Background()
	sess, _ := desk.StartSession(ctx, customer, "", "")
	desk.AcceptSession(ctx, agentA, sess.ID)
	desk.SendMessage(ctx, customer, sess.ID, "", "第一条")

	if _, err := desk.History(ctx, Caller{ConnID: "z", UserID: 555, Role: model.RoleCustomer}, sess.ID, 10, 0); errs.AsCode(err).Code != errs.CodeAuthorization {
		t.Fatalf("outsider history: got %v", err)
	}
	msgs, err := desk.History(ctx, agentA, sess.ID, 10, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("history: %v len=%d", err, len(msgs))
	}
}
