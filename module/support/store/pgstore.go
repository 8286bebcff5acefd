package store

import (
	"context"
	"strconv"

	"LiveDesk/module/support/model"
	"LiveDesk/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgStore 基于 pgx 连接池的持久层实现。
// 所有多步写都包在单个事务里；接单走条件更新，不加显式行锁。
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema 启动时建表（幂等）。
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return errors.Wrap(err, "ensure schema")
}

const sessionCols = `id, tenant_id, requester_id, requester_name, agent_id, agent_name,
    status, priority_tier, priority_score, subject,
    started_at, accepted_at, closed_at,
    message_count, wait_seconds, first_response_seconds,
    closed_by, close_reason, rating, feedback`

func scanSession(row pgx.Row) (*model.ChatSession, error) {
	var m model.ChatSession
	err := row.Scan(
		&m.ID, &m.TenantID, &m.RequesterID, &m.RequesterName, &m.AgentID, &m.AgentName,
		&m.Status, &m.PriorityTier, &m.PriorityScore, &m.Subject,
		&m.StartedAt, &m.AcceptedAt, &m.ClosedAt,
		&m.MessageCount, &m.WaitSeconds, &m.FirstResponseSeconds,
		&m.ClosedBy, &m.CloseReason, &m.Rating, &m.Feedback,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// 事务模板：begin → fn → commit / rollback。
func (s *PgStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.ErrStorage.WrapMsg("begin tx", "err", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.ErrStorage.WrapMsg("commit tx", "err", err)
	}
	return nil
}

// ===== 调度器 =====

// StartSession 创建 WAITING 会话并插入排队票据，同一事务。
func (s *PgStore) StartSession(ctx context.Context, in *model.ChatSession) (*model.ChatSession, error) {
	var out *model.ChatSession
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            INSERT INTO support_session (tenant_id, requester_id, requester_name, priority_tier, priority_score, subject)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING `+sessionCols,
			in.TenantID, in.RequesterID, in.RequesterName, in.PriorityTier, in.PriorityScore, in.Subject)
		sess, err := scanSession(row)
		if err != nil {
			return errs.ErrStorage.WrapMsg("insert session", "err", err)
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO support_queue (session_id, score, entered_at)
            VALUES ($1, $2, $3)`, sess.ID, sess.PriorityScore, sess.StartedAt); err != nil {
			return errs.ErrStorage.WrapMsg("insert queue entry", "err", err)
		}
		out = sess
		return nil
	})
	return out, err
}

func (s *PgStore) GetSession(ctx context.Context, id int64) (*model.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM support_session WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("session", "id", id)
	}
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("get session", "err", err)
	}
	return sess, nil
}

// AcceptSession 原子接单。
// 条件更新返回零行 = 会话已被别人接走或已关闭，报状态冲突；
// 竞态下只有一个坐席的 UPDATE 能命中 WAITING 行。
func (s *PgStore) AcceptSession(ctx context.Context, sessionID, agentID int64, agentName string) (*model.ChatSession, error) {
	var out *model.ChatSession
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE support_session
            SET status = 'ACTIVE',
                agent_id = $2,
                agent_name = $3,
                accepted_at = now(),
                wait_seconds = GREATEST(0, EXTRACT(EPOCH FROM (now() - started_at)))::int
            WHERE id = $1 AND status = 'WAITING'
            RETURNING `+sessionCols, sessionID, agentID, agentName)
		sess, err := scanSession(row)
		if errors.Is(err, pgx.ErrNoRows) {
			// 区分不存在与状态冲突
			var status string
			qerr := tx.QueryRow(ctx, `SELECT status FROM support_session WHERE id = $1`, sessionID).Scan(&status)
			if errors.Is(qerr, pgx.ErrNoRows) {
				return errs.ErrNotFound.WrapMsg("session", "id", sessionID)
			}
			if qerr != nil {
				return errs.ErrStorage.WrapMsg("check session status", "err", qerr)
			}
			return errs.ErrStateConflict.WrapMsg("already accepted or closed", "session", sessionID, "status", status)
		}
		if err != nil {
			return errs.ErrStorage.WrapMsg("accept session", "err", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM support_queue WHERE session_id = $1`, sessionID); err != nil {
			return errs.ErrStorage.WrapMsg("dequeue", "err", err)
		}

		// 坐席容量计数：惰性建行 + 并发计数 +1
		if _, err := tx.Exec(ctx, `
            INSERT INTO support_agent (agent_id, tenant_id, display_name, presence, current_count, updated_at)
            VALUES ($1, $2, $3, 'ONLINE', 1, now())
            ON CONFLICT (agent_id) DO UPDATE
            SET current_count = support_agent.current_count + 1,
                display_name  = EXCLUDED.display_name,
                updated_at    = now()`, agentID, sess.TenantID, agentName); err != nil {
			return errs.ErrStorage.WrapMsg("bump agent count", "err", err)
		}

		out = sess
		return nil
	})
	return out, err
}

// CloseSession 关闭会话。重复关闭返回状态冲突而不是静默成功；
// 若关闭者是被指派坐席，同事务内回收其并发名额并累计处理量。
func (s *PgStore) CloseSession(ctx context.Context, sessionID, closerID int64, reason string) (*model.ChatSession, error) {
	var out *model.ChatSession
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE support_session
            SET status = 'CLOSED',
                closed_at = now(),
                closed_by = $2,
                close_reason = $3
            WHERE id = $1 AND status <> 'CLOSED'
            RETURNING `+sessionCols, sessionID, closerID, reason)
		sess, err := scanSession(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var status string
			qerr := tx.QueryRow(ctx, `SELECT status FROM support_session WHERE id = $1`, sessionID).Scan(&status)
			if errors.Is(qerr, pgx.ErrNoRows) {
				return errs.ErrNotFound.WrapMsg("session", "id", sessionID)
			}
			if qerr != nil {
				return errs.ErrStorage.WrapMsg("check session status", "err", qerr)
			}
			return errs.ErrStateConflict.WrapMsg("already closed", "session", sessionID)
		}
		if err != nil {
			return errs.ErrStorage.WrapMsg("close session", "err", err)
		}

		// WAITING 关闭时票据还在队列里
		if _, err := tx.Exec(ctx, `DELETE FROM support_queue WHERE session_id = $1`, sessionID); err != nil {
			return errs.ErrStorage.WrapMsg("dequeue on close", "err", err)
		}

		if sess.AgentID != nil && *sess.AgentID == closerID {
			if _, err := tx.Exec(ctx, `
                UPDATE support_agent
                SET current_count = GREATEST(0, current_count - 1),
                    lifetime_handled = lifetime_handled + 1,
                    updated_at = now()
                WHERE agent_id = $1`, closerID); err != nil {
				return errs.ErrStorage.WrapMsg("release agent count", "err", err)
			}
		}

		out = sess
		return nil
	})
	return out, err
}

// ===== 消息通道 =====

// AppendMessage 行锁校验会话 ACTIVE + 成员资格后落库。
// 消息计数、首响时长与消息插入同事务。
func (s *PgStore) AppendMessage(ctx context.Context, m *model.ChatMessage) (*model.ChatMessage, error) {
	var out *model.ChatMessage
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status      string
			requesterID int64
			agentID     *int64
			firstResp   int
		)
		err := tx.QueryRow(ctx, `
            SELECT status, requester_id, agent_id, first_response_seconds
            FROM support_session WHERE id = $1 FOR UPDATE`, m.SessionID).
			Scan(&status, &requesterID, &agentID, &firstResp)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound.WrapMsg("session", "id", m.SessionID)
		}
		if err != nil {
			return errs.ErrStorage.WrapMsg("lock session", "err", err)
		}
		if status != model.StatusActive {
			return errs.ErrStateConflict.WrapMsg("session not active", "session", m.SessionID, "status", status)
		}
		member := requesterID == m.SenderID || (agentID != nil && *agentID == m.SenderID)
		if !member {
			return errs.ErrAuthorization.WrapMsg("sender not a session member", "session", m.SessionID, "sender", m.SenderID)
		}

		row := tx.QueryRow(ctx, `
            INSERT INTO support_message (session_id, sender_id, sender_role, kind, content)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id, created_at`, m.SessionID, m.SenderID, m.SenderRole, m.Kind, m.Content)
		if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
			return errs.ErrStorage.WrapMsg("insert message", "err", err)
		}

		// 首条坐席消息记录首响时长
		if m.SenderRole == model.RoleAgent && firstResp == 0 {
			if _, err := tx.Exec(ctx, `
                UPDATE support_session
                SET message_count = message_count + 1,
                    first_response_seconds = GREATEST(1, EXTRACT(EPOCH FROM (now() - accepted_at)))::int
                WHERE id = $1`, m.SessionID); err != nil {
				return errs.ErrStorage.WrapMsg("bump counters", "err", err)
			}
		} else {
			if _, err := tx.Exec(ctx, `
                UPDATE support_session SET message_count = message_count + 1 WHERE id = $1`, m.SessionID); err != nil {
				return errs.ErrStorage.WrapMsg("bump counters", "err", err)
			}
		}

		out = m
		return nil
	})
	return out, err
}

// MarkRead 只翻已读标记，返回实际翻转的消息ID（跳过自己发的与已读的）。
func (s *PgStore) MarkRead(ctx context.Context, sessionID int64, messageIDs []int64, readerID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
        UPDATE support_message
        SET read = TRUE, read_at = now()
        WHERE session_id = $1 AND id = ANY($2) AND sender_id <> $3 AND read = FALSE
        RETURNING id`, sessionID, messageIDs, readerID)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("mark read", "err", err)
	}
	defer rows.Close()
	var flipped []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan read id", "err", err)
		}
		flipped = append(flipped, id)
	}
	return flipped, rows.Err()
}

func (s *PgStore) ListMessages(ctx context.Context, sessionID int64, limit, offset int) ([]*model.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, session_id, sender_id, sender_role, kind, content, read, read_at, created_at
        FROM support_message
        WHERE session_id = $1
        ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("list messages", "err", err)
	}
	defer rows.Close()
	var out []*model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderRole, &m.Kind, &m.Content, &m.Read, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan message", "err", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ===== 队列 =====

func (s *PgStore) QueueSnapshot(ctx context.Context, limit int) ([]*model.QueueEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
        SELECT session_id, score, entered_at
        FROM support_queue
        ORDER BY score DESC, entered_at ASC
        LIMIT $1`, limit)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("queue snapshot", "err", err)
	}
	defer rows.Close()
	var out []*model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		if err := rows.Scan(&e.SessionID, &e.Score, &e.EnteredAt); err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan queue entry", "err", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// QueueStats 总排队数、平均等待时长，以及指定会话的队列位置（1-based）。
func (s *PgStore) QueueStats(ctx context.Context, sessionID int64) (*QueueStats, error) {
	st := &QueueStats{}
	err := s.pool.QueryRow(ctx, `
        SELECT count(*),
               COALESCE(avg(EXTRACT(EPOCH FROM (now() - entered_at))), 0)::int
        FROM support_queue`).Scan(&st.TotalWaiting, &st.AvgWaitSeconds)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("queue stats", "err", err)
	}
	if sessionID > 0 {
		var mine *model.QueueEntry
		row := s.pool.QueryRow(ctx, `SELECT session_id, score, entered_at FROM support_queue WHERE session_id = $1`, sessionID)
		var e model.QueueEntry
		if err := row.Scan(&e.SessionID, &e.Score, &e.EnteredAt); err == nil {
			mine = &e
		}
		if mine != nil {
			err = s.pool.QueryRow(ctx, `
                SELECT count(*) + 1 FROM support_queue
                WHERE score > $1 OR (score = $1 AND entered_at < $2)`,
				mine.Score, mine.EnteredAt).Scan(&st.Position)
			if err != nil {
				return nil, errs.ErrStorage.WrapMsg("queue position", "err", err)
			}
		}
	}
	return st, nil
}

// ===== 坐席 =====

const agentCols = `agent_id, tenant_id, display_name, presence, max_concurrent, current_count,
    lifetime_handled, rating_sum, rating_count, specialties, languages, created_at, updated_at`

func scanAgent(row pgx.Row) (*model.AgentState, error) {
	var a model.AgentState
	err := row.Scan(&a.AgentID, &a.TenantID, &a.DisplayName, &a.Presence, &a.MaxConcurrent, &a.CurrentCount,
		&a.LifetimeHandled, &a.RatingSum, &a.RatingCount, &a.Specialties, &a.Languages, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.RatingCount > 0 {
		a.AvgRating = float64(a.RatingSum) / float64(a.RatingCount)
	}
	return &a, nil
}

func (s *PgStore) UpsertAgentPresence(ctx context.Context, agentID int64, tenantID, name, presence string) (*model.AgentState, error) {
	row := s.pool.QueryRow(ctx, `
        INSERT INTO support_agent (agent_id, tenant_id, display_name, presence, updated_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (agent_id) DO UPDATE
        SET presence = EXCLUDED.presence,
            display_name = EXCLUDED.display_name,
            updated_at = now()
        RETURNING `+agentCols, agentID, tenantID, name, presence)
	a, err := scanAgent(row)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("upsert presence", "err", err)
	}
	return a, nil
}

func (s *PgStore) GetAgent(ctx context.Context, agentID int64) (*model.AgentState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentCols+` FROM support_agent WHERE agent_id = $1`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("agent", "id", agentID)
	}
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("get agent", "err", err)
	}
	return a, nil
}

func (s *PgStore) UpdateAgentSettings(ctx context.Context, agentID int64, maxConcurrent int, specialties, languages []string) (*model.AgentState, error) {
	if specialties == nil {
		specialties = []string{}
	}
	if languages == nil {
		languages = []string{}
	}
	row := s.pool.QueryRow(ctx, `
        UPDATE support_agent
        SET max_concurrent = $2, specialties = $3, languages = $4, updated_at = now()
        WHERE agent_id = $1
        RETURNING `+agentCols, agentID, maxConcurrent, specialties, languages)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("agent", "id", agentID)
	}
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("update agent settings", "err", err)
	}
	return a, nil
}

// ===== REST 协作面 =====

func (s *PgStore) ListAgentSessions(ctx context.Context, agentID int64, status string, limit, offset int) ([]*model.ChatSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + sessionCols + ` FROM support_session WHERE agent_id = $1`
	args := []any{agentID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY started_at DESC LIMIT ` + itoa(limit) + ` OFFSET ` + itoa(offset)
	return s.querySessions(ctx, q, args...)
}

func (s *PgStore) ListRequesterSessions(ctx context.Context, requesterID int64, limit, offset int) ([]*model.ChatSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + sessionCols + ` FROM support_session WHERE requester_id = $1
          ORDER BY started_at DESC LIMIT ` + itoa(limit) + ` OFFSET ` + itoa(offset)
	return s.querySessions(ctx, q, requesterID)
}

func (s *PgStore) querySessions(ctx context.Context, q string, args ...any) ([]*model.ChatSession, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("query sessions", "err", err)
	}
	defer rows.Close()
	var out []*model.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan session", "err", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SubmitRating 仅请求方对 CLOSED 会话评分一次；坐席滚动均分同事务累计。
func (s *PgStore) SubmitRating(ctx context.Context, sessionID, requesterID int64, rating int, feedback string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE support_session
            SET rating = $3, feedback = $4
            WHERE id = $1 AND requester_id = $2 AND status = 'CLOSED' AND rating = 0
            RETURNING agent_id`, sessionID, requesterID, rating, feedback)
		var agentID *int64
		err := row.Scan(&agentID)
		if errors.Is(err, pgx.ErrNoRows) {
			sess, gerr := s.GetSession(ctx, sessionID)
			if gerr != nil {
				return gerr
			}
			if sess.RequesterID != requesterID {
				return errs.ErrAuthorization.WrapMsg("not the requester", "session", sessionID)
			}
			if sess.Status != model.StatusClosed {
				return errs.ErrStateConflict.WrapMsg("session not closed", "session", sessionID)
			}
			return errs.ErrStateConflict.WrapMsg("already rated", "session", sessionID)
		}
		if err != nil {
			return errs.ErrStorage.WrapMsg("submit rating", "err", err)
		}
		if agentID != nil {
			if _, err := tx.Exec(ctx, `
                UPDATE support_agent
                SET rating_sum = rating_sum + $2, rating_count = rating_count + 1, updated_at = now()
                WHERE agent_id = $1`, *agentID, rating); err != nil {
				return errs.ErrStorage.WrapMsg("bump agent rating", "err", err)
			}
		}
		return nil
	})
}

func (s *PgStore) Overview(ctx context.Context) (*Overview, error) {
	ov := &Overview{}
	err := s.pool.QueryRow(ctx, `
        SELECT
            count(*) FILTER (WHERE status = 'WAITING'),
            count(*) FILTER (WHERE status = 'ACTIVE'),
            count(*) FILTER (WHERE status = 'CLOSED'),
            COALESCE(avg(wait_seconds) FILTER (WHERE status <> 'WAITING'), 0),
            COALESCE(avg(first_response_seconds) FILTER (WHERE first_response_seconds > 0), 0),
            COALESCE(sum(message_count), 0)
        FROM support_session`).
		Scan(&ov.Waiting, &ov.Active, &ov.Closed, &ov.AvgWaitSeconds, &ov.AvgFirstRespSeconds, &ov.MessagesTotal)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("overview", "err", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM support_agent WHERE presence = 'ONLINE'`).Scan(&ov.AgentsOnline)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("overview agents", "err", err)
	}
	return ov, nil
}

// ===== 快捷回复 =====

func (s *PgStore) ListCannedResponses(ctx context.Context, tenantID string, agentID *int64) ([]*model.CannedResponse, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, tenant_id, agent_id, shortcut, content, created_at
        FROM support_canned_response
        WHERE tenant_id = $1 AND (agent_id IS NULL OR agent_id = $2)
        ORDER BY shortcut ASC`, tenantID, agentID)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("list canned", "err", err)
	}
	defer rows.Close()
	var out []*model.CannedResponse
	for rows.Next() {
		var cr model.CannedResponse
		if err := rows.Scan(&cr.ID, &cr.TenantID, &cr.AgentID, &cr.Shortcut, &cr.Content, &cr.CreatedAt); err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan canned", "err", err)
		}
		out = append(out, &cr)
	}
	return out, rows.Err()
}

func (s *PgStore) CreateCannedResponse(ctx context.Context, cr *model.CannedResponse) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO support_canned_response (id, tenant_id, agent_id, shortcut, content)
        VALUES ($1, $2, $3, $4, $5)`, cr.ID, cr.TenantID, cr.AgentID, cr.Shortcut, cr.Content)
	if err != nil {
		return errs.ErrStorage.WrapMsg("create canned", "err", err)
	}
	return nil
}

func (s *PgStore) DeleteCannedResponse(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM support_canned_response WHERE id = $1`, id)
	if err != nil {
		return errs.ErrStorage.WrapMsg("delete canned", "err", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound.WrapMsg("canned response", "id", id)
	}
	return nil
}

func itoa(n int) string {
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}
