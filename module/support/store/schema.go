package store

// 建表语句。会话/消息主键用 identity 列保证持久且单调；
// 队列票据对会话一对一（WAITING 期间存在），排序键落在 (score DESC, entered_at ASC) 索引上。
const schemaDDL = `
CREATE TABLE IF NOT EXISTS support_session (
    id              BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    tenant_id       TEXT        NOT NULL DEFAULT '',
    requester_id    BIGINT      NOT NULL,
    requester_name  TEXT        NOT NULL DEFAULT '',
    agent_id        BIGINT,
    agent_name      TEXT        NOT NULL DEFAULT '',
    status          TEXT        NOT NULL DEFAULT 'WAITING',
    priority_tier   TEXT        NOT NULL DEFAULT 'default',
    priority_score  INT         NOT NULL DEFAULT 50,
    subject         TEXT        NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    accepted_at     TIMESTAMPTZ,
    closed_at       TIMESTAMPTZ,
    message_count   INT         NOT NULL DEFAULT 0,
    wait_seconds    INT         NOT NULL DEFAULT 0,
    first_response_seconds INT  NOT NULL DEFAULT 0,
    closed_by       BIGINT,
    close_reason    TEXT        NOT NULL DEFAULT '',
    rating          INT         NOT NULL DEFAULT 0,
    feedback        TEXT        NOT NULL DEFAULT '',
    CONSTRAINT chk_status CHECK (status IN ('WAITING','ACTIVE','CLOSED')),
    CONSTRAINT chk_assignment CHECK (
        (status = 'WAITING' AND agent_id IS NULL) OR
        (status = 'ACTIVE' AND agent_id IS NOT NULL) OR
        (status = 'CLOSED')
    )
);

CREATE INDEX IF NOT EXISTS idx_session_requester ON support_session (requester_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_session_agent     ON support_session (agent_id, started_at DESC);

CREATE TABLE IF NOT EXISTS support_queue (
    session_id  BIGINT      PRIMARY KEY REFERENCES support_session(id),
    score       INT         NOT NULL,
    entered_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_queue_order ON support_queue (score DESC, entered_at ASC);

CREATE TABLE IF NOT EXISTS support_message (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    session_id  BIGINT      NOT NULL REFERENCES support_session(id),
    sender_id   BIGINT      NOT NULL,
    sender_role TEXT        NOT NULL,
    kind        TEXT        NOT NULL DEFAULT 'text',
    content     TEXT        NOT NULL,
    read        BOOLEAN     NOT NULL DEFAULT FALSE,
    read_at     TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_message_session ON support_message (session_id, created_at ASC, id ASC);

CREATE TABLE IF NOT EXISTS support_agent (
    agent_id         BIGINT      PRIMARY KEY,
    tenant_id        TEXT        NOT NULL DEFAULT '',
    display_name     TEXT        NOT NULL DEFAULT '',
    presence         TEXT        NOT NULL DEFAULT 'OFFLINE',
    max_concurrent   INT         NOT NULL DEFAULT 5,
    current_count    INT         NOT NULL DEFAULT 0,
    lifetime_handled BIGINT      NOT NULL DEFAULT 0,
    rating_sum       BIGINT      NOT NULL DEFAULT 0,
    rating_count     BIGINT      NOT NULL DEFAULT 0,
    specialties      TEXT[]      NOT NULL DEFAULT '{}',
    languages        TEXT[]      NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS support_canned_response (
    id          TEXT        PRIMARY KEY,
    tenant_id   TEXT        NOT NULL DEFAULT '',
    agent_id    BIGINT,
    shortcut    TEXT        NOT NULL,
    content     TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
