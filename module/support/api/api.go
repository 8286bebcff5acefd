package api

import (
	"net/http"
	"strconv"
	"strings"

	"LiveDesk/module/support/model"
	"LiveDesk/module/support/store"
	"LiveDesk/tools/errs"
	"LiveDesk/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// REST 协作面：与网关共用同一持久层，只读 + 少量无新不变式的写。
// 统一响应 {code, msg, data}，code=0 表示成功。

type Api struct {
	store    store.Store
	jwtOpts  security.Options
	tenantID string
}

func New(st store.Store, jwtOpts security.Options, tenantID string) *Api {
	return &Api{store: st, jwtOpts: jwtOpts, tenantID: tenantID}
}

// Mount 挂载 /api/v1 路由组，全部走 Bearer 鉴权。
func (a *Api) Mount(r *gin.Engine) {
	g := r.Group("/api/v1", a.authMiddleware())
	g.GET("/sessions/:id/messages", a.listMessages)
	g.POST("/sessions/:id/rating", a.submitRating)
	g.GET("/agents/:id/sessions", a.listAgentSessions)
	g.GET("/agents/:id/settings", a.getAgentSettings)
	g.PUT("/agents/:id/settings", a.updateAgentSettings)
	g.GET("/requesters/:id/sessions", a.listRequesterSessions)
	g.GET("/queue", a.queueSnapshot)
	g.GET("/stats", a.stats)
	g.GET("/canned-responses", a.listCanned)
	g.POST("/canned-responses", a.createCanned)
	g.DELETE("/canned-responses/:id", a.deleteCanned)
}

// ===== 鉴权 =====

const identityKey = "identity"

func (a *Api) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			fail(c, errs.ErrAuthentication.WrapMsg("missing bearer token"))
			c.Abort()
			return
		}
		token := strings.TrimPrefix(raw, "Bearer ")
		id, err := security.Verify(a.jwtOpts, token)
		if err != nil {
			fail(c, errs.ErrAuthentication.WrapMsg("token verification failed"))
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityOf(c *gin.Context) *security.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(*security.Identity)
	return id
}

func isAgent(id *security.Identity) bool {
	return id != nil && (id.Role == model.RoleAgent || id.Role == model.RoleAdmin)
}

// ===== 响应封装 =====

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": data})
}

func fail(c *gin.Context, err error) {
	ce := errs.AsCode(err)
	status := http.StatusInternalServerError
	switch ce.Code {
	case errs.CodeAuthentication:
		status = http.StatusUnauthorized
	case errs.CodeAuthorization:
		status = http.StatusForbidden
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeStateConflict:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"code": ce.Code, "msg": ce.Msg, "detail": ce.Detail})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, errs.ErrNotFound.WrapMsg("bad id in path"))
		return 0, false
	}
	return id, true
}

func pageArgs(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// ===== 会话 =====

// GET /sessions/:id/messages — 会话成员或管理员可读转录。
func (a *Api) listMessages(c *gin.Context) {
	sid, okk := pathID(c)
	if !okk {
		return
	}
	id := identityOf(c)
	sess, err := a.store.GetSession(c.Request.Context(), sid)
	if err != nil {
		fail(c, err)
		return
	}
	if !sess.IsMember(id.UserID) && id.Role != model.RoleAdmin {
		fail(c, errs.ErrAuthorization.WrapMsg("not a session member"))
		return
	}
	limit, offset := pageArgs(c)
	msgs, err := a.store.ListMessages(c.Request.Context(), sid, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"session_id": sid, "messages": msgs})
}

type ratingReq struct {
	Rating   int    `json:"rating" binding:"required,min=1,max=5"`
	Feedback string `json:"feedback"`
}

// POST /sessions/:id/rating — 仅请求方本人、仅 CLOSED、仅一次。
func (a *Api) submitRating(c *gin.Context) {
	sid, okk := pathID(c)
	if !okk {
		return
	}
	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrStateConflict.WrapMsg("rating must be 1-5"))
		return
	}
	id := identityOf(c)
	if err := a.store.SubmitRating(c.Request.Context(), sid, id.UserID, req.Rating, req.Feedback); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"session_id": sid, "rating": req.Rating})
}

// ===== 坐席 =====

func (a *Api) listAgentSessions(c *gin.Context) {
	aid, okk := pathID(c)
	if !okk {
		return
	}
	id := identityOf(c)
	if id.UserID != aid && id.Role != model.RoleAdmin {
		fail(c, errs.ErrAuthorization.WrapMsg("not your session list"))
		return
	}
	limit, offset := pageArgs(c)
	status := c.Query("status") // 空 = 全部
	sessions, err := a.store.ListAgentSessions(c.Request.Context(), aid, status, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"sessions": sessions})
}

func (a *Api) getAgentSettings(c *gin.Context) {
	aid, okk := pathID(c)
	if !okk {
		return
	}
	agent, err := a.store.GetAgent(c.Request.Context(), aid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, agent)
}

type agentSettingsReq struct {
	MaxConcurrent int      `json:"max_concurrent" binding:"min=1,max=50"`
	Specialties   []string `json:"specialties"`
	Languages     []string `json:"languages"`
}

func (a *Api) updateAgentSettings(c *gin.Context) {
	aid, okk := pathID(c)
	if !okk {
		return
	}
	id := identityOf(c)
	if id.UserID != aid && id.Role != model.RoleAdmin {
		fail(c, errs.ErrAuthorization.WrapMsg("not your settings"))
		return
	}
	var req agentSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrStateConflict.WrapMsg("bad settings payload"))
		return
	}
	agent, err := a.store.UpdateAgentSettings(c.Request.Context(), aid, req.MaxConcurrent, req.Specialties, req.Languages)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, agent)
}

// ===== 请求方 =====

func (a *Api) listRequesterSessions(c *gin.Context) {
	rid, okk := pathID(c)
	if !okk {
		return
	}
	id := identityOf(c)
	if id.UserID != rid && id.Role != model.RoleAdmin {
		fail(c, errs.ErrAuthorization.WrapMsg("not your session history"))
		return
	}
	limit, offset := pageArgs(c)
	sessions, err := a.store.ListRequesterSessions(c.Request.Context(), rid, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"sessions": sessions})
}

// ===== 队列 / 报表 =====

// GET /queue — 坐席看板：按 score DESC, entered_at ASC 的待接快照。
func (a *Api) queueSnapshot(c *gin.Context) {
	id := identityOf(c)
	if !isAgent(id) {
		fail(c, errs.ErrAuthorization.WrapMsg("agent role required"))
		return
	}
	limit, _ := pageArgs(c)
	entries, err := a.store.QueueSnapshot(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"entries": entries})
}

func (a *Api) stats(c *gin.Context) {
	id := identityOf(c)
	if !isAgent(id) {
		fail(c, errs.ErrAuthorization.WrapMsg("agent role required"))
		return
	}
	ov, err := a.store.Overview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, ov)
}

// ===== 快捷回复 =====

func (a *Api) listCanned(c *gin.Context) {
	id := identityOf(c)
	if !isAgent(id) {
		fail(c, errs.ErrAuthorization.WrapMsg("agent role required"))
		return
	}
	items, err := a.store.ListCannedResponses(c.Request.Context(), a.tenantID, &id.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"items": items})
}

type cannedReq struct {
	Shortcut string `json:"shortcut" binding:"required"`
	Content  string `json:"content" binding:"required"`
	Shared   bool   `json:"shared"` // true = 全租户可见
}

func (a *Api) createCanned(c *gin.Context) {
	id := identityOf(c)
	if !isAgent(id) {
		fail(c, errs.ErrAuthorization.WrapMsg("agent role required"))
		return
	}
	var req cannedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrStateConflict.WrapMsg("shortcut and content required"))
		return
	}
	cr := &model.CannedResponse{
		ID:       uuid.NewString(),
		TenantID: a.tenantID,
		Shortcut: req.Shortcut,
		Content:  req.Content,
	}
	if !req.Shared {
		cr.AgentID = &id.UserID
	}
	if err := a.store.CreateCannedResponse(c.Request.Context(), cr); err != nil {
		fail(c, err)
		return
	}
	ok(c, cr)
}

func (a *Api) deleteCanned(c *gin.Context) {
	id := identityOf(c)
	if !isAgent(id) {
		fail(c, errs.ErrAuthorization.WrapMsg("agent role required"))
		return
	}
	if err := a.store.DeleteCannedResponse(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"deleted": c.Param("id")})
}
