package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"presencegate/pkg/db/pagination"
	"presencegate/pkg/errutil"
	"presencegate/pkg/health"
	"presencegate/pkg/middleware"
	"presencegate/services/audit"
	"presencegate/services/claim"
	"presencegate/services/presence"
	"presencegate/services/session"
)

type Handler struct {
	claims   *claim.Service
	sessions *session.Service
	trail    *audit.Service
	health   health.HealthService
}

type HandlerParams struct {
	fx.In
	Claims   *claim.Service
	Sessions *session.Service
	Audit    *audit.Service
	Health   health.HealthService
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		claims:   p.Claims,
		sessions: p.Sessions,
		trail:    p.Audit,
		health:   p.Health,
	}
}

// ProvideRouter builds the gin engine with all routes registered.
func ProvideRouter(h *Handler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error(), middleware.FlowTag())

	r.GET("/healthz", h.health.Liveness)
	r.GET("/readyz", h.health.Readiness)

	v1 := r.Group("/v1")
	{
		v1.POST("/challenges", h.issueChallenge)
		v1.POST("/claims", h.submitClaim)
		v1.POST("/sessions/validate", h.validateSession)
		v1.POST("/sessions/revoke", h.revokeSession)
		v1.GET("/users/:id/balance", h.getBalance)
		v1.GET("/users/:id/audit", h.listAuditRecords)
		v1.GET("/users/:id/audit/verify", h.verifyAuditChain)
	}

	return r
}

type issueChallengeRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type issueChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       string `json:"nonce"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

func (h *Handler) issueChallenge(c *gin.Context) {
	var req issueChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid challenge request", err))
		return
	}

	ch, err := h.claims.IssueChallenge(c.Request.Context(), req.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, issueChallengeResponse{
		ChallengeID: ch.ID,
		Nonce:       ch.Nonce,
		ExpiresAtMs: ch.ExpiresAt.UnixMilli(),
	})
}

func (h *Handler) submitClaim(c *gin.Context) {
	var req claim.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid claim payload", err))
		return
	}

	req.Flow = middleware.GetFlow(c)
	req.IP = c.ClientIP()
	req.SessionID = c.GetHeader("x-session-id")

	decision, err := h.claims.SubmitClaim(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

type validateSessionRequest struct {
	UserID           string              `json:"user_id" binding:"required"`
	SessionID        string              `json:"session_id" binding:"required"`
	IP               string              `json:"ip"`
	DeviceAttributes presence.Attributes `json:"device_attributes"`
}

func (h *Handler) validateSession(c *gin.Context) {
	var req validateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid session validate request", err))
		return
	}

	ip := req.IP
	if ip == "" {
		ip = c.ClientIP()
	}

	res, err := h.sessions.Validate(c.Request.Context(), req.UserID, req.SessionID, ip, req.DeviceAttributes)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type revokeSessionRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason"`
}

func (h *Handler) revokeSession(c *gin.Context) {
	var req revokeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid session revoke request", err))
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), req.UserID, req.SessionID, req.Reason); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (h *Handler) getBalance(c *gin.Context) {
	bal, err := h.claims.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": bal.UserID,
		"points":  bal.Points,
		"xp":      bal.XP,
	})
}

func (h *Handler) listAuditRecords(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	records, info, err := h.trail.List(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records":   records,
		"page_info": info,
	})
}

func (h *Handler) verifyAuditChain(c *gin.Context) {
	ok, err := h.trail.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, ProvideRouter),
)
