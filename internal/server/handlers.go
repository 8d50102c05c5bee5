package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/loomwell/handover-backend/internal/auth"
	"github.com/loomwell/handover-backend/internal/gap"
	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/orchestrator"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/repos"
	"github.com/loomwell/handover-backend/internal/types"
	"github.com/loomwell/handover-backend/internal/vector"
)

// Handlers is the thin HTTP surface over the pipeline; every method decodes,
// delegates, and responds.
type Handlers struct {
	log     *logger.Logger
	auth    auth.Service
	orch    orchestrator.Service
	vec     vector.Service
	gaps    repos.KnowledgeGapRepo
	answers repos.GapAnswerRepo
	conns   repos.ConnectorRepo
	users   repos.UserRepo
	factory orchestrator.ConnectorFactory
	hub     *ProgressHub
}

func NewHandlers(
	log *logger.Logger,
	authService auth.Service,
	orch orchestrator.Service,
	vec vector.Service,
	gaps repos.KnowledgeGapRepo,
	answers repos.GapAnswerRepo,
	conns repos.ConnectorRepo,
	users repos.UserRepo,
	factory orchestrator.ConnectorFactory,
	hub *ProgressHub,
) (*Handlers, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handlers{
		log:     log.With("service", "Handlers"),
		auth:    authService,
		orch:    orch,
		vec:     vec,
		gaps:    gaps,
		answers: answers,
		conns:   conns,
		users:   users,
		factory: factory,
		hub:     hub,
	}, nil
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	RespondOK(c, gin.H{"status": "ok"})
}

// -------------------- auth --------------------

func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Tenant   string `json:"tenant" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	token, user, err := h.auth.Login(c.Request.Context(), req.Tenant, req.Email, req.Password)
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"token": token, "user": user})
}

func (h *Handlers) GetMe(c *gin.Context) {
	claims := claimsFrom(c)
	user, err := h.users.GetByID(c.Request.Context(), nil, claims.UserID)
	if err != nil {
		respondAppError(c, err)
		return
	}
	if user.TenantID != claims.TenantID {
		respondAppError(c, apperr.ErrNotFound)
		return
	}
	RespondOK(c, user)
}

// -------------------- connectors --------------------

func (h *Handlers) ListConnectors(c *gin.Context) {
	claims := claimsFrom(c)
	rows, err := h.conns.ListByTenant(c.Request.Context(), nil, claims.TenantID)
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"connectors": rows})
}

// ConnectConnector upserts the (tenant, type) row and validates it end to
// end before marking it CONNECTED.
func (h *Handlers) ConnectConnector(c *gin.Context) {
	claims := claimsFrom(c)
	connectorType := c.Param("type")

	var req struct {
		Settings    datatypes.JSON `json:"settings"`
		Credentials []byte         `json:"credentials,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	row, err := h.conns.Upsert(c.Request.Context(), nil, &types.Connector{
		TenantID:    claims.TenantID,
		Type:        connectorType,
		Settings:    req.Settings,
		Credentials: req.Credentials,
		Status:      types.ConnectorConnecting,
	})
	if err != nil {
		respondAppError(c, err)
		return
	}

	conn, err := h.factory.Build(row)
	if err != nil {
		_ = h.conns.UpdateStatus(c.Request.Context(), nil, row.ID, types.ConnectorError, err.Error())
		respondAppError(c, err)
		return
	}
	if err := conn.Connect(c.Request.Context()); err != nil {
		_ = h.conns.UpdateStatus(c.Request.Context(), nil, row.ID, types.ConnectorError, err.Error())
		respondAppError(c, err)
		return
	}

	if err := h.conns.UpdateStatus(c.Request.Context(), nil, row.ID, types.ConnectorConnected, ""); err != nil {
		respondAppError(c, err)
		return
	}
	row.Status = types.ConnectorConnected
	RespondOK(c, row)
}

func (h *Handlers) ConnectorAuthURL(c *gin.Context) {
	claims := claimsFrom(c)
	row, err := h.conns.GetByTenantAndType(c.Request.Context(), nil, claims.TenantID, c.Param("type"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	conn, err := h.factory.Build(row)
	if err != nil {
		respondAppError(c, err)
		return
	}
	url := conn.AuthURL(c.Query("redirect"), c.Query("state"))
	if url == "" {
		RespondError(c, http.StatusBadRequest, "invalid_argument",
			fmt.Errorf("connector %s does not use oauth", row.Type))
		return
	}
	RespondOK(c, gin.H{"auth_url": url})
}

func (h *Handlers) ConnectorExchange(c *gin.Context) {
	claims := claimsFrom(c)
	var req struct {
		Code     string `json:"code" binding:"required"`
		Redirect string `json:"redirect" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	row, err := h.conns.GetByTenantAndType(c.Request.Context(), nil, claims.TenantID, c.Param("type"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	conn, err := h.factory.Build(row)
	if err != nil {
		respondAppError(c, err)
		return
	}
	creds, err := conn.ExchangeCode(c.Request.Context(), req.Code, req.Redirect)
	if err != nil {
		respondAppError(c, err)
		return
	}
	if err := h.conns.UpdateCredentials(c.Request.Context(), nil, row.ID, creds); err != nil {
		respondAppError(c, err)
		return
	}
	if err := h.conns.UpdateStatus(c.Request.Context(), nil, row.ID, types.ConnectorConnected, ""); err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": types.ConnectorConnected})
}

func (h *Handlers) SyncConnector(c *gin.Context) {
	claims := claimsFrom(c)
	summary, err := h.orch.SyncConnector(c.Request.Context(), claims.TenantID, c.Param("type"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, summary)
}

func (h *Handlers) DisconnectConnector(c *gin.Context) {
	claims := claimsFrom(c)
	row, err := h.conns.GetByTenantAndType(c.Request.Context(), nil, claims.TenantID, c.Param("type"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	if conn, buildErr := h.factory.Build(row); buildErr == nil {
		if err := conn.Disconnect(c.Request.Context()); err != nil {
			h.log.Warn("Disconnect revoke failed", "type", row.Type, "error", err.Error())
		}
	}
	if err := h.conns.UpdateStatus(c.Request.Context(), nil, row.ID, types.ConnectorDisconnected, ""); err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": types.ConnectorDisconnected})
}

// -------------------- search --------------------

func (h *Handlers) Search(c *gin.Context) {
	claims := claimsFrom(c)
	var req struct {
		Query        string         `json:"query" binding:"required"`
		TopK         int            `json:"top_k"`
		Hybrid       bool           `json:"hybrid"`
		DenseWeight  float64        `json:"dense_weight"`
		SparseWeight float64        `json:"sparse_weight"`
		Filter       map[string]any `json:"filter"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	tenantID := claims.TenantID.String()
	var (
		results []vector.SearchResult
		err     error
	)
	if req.Hybrid {
		results, err = h.vec.HybridSearch(c.Request.Context(), tenantID, req.Query, req.TopK, req.DenseWeight, req.SparseWeight)
	} else {
		results, err = h.vec.Search(c.Request.Context(), tenantID, req.Query, req.TopK, req.Filter)
	}
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}

// -------------------- gap analysis --------------------

func (h *Handlers) Analyze(c *gin.Context) {
	claims := claimsFrom(c)
	var req struct {
		Strategy       string     `json:"strategy"`
		ProjectID      *uuid.UUID `json:"project_id"`
		IncludePending bool       `json:"include_pending"`
		MaxDocuments   int        `json:"max_documents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	result, err := h.orch.Analyze(c.Request.Context(), gap.Request{
		TenantID:       claims.TenantID,
		ProjectID:      req.ProjectID,
		Strategy:       req.Strategy,
		IncludePending: req.IncludePending,
		MaxDocuments:   req.MaxDocuments,
	})
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *Handlers) ListGaps(c *gin.Context) {
	claims := claimsFrom(c)
	rows, err := h.gaps.ListByTenant(c.Request.Context(), nil, claims.TenantID, c.Query("status"))
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"gaps": rows})
}

func (h *Handlers) GetGap(c *gin.Context) {
	claims := claimsFrom(c)
	gapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	row, err := h.gaps.GetByID(c.Request.Context(), nil, claims.TenantID, gapID)
	if err != nil {
		respondAppError(c, err)
		return
	}
	answers, err := h.answers.ListByGap(c.Request.Context(), nil, claims.TenantID, gapID)
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"gap": row, "answers": answers})
}

func (h *Handlers) SubmitAnswer(c *gin.Context) {
	claims := claimsFrom(c)
	gapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	var req struct {
		QuestionIndex int    `json:"question_index"`
		AnswerText    string `json:"answer_text"`
		AudioBase64   string `json:"audio_base64,omitempty"`
		AudioMime     string `json:"audio_mime,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	var audio []byte
	if req.AudioBase64 != "" {
		audio, err = base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("bad audio encoding: %w", err))
			return
		}
	}

	result, err := h.orch.SubmitAnswer(c.Request.Context(), orchestrator.AnswerRequest{
		TenantID:      claims.TenantID,
		UserID:        claims.UserID,
		GapID:         gapID,
		QuestionIndex: req.QuestionIndex,
		AnswerText:    req.AnswerText,
		Audio:         audio,
		AudioMime:     req.AudioMime,
	})
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *Handlers) CompleteProcess(c *gin.Context) {
	claims := claimsFrom(c)
	summary, err := h.orch.CompleteProcess(c.Request.Context(), claims.TenantID)
	if err != nil {
		respondAppError(c, err)
		return
	}
	RespondOK(c, summary)
}

// -------------------- progress (SSE) --------------------

func (h *Handlers) ProgressStream(c *gin.Context) {
	if h.hub == nil {
		RespondError(c, http.StatusServiceUnavailable, "unavailable", fmt.Errorf("progress streaming not configured"))
		return
	}
	claims := claimsFrom(c)
	events, cancel := h.hub.Subscribe(claims.TenantID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", ev)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
