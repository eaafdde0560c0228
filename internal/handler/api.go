// Package handler exposes the annotation store over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/models"
	"textmark/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(requestID())

	api := r.Group("/api/v1")
	api.Use(h.identity())
	{
		api.POST("/texts", h.ImportText)
		api.GET("/texts/:id", h.GetText)

		api.POST("/annotations", h.CreateAnnotation)
		api.PUT("/annotations/:id", h.UpdateAnnotation)
		api.DELETE("/annotations/:id", h.DeleteAnnotation)

		api.POST("/annotations/:id/review", h.ReviewAnnotation)
		api.POST("/texts/:id/review", h.SubmitReview)

		api.POST("/tasks/start", h.StartWork)
		api.POST("/texts/:id/submit", h.SubmitTask)
		api.POST("/texts/:id/skip", h.SkipText)
		api.POST("/texts/:id/revert", h.RevertWork)
		api.POST("/texts/:id/update-task", h.UpdateTask)

		api.GET("/activity", h.RecentActivity)
		api.GET("/revisions", h.Revisions)
		api.GET("/taxonomy/:listType", h.Taxonomy)
	}

	r.GET("/health", h.HealthCheck)
}

// requestID tags every request for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// identity reads the already-resolved user from headers. Authentication
// happens upstream; an unparseable id is rejected.
func (h *Handler) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "missing or invalid X-User-ID header",
				"code":  apperr.CodeInvalidID,
			})
			return
		}
		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = models.RoleAnnotator
		}
		c.Set("identity", models.Identity{UserID: userID, Role: role})
		c.Next()
	}
}

func who(c *gin.Context) models.Identity {
	v, _ := c.Get("identity")
	id, _ := v.(models.Identity)
	return id
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": apperr.CodeInvalidID})
		return 0, false
	}
	return id, true
}

// fail maps the error taxonomy onto HTTP statuses, preserving the
// machine code so clients can branch on it.
func (h *Handler) fail(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
		if ae.Code == apperr.CodeNotFound {
			status = http.StatusNotFound
		}
	case apperr.KindOwnership:
		status = http.StatusForbidden
		if ae.Code == apperr.CodeAnnotationAgreed {
			status = http.StatusConflict
		}
	case apperr.KindState:
		status = http.StatusUnprocessableEntity
	case apperr.KindRemote:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": ae.Message, "code": ae.Code})
}

type importTextRequest struct {
	Content     string `json:"content" binding:"required"`
	Translation string `json:"translation,omitempty"`
}

// ImportText stores an uploaded text.
func (h *Handler) ImportText(c *gin.Context) {
	var req importTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text, err := h.svc.ImportText(req.Content, req.Translation)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, text)
}

// GetText returns a text with its annotations and reviews.
func (h *Handler) GetText(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	data, err := h.svc.GetTextWithAnnotations(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// CreateAnnotation stores a new annotation.
func (h *Handler) CreateAnnotation(c *gin.Context) {
	var req models.CreateAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.svc.CreateAnnotation(who(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// UpdateAnnotation applies a partial patch.
func (h *Handler) UpdateAnnotation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var patch models.UpdateAnnotationRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.svc.UpdateAnnotation(who(c), id, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeleteAnnotation removes an annotation unless it is agreed upon.
func (h *Handler) DeleteAnnotation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteAnnotation(who(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReviewAnnotation upserts one reviewer decision.
func (h *Handler) ReviewAnnotation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var decision models.ReviewDecision
	if err := c.ShouldBindJSON(&decision); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rev, err := h.svc.ReviewAnnotation(who(c), id, decision)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rev)
}

// SubmitReview records all decisions for a text.
func (h *Handler) SubmitReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req models.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.svc.SubmitReview(c.Request.Context(), who(c), id, req.Decisions)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StartWork assigns the next text.
func (h *Handler) StartWork(c *gin.Context) {
	result, err := h.svc.StartWork(c.Request.Context(), who(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitTask marks the text annotated.
func (h *Handler) SubmitTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.SubmitTask(c.Request.Context(), who(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SkipText rejects the text for this user.
func (h *Handler) SkipText(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.SkipText(c.Request.Context(), who(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RevertWork deletes the caller's annotations and releases the text.
func (h *Handler) RevertWork(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.RevertWork(who(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UpdateTask acknowledges post-submission edits.
func (h *Handler) UpdateTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.UpdateTask(who(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecentActivity returns per-text acceptance summaries.
func (h *Handler) RecentActivity(c *gin.Context) {
	activity, err := h.svc.RecentActivity()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": activity, "total": len(activity)})
}

// Revisions returns the caller's texts needing revision.
func (h *Handler) Revisions(c *gin.Context) {
	revisions, err := h.svc.Revisions(who(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revisions": revisions, "total": len(revisions)})
}

// Taxonomy serves the category tree for a list type.
func (h *Handler) Taxonomy(c *gin.Context) {
	tree, err := h.svc.Taxonomy(c.Param("listType"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tree.Categories)
}

// HealthCheck returns service health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "textmark",
		"version": "1.0.0",
	})
}
