package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sentinel-service/internal/catalog"
	"sentinel-service/internal/config"
	"sentinel-service/internal/service"
)

type Handler struct {
	incidents *service.IncidentService
	videos    *catalog.Catalog
	config    *config.Config
	log       zerolog.Logger
}

// NewHandler builds the REST handler. incidents may be nil when the archive
// database is disabled; the incident endpoints then answer 503.
func NewHandler(
	incidents *service.IncidentService,
	videos *catalog.Catalog,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		incidents: incidents,
		videos:    videos,
		config:    cfg,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/videos", h.listVideos)
		public.GET("/incidents", h.listIncidents)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/incidents/cleanup", h.cleanupIncidents)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "sentinel-service",
	})
}

func (h *Handler) listVideos(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.videos.List()))
}

func (h *Handler) listIncidents(c *gin.Context) {
	if h.incidents == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("incident archive is disabled"))
		return
	}

	var typeQuery, videoName *string
	if v := strings.TrimSpace(c.Query("type")); v != "" {
		typeQuery = &v
	}
	if v := strings.TrimSpace(c.Query("video")); v != "" {
		videoName = &v
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	incidents, err := h.incidents.FindIncidents(c.Request.Context(), typeQuery, videoName, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(incidents))
}

func (h *Handler) cleanupIncidents(c *gin.Context) {
	if h.incidents == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("incident archive is disabled"))
		return
	}

	var body struct {
		Days int `json:"days"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if body.Days == 0 {
		body.Days = 30
	}

	deleted, err := h.incidents.CleanupOldIncidents(c.Request.Context(), body.Days)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"deleted": deleted,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
