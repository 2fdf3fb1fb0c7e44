package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pagelens/api/attribution"
	"pagelens/api/export"
	"pagelens/api/membership"
	"pagelens/api/middleware"
	"pagelens/api/models"
	"pagelens/api/reports"
	"pagelens/api/utils"
)

type ConversionLister interface {
	ListConversions(ctx context.Context, analysisID int64) ([]models.Conversion, error)
}

type TrafficSource interface {
	GetEventCountsOverTime(ctx context.Context, analysisID int64, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventCountByTime, error)
	GetTopPages(ctx context.Context, analysisID int64, start, end time.Time, limit uint64) ([]models.TopPageResult, error)
}

type ReportHandlers struct {
	Reports         *reports.Service
	Gate            *membership.Gate
	ConversionStore ConversionLister
	TrafficStore    TrafficSource
	Images          export.ImageOpener
	// Anonymous is shared with AnalysisHandlers so re-runs spend the same
	// per-IP allowance; nil disables it.
	Anonymous *middleware.IPRateLimiter
}

func NewReportHandlers(svc *reports.Service, gate *membership.Gate, conversions ConversionLister, traffic TrafficSource, images export.ImageOpener, anonymous *middleware.IPRateLimiter) *ReportHandlers {
	return &ReportHandlers{
		Reports:         svc,
		Gate:            gate,
		ConversionStore: conversions,
		TrafficStore:    traffic,
		Images:          images,
		Anonymous:       anonymous,
	}
}

func (h *ReportHandlers) List(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	page, err := h.Reports.List(ctx, middleware.UserID(c), userID, queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		respondError(c, err, "list reports")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ReportHandlers) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	a, err := h.Reports.Get(ctx, middleware.UserID(c), id)
	if err != nil {
		respondError(c, err, "load report")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *ReportHandlers) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Reports.Delete(ctx, middleware.UserID(c), id); err != nil {
		respondError(c, err, "delete report")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ReportHandlers) Rename(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	a, err := h.Reports.Rename(ctx, middleware.UserID(c), id, req.Name)
	if err != nil {
		respondError(c, err, "rename report")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *ReportHandlers) Versions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	versions, err := h.Reports.Versions(ctx, middleware.UserID(c), id)
	if err != nil {
		respondError(c, err, "load versions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// Rerun analyzes the same URLs again as a new version. Members whose access
// is suspended get the membership payload back with a 403.
func (h *ReportHandlers) Rerun(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	caller := middleware.UserID(c)
	ctx, cancel := dbContext(c)
	if caller != nil {
		status, err := h.Gate.ForUser(ctx, *caller)
		cancel()
		if err != nil {
			respondError(c, err, "resolve membership")
			return
		}
		if !status.AccessGranted {
			c.JSON(http.StatusForbidden, status)
			return
		}
	} else {
		_, err := h.Reports.Get(ctx, nil, id)
		cancel()
		if err != nil {
			respondError(c, err, "load report")
			return
		}
		if h.Anonymous != nil && !h.Anonymous.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Free analysis limit reached, sign in to run more"})
			return
		}
	}
	a, err := h.Reports.Rerun(c.Request.Context(), caller, id, c.GetHeader("X-Progress-Token"))
	if err != nil {
		respondError(c, err, "re-run analysis")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *ReportHandlers) Completions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	list, err := h.Reports.Completions(ctx, middleware.UserID(c), id)
	if err != nil {
		respondError(c, err, "load checklist")
		return
	}
	if list == nil {
		list = []models.RecommendationCompletion{}
	}
	c.JSON(http.StatusOK, gin.H{"completions": list})
}

func (h *ReportHandlers) SetCompletion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	out, err := h.Reports.SetCompletion(ctx, middleware.UserID(c), id, req.RecommendationID, req.Completed)
	if err != nil {
		respondError(c, err, "update checklist")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReportHandlers) Export(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, err, "export report")
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	a, err := h.Reports.Get(ctx, middleware.UserID(c), id)
	if err != nil {
		respondError(c, err, "load report")
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, a, h.Images); err != nil {
		respondError(c, err, "export report")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename(a)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// Conversions lists the attributed conversions of an analysis with summary
// statistics.
func (h *ReportHandlers) Conversions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if _, err := h.Reports.Get(ctx, middleware.UserID(c), id); err != nil {
		respondError(c, err, "load report")
		return
	}
	list, err := h.ConversionStore.ListConversions(ctx, id)
	if err != nil {
		respondError(c, err, "list conversions")
		return
	}
	if list == nil {
		list = []models.Conversion{}
	}
	c.JSON(http.StatusOK, gin.H{"conversions": list, "stats": attribution.Stats(list)})
}

func (h *ReportHandlers) Traffic(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	interval := c.DefaultQuery("interval", "Day")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be one of Minute, Hour, Day, Week, Month"})
		return
	}
	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if _, err := h.Reports.Get(ctx, middleware.UserID(c), id); err != nil {
		respondError(c, err, "load report")
		return
	}
	series, err := h.TrafficStore.GetEventCountsOverTime(ctx, id, interval, start, end, c.Query("eventType"))
	if err != nil {
		respondError(c, err, "retrieve event statistics")
		return
	}
	pages, err := h.TrafficStore.GetTopPages(ctx, id, start, end, 10)
	if err != nil {
		respondError(c, err, "retrieve top pages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"interval": interval, "start": start, "end": end, "series": series, "top_pages": pages})
}
