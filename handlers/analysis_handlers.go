package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pagelens/api/membership"
	"pagelens/api/middleware"
	"pagelens/api/models"
	"pagelens/api/pipeline"
)

type AnalysisRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*models.Analysis, error)
	Progress() *pipeline.Tracker
	ValidateURLs(raw []string) ([]string, error)
}

type ParentChecker interface {
	CheckParent(ctx context.Context, caller *int64, parentID int64) error
}

type AnalysisHandlers struct {
	Pipeline AnalysisRunner
	Gate     *membership.Gate
	Parents  ParentChecker
	// Anonymous limits runs by callers without a token; nil disables it.
	Anonymous *middleware.IPRateLimiter
}

func NewAnalysisHandlers(p AnalysisRunner, gate *membership.Gate, parents ParentChecker, anonymous *middleware.IPRateLimiter) *AnalysisHandlers {
	return &AnalysisHandlers{Pipeline: p, Gate: gate, Parents: parents, Anonymous: anonymous}
}

// Analyze runs the pipeline synchronously. Clients poll progress with the
// X-Progress-Token they send along.
func (h *AnalysisHandlers) Analyze(c *gin.Context) {
	ctx := c.Request.Context()
	status, err := h.Gate.Resolve(ctx, middleware.BearerToken(c))
	if err != nil {
		respondError(c, err, "resolve membership")
		return
	}
	if !status.AccessGranted {
		c.JSON(http.StatusForbidden, status)
		return
	}

	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	// Rejected submissions must not spend the anonymous allowance.
	if _, err := h.Pipeline.ValidateURLs(req.URLs); err != nil {
		respondError(c, err, "validate analysis")
		return
	}

	if req.ParentAnalysisID != nil {
		pctx, cancel := dbContext(c)
		err := h.Parents.CheckParent(pctx, status.UserID, *req.ParentAnalysisID)
		cancel()
		if err != nil {
			respondError(c, err, "check parent analysis")
			return
		}
	}

	if status.UserID == nil && h.Anonymous != nil && !h.Anonymous.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Free analysis limit reached, sign in to run more"})
		return
	}

	analysis, err := h.Pipeline.Run(ctx, pipeline.Request{
		URLs:             req.URLs,
		Email:            strings.TrimSpace(req.Email),
		Industry:         strings.TrimSpace(req.Industry),
		Name:             req.Name,
		UserID:           status.UserID,
		ParentAnalysisID: req.ParentAnalysisID,
		ProgressToken:    strings.TrimSpace(c.GetHeader("X-Progress-Token")),
	})
	if err != nil {
		respondError(c, err, "run analysis")
		return
	}
	log.Printf("Analysis %d completed: overall score %d", analysis.ID, analysis.OverallScore)
	c.JSON(http.StatusOK, analysis)
}

// Progress looks the key up as a progress token first, then as an analysis id.
func (h *AnalysisHandlers) Progress(c *gin.Context) {
	key := c.Param("id")
	tracker := h.Pipeline.Progress()
	p, ok := tracker.Get(pipeline.TokenKey(key))
	if !ok {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			p, ok = tracker.Get(pipeline.AnalysisKey(id))
		}
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No progress for this analysis"})
		return
	}
	c.JSON(http.StatusOK, p)
}
