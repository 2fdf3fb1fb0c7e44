package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pagelens/api/export"
	"pagelens/api/membership"
	"pagelens/api/pipeline"
	"pagelens/api/reports"
	"pagelens/api/store"
)

const dbTimeout = 10 * time.Second

func dbContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), dbTimeout)
}

// pathID parses the named int64 path parameter, writing a 400 when invalid.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// respondError maps package sentinel errors to a status and a message safe to
// show; everything else is logged and reported as a 500.
func respondError(c *gin.Context, err error, action string) {
	status, msg := http.StatusInternalServerError, "Failed to "+action
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, pipeline.ErrUnreachable):
		status, msg = http.StatusUnprocessableEntity, "None of the pages could be loaded"
	case errors.Is(err, pipeline.ErrAnalysisFailed):
		status, msg = http.StatusBadGateway, pipeline.ErrAnalysisFailed.Error()
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, store.ErrDuplicate):
		status, msg = http.StatusConflict, "Already exists"
	case errors.Is(err, store.ErrConflict):
		status, msg = http.StatusConflict, "Belongs to another analysis"
	case errors.Is(err, reports.ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, reports.ErrLoginRequired):
		status, msg = http.StatusUnauthorized, "Login required"
	case errors.Is(err, membership.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "Unauthorized: Invalid or expired token"
	case errors.Is(err, reports.ErrInvalidName), errors.Is(err, reports.ErrInvalidRecommendationID):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, export.ErrUnsupportedFormat):
		status, msg = http.StatusBadRequest, "format must be csv, xlsx or pdf"
	case errors.Is(err, export.ErrNoScreenshots):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "Request timed out"
	}
	if status >= 500 {
		log.Printf("ERROR: %s: %v", action, err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func parseTimeRange(c *gin.Context) (start, end time.Time, ok bool) {
	end = time.Now().UTC()
	start = end.Add(-7 * 24 * time.Hour)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		end = t
	}
	return start, end, true
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}
