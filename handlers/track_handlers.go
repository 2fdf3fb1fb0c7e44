package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pagelens/api/models"
	"pagelens/api/store"
	"pagelens/api/tracker"
	"pagelens/api/utils"
)

type SessionRepository interface {
	UpsertSession(ctx context.Context, s *models.Session) (*models.Session, error)
	GetSession(ctx context.Context, analysisID int64, sessionID string) (*models.Session, error)
	SetSessionEmail(ctx context.Context, analysisID int64, sessionID, email string) error
}

type EventWriter interface {
	InsertEvents(ctx context.Context, events []models.TrackingEvent) error
}

type AnalysisGetter interface {
	GetAnalysis(ctx context.Context, id int64) (*models.Analysis, error)
}

const maxMetadataBytes = 4 << 10

type TrackHandlers struct {
	Sessions  SessionRepository
	Events    EventWriter
	Analyses  AnalysisGetter
	PublicURL string
}

func NewTrackHandlers(sessions SessionRepository, events EventWriter, analyses AnalysisGetter, publicURL string) *TrackHandlers {
	return &TrackHandlers{Sessions: sessions, Events: events, Analyses: analyses, PublicURL: publicURL}
}

func (h *TrackHandlers) requireAnalysis(c *gin.Context) (int64, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return 0, false
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if _, err := h.Analyses.GetAnalysis(ctx, id); err != nil {
		respondError(c, err, "load analysis")
		return 0, false
	}
	return id, true
}

// Script serves the browser tracker bound to the analysis.
func (h *TrackHandlers) Script(c *gin.Context) {
	id, ok := h.requireAnalysis(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(tracker.Script(h.PublicURL, id)))
}

func (h *TrackHandlers) Session(c *gin.Context) {
	id, ok := h.requireAnalysis(c)
	if !ok {
		return
	}
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	s := &models.Session{
		SessionID:   req.SessionID,
		AnalysisID:  id,
		Fingerprint: req.Fingerprint,
		LandingPage: req.LandingPage,
		Referrer:    req.Referrer,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		UTMTerm:     req.UTMTerm,
		UTMContent:  req.UTMContent,
		UserAgent:   c.Request.UserAgent(),
		IPAddress:   c.ClientIP(),
	}
	if utils.IsTrackableEmail(req.Email) {
		email := utils.NormalizeEmail(req.Email)
		s.Email = &email
	}
	if v := strings.TrimSpace(req.UserID); v != "" {
		s.UserID = &v
	}
	if v := strings.TrimSpace(req.OrderID); v != "" {
		s.OrderID = &v
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	out, err := h.Sessions.UpsertSession(ctx, s)
	if err != nil {
		respondError(c, err, "record session")
		return
	}
	c.JSON(http.StatusOK, out)
}

// Event appends one interaction. A session id owned by another analysis is
// rejected with 409.
func (h *TrackHandlers) Event(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	metadata := req.Metadata
	if len(metadata) == 0 || string(metadata) == "null" {
		metadata = json.RawMessage("{}")
	}
	if len(metadata) > maxMetadataBytes || !json.Valid(metadata) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be a JSON object of at most 4KB"})
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if _, err := h.Sessions.GetSession(ctx, id, req.SessionID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			respondError(c, err, "load session")
			return
		}
		// The event overtook its session call; register the session bare and
		// let the session call fill in the rest.
		if _, err := h.Analyses.GetAnalysis(ctx, id); err != nil {
			respondError(c, err, "load analysis")
			return
		}
		if _, err := h.Sessions.UpsertSession(ctx, &models.Session{
			SessionID:   req.SessionID,
			AnalysisID:  id,
			LandingPage: req.PageURL,
			UserAgent:   c.Request.UserAgent(),
			IPAddress:   c.ClientIP(),
		}); err != nil {
			respondError(c, err, "record session")
			return
		}
	}

	if req.EventType == models.EventEmailCapture {
		if !utils.IsTrackableEmail(req.Email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email"})
			return
		}
		if err := h.Sessions.SetSessionEmail(ctx, id, req.SessionID, utils.NormalizeEmail(req.Email)); err != nil {
			respondError(c, err, "record email")
			return
		}
	}

	event := models.TrackingEvent{
		EventID:    uuid.New().String(),
		AnalysisID: id,
		SessionID:  req.SessionID,
		EventType:  req.EventType,
		PageURL:    req.PageURL,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Events.InsertEvents(ctx, []models.TrackingEvent{event}); err != nil {
		log.Printf("Error inserting tracking event into ClickHouse: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": event.EventID})
}
