package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pagelens/api/mailer"
	"pagelens/api/models"
	"pagelens/api/reports"
)

type AdminUserRepository interface {
	ListUsers(ctx context.Context, limit, offset int) ([]models.UserSummary, int, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type StatsSource interface {
	Stats(ctx context.Context) (*models.AdminStats, error)
}

type TemplateRepository interface {
	ListTemplates(ctx context.Context) ([]models.EmailTemplate, error)
	GetTemplate(ctx context.Context, id int64) (*models.EmailTemplate, error)
	CreateTemplate(ctx context.Context, t *models.EmailTemplate) (*models.EmailTemplate, error)
	UpdateTemplate(ctx context.Context, t *models.EmailTemplate) (*models.EmailTemplate, error)
	DeleteTemplate(ctx context.Context, id int64) error
}

type AdminHandlers struct {
	Users     AdminUserRepository
	Stats     StatsSource
	Templates TemplateRepository
}

func NewAdminHandlers(users AdminUserRepository, stats StatsSource, templates TemplateRepository) *AdminHandlers {
	return &AdminHandlers{Users: users, Stats: stats, Templates: templates}
}

func (h *AdminHandlers) ListUsers(c *gin.Context) {
	limit, offset := reports.NormalizePaging(queryInt(c, "limit"), queryInt(c, "offset"))
	ctx, cancel := dbContext(c)
	defer cancel()
	users, total, err := h.Users.ListUsers(ctx, limit, offset)
	if err != nil {
		respondError(c, err, "list users")
		return
	}
	if users == nil {
		users = []models.UserSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "limit": limit, "offset": offset})
}

func (h *AdminHandlers) GetUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	user, err := h.Users.GetUserByID(ctx, id)
	if err != nil {
		respondError(c, err, "load user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AdminHandlers) DeleteUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Users.DeleteUser(ctx, id); err != nil {
		respondError(c, err, "delete user")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandlers) GetStats(c *gin.Context) {
	ctx, cancel := dbContext(c)
	defer cancel()
	stats, err := h.Stats.Stats(ctx)
	if err != nil {
		respondError(c, err, "load stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandlers) ListTemplates(c *gin.Context) {
	ctx, cancel := dbContext(c)
	defer cancel()
	list, err := h.Templates.ListTemplates(ctx)
	if err != nil {
		respondError(c, err, "list email templates")
		return
	}
	if list == nil {
		list = []models.EmailTemplate{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

func (h *AdminHandlers) GetTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	t, err := h.Templates.GetTemplate(ctx, id)
	if err != nil {
		respondError(c, err, "load email template")
		return
	}
	c.JSON(http.StatusOK, t)
}

// bindTemplate reads and sanitizes a template body, rejecting templates that
// do not parse.
func bindTemplate(c *gin.Context) (*models.EmailTemplate, bool) {
	var req models.EmailTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return nil, false
	}
	t := &models.EmailTemplate{
		Slug:     strings.TrimSpace(req.Slug),
		Subject:  req.Subject,
		BodyHTML: mailer.Sanitize(req.BodyHTML),
		BodyText: req.BodyText,
	}
	if err := mailer.Validate(t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template", "details": err.Error()})
		return nil, false
	}
	return t, true
}

func (h *AdminHandlers) CreateTemplate(c *gin.Context) {
	t, ok := bindTemplate(c)
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	out, err := h.Templates.CreateTemplate(ctx, t)
	if err != nil {
		respondError(c, err, "create email template")
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *AdminHandlers) UpdateTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, ok := bindTemplate(c)
	if !ok {
		return
	}
	t.ID = id
	ctx, cancel := dbContext(c)
	defer cancel()
	out, err := h.Templates.UpdateTemplate(ctx, t)
	if err != nil {
		respondError(c, err, "update email template")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AdminHandlers) DeleteTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Templates.DeleteTemplate(ctx, id); err != nil {
		respondError(c, err, "delete email template")
		return
	}
	c.Status(http.StatusNoContent)
}
