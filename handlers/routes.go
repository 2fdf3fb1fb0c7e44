package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pagelens/api/middleware"
)

// Routes groups the handler sets mounted by Register.
type Routes struct {
	Auth          *middleware.Authenticator
	AuthH         *AuthHandlers
	Track         *TrackHandlers
	Analysis      *AnalysisHandlers
	Reports       *ReportHandlers
	Webhooks      *WebhookHandlers
	Admin         *AdminHandlers
	ScreenshotDir string
	// Health lists the dependencies /health pings, by name.
	Health map[string]Pinger
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func (rt Routes) Register(r *gin.Engine) {
	r.GET("/health", rt.health)
	if rt.ScreenshotDir != "" {
		r.Static("/screenshots", rt.ScreenshotDir)
	}

	api := r.Group("/api")

	if rt.Track != nil {
		track := api.Group("/track/:id")
		track.GET("/script.js", rt.Track.Script)
		track.POST("/session", rt.Track.Session)
		track.POST("/event", rt.Track.Event)
	}

	if rt.Webhooks != nil {
		api.POST("/webhooks/convert/:id", rt.Webhooks.Convert)
		api.POST("/webhooks/thrivecart", rt.Webhooks.ThriveCartWebhook)
		api.HEAD("/webhooks/thrivecart", rt.Webhooks.ThriveCartWebhook)
	}

	if rt.Analysis != nil {
		api.POST("/analyze", rt.Analysis.Analyze)
		api.GET("/analysis/progress/:id", rt.Analysis.Progress)
	}

	if rt.AuthH != nil {
		auth := api.Group("/auth")
		auth.POST("/magic-link", rt.AuthH.RequestMagicLink)
		auth.POST("/magic-link/validate", rt.AuthH.ValidateMagicLink)
		auth.POST("/register", rt.AuthH.Register)
		auth.POST("/login", rt.AuthH.Login)
		auth.POST("/admin/login", rt.AuthH.AdminLogin)
		auth.POST("/refresh", rt.AuthH.Refresh)
		auth.GET("/oauth/:provider", rt.AuthH.OAuthStart)
		auth.GET("/oauth/:provider/callback", rt.AuthH.OAuthCallback)

		profile := auth.Group("/profile", rt.Auth.AuthRequired())
		profile.GET("", rt.AuthH.GetProfile)
		profile.PATCH("", rt.AuthH.UpdateProfile)

		api.GET("/membership/status", rt.AuthH.MembershipStatus)
	}

	if rt.Reports != nil {
		reports := api.Group("/reports", rt.Auth.OptionalAuth())
		reports.GET("/:id", rt.Reports.List)
		reports.GET("/:id/conversions", rt.Reports.Conversions)
		reports.GET("/:id/traffic", rt.Reports.Traffic)

		detail := reports.Group("/detail/:id")
		detail.GET("", rt.Reports.Get)
		detail.DELETE("", rt.Reports.Delete)
		detail.PATCH("/rename", rt.Reports.Rename)
		detail.GET("/versions", rt.Reports.Versions)
		detail.POST("/rerun", rt.Reports.Rerun)
		detail.GET("/recommendations", rt.Reports.Completions)
		detail.PUT("/recommendations", rt.Reports.SetCompletion)
		detail.GET("/export", rt.Reports.Export)
	}

	if rt.Admin != nil {
		admin := api.Group("/admin", rt.Auth.AuthRequired(), middleware.AdminRequired())
		admin.GET("/users", rt.Admin.ListUsers)
		admin.GET("/users/:id", rt.Admin.GetUser)
		admin.DELETE("/users/:id", rt.Admin.DeleteUser)
		admin.GET("/stats", rt.Admin.GetStats)
		admin.GET("/email-templates", rt.Admin.ListTemplates)
		admin.POST("/email-templates", rt.Admin.CreateTemplate)
		admin.GET("/email-templates/:id", rt.Admin.GetTemplate)
		admin.PUT("/email-templates/:id", rt.Admin.UpdateTemplate)
		admin.DELETE("/email-templates/:id", rt.Admin.DeleteTemplate)
	}
}

func (rt Routes) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	code := http.StatusOK
	checks := gin.H{}
	for name, p := range rt.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}
