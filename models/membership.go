package models

import "time"

const (
	PlanFree = "free"

	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCanceled  = "canceled"
	StatusSuspended = "suspended"
	StatusRefunded  = "refunded"
)

// MembershipStatus is derived per request; it is never stored.
type MembershipStatus struct {
	UserID          *int64 `json:"user_id,omitempty"`
	Plan            string `json:"plan"`
	Status          string `json:"status"`
	AccessGranted   bool   `json:"access_granted"`
	StatusReason    string `json:"status_reason,omitempty"`
	PortalUpdateURL string `json:"portal_update_url,omitempty"`
}

type EmailTemplate struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Subject   string    `json:"subject"`
	BodyHTML  string    `json:"body_html"`
	BodyText  string    `json:"body_text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EmailTemplateRequest struct {
	Slug     string `json:"slug" binding:"required,max=100"`
	Subject  string `json:"subject" binding:"required,max=255"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`
}

// AdminStats backs the admin dashboard counters.
type AdminStats struct {
	TotalUsers        int            `json:"total_users"`
	UsersByStatus     map[string]int `json:"users_by_status"`
	TotalAnalyses     int            `json:"total_analyses"`
	FailedAnalyses    int            `json:"failed_analyses"`
	AnalysesLast7Days int            `json:"analyses_last_7_days"`
	TotalConversions  int            `json:"total_conversions"`
	TotalRevenue      float64        `json:"total_revenue"`
	AverageScore      float64        `json:"average_score"`
}
