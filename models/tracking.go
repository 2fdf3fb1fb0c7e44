package models

import (
	"encoding/json"
	"time"
)

const (
	EventPageView     = "pageview"
	EventClick        = "click"
	EventEmailCapture = "email_capture"
)

// Session is a visitor session on a tracked landing page.
type Session struct {
	SessionID   string    `json:"session_id"`
	AnalysisID  int64     `json:"analysis_id"`
	Fingerprint string    `json:"fingerprint"`
	LandingPage string    `json:"landing_page"`
	Referrer    string    `json:"referrer"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	UTMTerm     string    `json:"utm_term,omitempty"`
	UTMContent  string    `json:"utm_content,omitempty"`
	Email       *string   `json:"email"`
	UserID      *string   `json:"user_id"`
	OrderID     *string   `json:"order_id"`
	UserAgent   string    `json:"user_agent,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrackingEvent is an append-only interaction recorded for a session.
type TrackingEvent struct {
	EventID    string          `json:"event_id"`
	AnalysisID int64           `json:"analysis_id"`
	SessionID  string          `json:"session_id"`
	EventType  string          `json:"event_type"`
	PageURL    string          `json:"page_url"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type SessionRequest struct {
	SessionID   string `json:"session_id" binding:"required,max=128"`
	Fingerprint string `json:"fingerprint"`
	LandingPage string `json:"landing_page"`
	Referrer    string `json:"referrer"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
	Email       string `json:"email"`
	UserID      string `json:"user_id"`
	OrderID     string `json:"order_id"`
}

type EventRequest struct {
	SessionID string          `json:"session_id" binding:"required,max=128"`
	EventType string          `json:"event_type" binding:"required,max=64"`
	PageURL   string          `json:"page_url"`
	Metadata  json.RawMessage `json:"metadata"`
	Email     string          `json:"email"`
}

// EventCountByTime is a bucket of the traffic time series.
type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"event_type,omitempty"`
	Count     uint64    `json:"count"`
}

type TopPageResult struct {
	PageURL string `json:"page_url"`
	Count   uint64 `json:"count"`
}

// SessionLookup selects sessions of one analysis by a single key. Zero time
// bounds are ignored.
type SessionLookup struct {
	OrderID       string
	SessionID     string
	Email         string
	UserID        string
	Fingerprint   string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}
