package models

import "time"

const (
	MethodOrderID            = "order_id"
	MethodSessionFingerprint = "session_fingerprint"
	MethodEmail              = "email"
	MethodUserID             = "user_id"
	MethodProbabilistic      = "probabilistic"
	MethodNone               = "none"
)

// AttributionMethods lists every method in matcher priority order, ending with none.
var AttributionMethods = []string{
	MethodOrderID,
	MethodSessionFingerprint,
	MethodEmail,
	MethodUserID,
	MethodProbabilistic,
	MethodNone,
}

type Conversion struct {
	ConversionID      string    `json:"conversion_id"`
	AnalysisID        int64     `json:"analysis_id"`
	Email             string    `json:"email,omitempty"`
	OrderID           string    `json:"order_id,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	Fingerprint       string    `json:"fingerprint,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	Revenue           float64   `json:"revenue"`
	Currency          string    `json:"currency"`
	CustomerName      string    `json:"customer_name,omitempty"`
	ProductName       string    `json:"product_name,omitempty"`
	WebhookSource     string    `json:"webhook_source"`
	AttributionMethod string    `json:"attribution_method"`
	Confidence        int       `json:"confidence"`
	MatchedSessionID  *string   `json:"matched_session_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ConversionWebhook struct {
	ConversionID  string  `json:"conversion_id" binding:"required,max=255"`
	Email         string  `json:"email"`
	OrderID       string  `json:"order_id"`
	SessionID     string  `json:"session_id"`
	Fingerprint   string  `json:"fingerprint"`
	UserID        string  `json:"user_id"`
	Revenue       float64 `json:"revenue"`
	Currency      string  `json:"currency"`
	CustomerName  string  `json:"customer_name"`
	ProductName   string  `json:"product_name"`
	WebhookSource string  `json:"webhook_source"`
}

type ConversionStats struct {
	TotalConversions      int            `json:"total_conversions"`
	AttributedConversions int            `json:"attributed_conversions"`
	AttributionRate       float64        `json:"attribution_rate"`
	TotalRevenue          float64        `json:"total_revenue"`
	AverageConfidence     float64        `json:"average_confidence"`
	ByMethod              map[string]int `json:"by_method"`
}
