package models

import (
	"fmt"
	"time"
)

const (
	AnalysisRunning   = "running"
	AnalysisCompleted = "completed"
	AnalysisFailed    = "failed"
)

// Scores holds the five scoring dimensions, each 0-100.
type Scores struct {
	Clarity int `json:"clarity"`
	Value   int `json:"value"`
	Proof   int `json:"proof"`
	Design  int `json:"design"`
	Flow    int `json:"flow"`
}

// Values returns the dimensions in a fixed order.
func (s Scores) Values() [5]int {
	return [5]int{s.Clarity, s.Value, s.Proof, s.Design, s.Flow}
}

type Recommendation struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Priority string `json:"priority,omitempty"`
}

// Recommendations groups the structured advice the model returns for a page.
type Recommendations struct {
	Headline      []Recommendation `json:"headline,omitempty"`
	CTA           []Recommendation `json:"cta,omitempty"`
	Design        []Recommendation `json:"design,omitempty"`
	TrustElements []Recommendation `json:"trust_elements,omitempty"`
	FunnelGaps    []Recommendation `json:"funnel_gaps,omitempty"`
}

type PageAnalysis struct {
	Position        int              `json:"position"`
	URL             string           `json:"url"`
	Title           string           `json:"title"`
	PageType        string           `json:"page_type"`
	Scores          Scores           `json:"scores"`
	Feedback        string           `json:"feedback"`
	Recommendations *Recommendations `json:"recommendations,omitempty"`
	ScreenshotURL   *string          `json:"screenshot_url"`
	ScrapeError     *string          `json:"scrape_error,omitempty"`
	ScreenshotError *string          `json:"screenshot_error,omitempty"`
}

type Analysis struct {
	ID               int64          `json:"id"`
	URLs             []string       `json:"urls"`
	Name             string         `json:"name"`
	Status           string         `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	OverallScore     int            `json:"overall_score"`
	Scores           Scores         `json:"scores"`
	Summary          string         `json:"summary"`
	Industry         string         `json:"industry,omitempty"`
	Email            string         `json:"email,omitempty"`
	Pages            []PageAnalysis `json:"pages"`
	ParentAnalysisID *int64         `json:"parent_analysis_id"`
	UserID           *int64         `json:"user_id"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// DefaultAnalysisName is the name given to analyses that were not named by the user.
func DefaultAnalysisName(id int64) string {
	return fmt.Sprintf("Analysis #%d", id)
}

// OwnedBy reports whether userID may act on the analysis. Ownerless analyses
// are open to everyone.
func (a *Analysis) OwnedBy(userID *int64) bool {
	if a.UserID == nil {
		return true
	}
	return userID != nil && *userID == *a.UserID
}

type AnalyzeRequest struct {
	URLs             []string `json:"urls" binding:"required"`
	Email            string   `json:"email"`
	Industry         string   `json:"industry"`
	Name             string   `json:"name"`
	ParentAnalysisID *int64   `json:"parent_analysis_id"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

// AnalysisVersion is one entry of a re-run chain.
type AnalysisVersion struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	OverallScore     int       `json:"overall_score"`
	Status           string    `json:"status"`
	ParentAnalysisID *int64    `json:"parent_analysis_id"`
	CreatedAt        time.Time `json:"created_at"`
	IsCurrent        bool      `json:"is_current"`
}

type RecommendationCompletion struct {
	AnalysisID       int64     `json:"analysis_id"`
	RecommendationID string    `json:"recommendation_id"`
	UserID           int64     `json:"user_id"`
	Completed        bool      `json:"completed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type CompletionRequest struct {
	RecommendationID string `json:"recommendation_id" binding:"required"`
	Completed        bool   `json:"completed"`
}

// Progress is the polled view of an in-flight analysis.
type Progress struct {
	Stage           string    `json:"stage"`
	ProgressPercent int       `json:"progress_percent"`
	Message         string    `json:"message"`
	CurrentPage     int       `json:"current_page,omitempty"`
	TotalPages      int       `json:"total_pages,omitempty"`
	AnalysisID      int64     `json:"analysis_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
