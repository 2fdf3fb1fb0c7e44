// Package reports implements the report operations on top of the analysis
// store: ownership checks, renaming, version chains, re-runs and the
// recommendation checklist.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"pagelens/api/models"
	"pagelens/api/pipeline"
	"pagelens/api/store"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	MaxNameLength = 200
)

var (
	ErrForbidden               = errors.New("forbidden")
	ErrLoginRequired           = errors.New("login required")
	ErrInvalidName             = errors.New("name must be at most 200 characters")
	ErrInvalidRecommendationID = errors.New("invalid recommendation id")

	recommendationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
)

type Store interface {
	GetAnalysis(ctx context.Context, id int64) (*models.Analysis, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Analysis, int, error)
	ListChildren(ctx context.Context, parentID int64) ([]models.Analysis, error)
	Rename(ctx context.Context, id int64, name string) error
	DeleteAnalysis(ctx context.Context, id int64) error
	ListCompletions(ctx context.Context, analysisID, userID int64) ([]models.RecommendationCompletion, error)
	SetCompletion(ctx context.Context, c *models.RecommendationCompletion) error
}

// Runner starts a new analysis; satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*models.Analysis, error)
}

// EventPurger removes tracked events that live outside the relational store.
type EventPurger interface {
	DeleteAnalysisEvents(ctx context.Context, analysisID int64) error
}

type Service struct {
	store  Store
	runner Runner
	events EventPurger
}

// NewService wires the report operations. events may be nil.
func NewService(s Store, runner Runner, events EventPurger) *Service {
	return &Service{store: s, runner: runner, events: events}
}

// Page is a slice of a user's reports.
type Page struct {
	Analyses []models.Analysis `json:"analyses"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// NormalizePaging applies the default and maximum page size.
func NormalizePaging(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit, max(0, offset)
}

// List returns the reports of userID. Callers may only list their own.
func (s *Service) List(ctx context.Context, caller *int64, userID int64, limit, offset int) (*Page, error) {
	if caller == nil {
		return nil, ErrLoginRequired
	}
	if *caller != userID {
		return nil, ErrForbidden
	}
	limit, offset = NormalizePaging(limit, offset)
	list, total, err := s.store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &Page{Analyses: list, Total: total, Limit: limit, Offset: offset}, nil
}

// Get loads an analysis the caller may see. Analyses owned by someone else
// are reported as not found.
func (s *Service) Get(ctx context.Context, caller *int64, id int64) (*models.Analysis, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.OwnedBy(caller) {
		return nil, fmt.Errorf("analysis %d: %w", id, store.ErrNotFound)
	}
	return a, nil
}

// Rename sets the display name. An empty name restores the default.
func (s *Service) Rename(ctx context.Context, caller *int64, id int64, name string) (*models.Analysis, error) {
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrInvalidName
	}
	if name == "" {
		name = models.DefaultAnalysisName(a.ID)
	}
	if err := s.store.Rename(ctx, a.ID, name); err != nil {
		return nil, err
	}
	a.Name = name
	return a, nil
}

// Delete removes an analysis with its sessions, conversions, checklist and
// tracked events. Only the signed-in owner may delete.
func (s *Service) Delete(ctx context.Context, caller *int64, id int64) error {
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if caller == nil || a.UserID == nil {
		return ErrForbidden
	}
	if err := s.store.DeleteAnalysis(ctx, a.ID); err != nil {
		return err
	}
	if s.events != nil {
		if err := s.events.DeleteAnalysisEvents(ctx, a.ID); err != nil {
			log.Printf("ERROR: purging events of deleted analysis %d: %v", a.ID, err)
		}
	}
	return nil
}

// Versions returns the whole re-run chain the analysis belongs to, oldest
// first, with the newest flagged current.
func (s *Service) Versions(ctx context.Context, caller *int64, id int64) ([]models.AnalysisVersion, error) {
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	root := a
	seen := map[int64]bool{a.ID: true}
	for root.ParentAnalysisID != nil && !seen[*root.ParentAnalysisID] {
		parent, err := s.store.GetAnalysis(ctx, *root.ParentAnalysisID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = true
		root = parent
	}

	chain := []models.Analysis{*root}
	visited := map[int64]bool{root.ID: true}
	for queue := []int64{root.ID}; len(queue) > 0; queue = queue[1:] {
		children, err := s.store.ListChildren(ctx, queue[0])
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			chain = append(chain, c)
			queue = append(queue, c.ID)
		}
	}

	sort.Slice(chain, func(i, j int) bool {
		if chain[i].CreatedAt.Equal(chain[j].CreatedAt) {
			return chain[i].ID < chain[j].ID
		}
		return chain[i].CreatedAt.Before(chain[j].CreatedAt)
	})

	versions := make([]models.AnalysisVersion, len(chain))
	for i, v := range chain {
		versions[i] = models.AnalysisVersion{
			ID:               v.ID,
			Name:             v.Name,
			OverallScore:     v.OverallScore,
			Status:           v.Status,
			ParentAnalysisID: v.ParentAnalysisID,
			CreatedAt:        v.CreatedAt,
			IsCurrent:        i == len(chain)-1,
		}
	}
	return versions, nil
}

// Rerun analyzes the URLs of an existing analysis again as its child. The
// caller must be the owner; two anonymous callers count as the same owner.
func (s *Service) Rerun(ctx context.Context, caller *int64, id int64, progressToken string) (*models.Analysis, error) {
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !sameOwner(a.UserID, caller) {
		return nil, ErrForbidden
	}
	return s.runner.Run(ctx, pipeline.Request{
		URLs:             a.URLs,
		Email:            a.Email,
		Industry:         a.Industry,
		UserID:           caller,
		ParentAnalysisID: &a.ID,
		ProgressToken:    progressToken,
	})
}

// CheckParent validates a parent_analysis_id supplied on a new analysis.
func (s *Service) CheckParent(ctx context.Context, caller *int64, parentID int64) error {
	a, err := s.Get(ctx, caller, parentID)
	if err != nil {
		return err
	}
	if !sameOwner(a.UserID, caller) {
		return ErrForbidden
	}
	return nil
}

func sameOwner(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) Completions(ctx context.Context, caller *int64, id int64) ([]models.RecommendationCompletion, error) {
	if caller == nil {
		return nil, ErrLoginRequired
	}
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListCompletions(ctx, a.ID, *caller)
}

func (s *Service) SetCompletion(ctx context.Context, caller *int64, id int64, recommendationID string, completed bool) (*models.RecommendationCompletion, error) {
	if caller == nil {
		return nil, ErrLoginRequired
	}
	if !recommendationIDPattern.MatchString(recommendationID) {
		return nil, ErrInvalidRecommendationID
	}
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	c := &models.RecommendationCompletion{
		AnalysisID:       a.ID,
		RecommendationID: recommendationID,
		UserID:           *caller,
		Completed:        completed,
	}
	if err := s.store.SetCompletion(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
