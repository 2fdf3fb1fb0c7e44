package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"pagelens/api/models"
	"pagelens/api/pipeline"
	"pagelens/api/store"
)

type memoryStore struct {
	analyses    map[int64]*models.Analysis
	completions map[string]models.RecommendationCompletion
	deleted     []int64
}

func newMemoryStore(list ...*models.Analysis) *memoryStore {
	m := &memoryStore{analyses: map[int64]*models.Analysis{}, completions: map[string]models.RecommendationCompletion{}}
	for _, a := range list {
		m.analyses[a.ID] = a
	}
	return m
}

func (m *memoryStore) GetAnalysis(_ context.Context, id int64) (*models.Analysis, error) {
	a, ok := m.analyses[id]
	if !ok {
		return nil, fmt.Errorf("analysis %d: %w", id, store.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memoryStore) ListByUser(_ context.Context, userID int64, limit, offset int) ([]models.Analysis, int, error) {
	var out []models.Analysis
	for _, a := range m.analyses {
		if a.UserID != nil && *a.UserID == userID {
			out = append(out, *a)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memoryStore) ListChildren(_ context.Context, parentID int64) ([]models.Analysis, error) {
	var out []models.Analysis
	for _, a := range m.analyses {
		if a.ParentAnalysisID != nil && *a.ParentAnalysisID == parentID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) Rename(_ context.Context, id int64, name string) error {
	a, ok := m.analyses[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Name = name
	return nil
}

func (m *memoryStore) DeleteAnalysis(_ context.Context, id int64) error {
	delete(m.analyses, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memoryStore) ListCompletions(_ context.Context, analysisID, userID int64) ([]models.RecommendationCompletion, error) {
	var out []models.RecommendationCompletion
	for _, c := range m.completions {
		if c.AnalysisID == analysisID && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) SetCompletion(_ context.Context, c *models.RecommendationCompletion) error {
	m.completions[fmt.Sprintf("%d/%s/%d", c.AnalysisID, c.RecommendationID, c.UserID)] = *c
	return nil
}

type fakeRunner struct {
	store *memoryStore
	last  pipeline.Request
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*models.Analysis, error) {
	f.last = req
	id := int64(len(f.store.analyses) + 100)
	a := &models.Analysis{ID: id, URLs: req.URLs, UserID: req.UserID, ParentAnalysisID: req.ParentAnalysisID,
		Name: models.DefaultAnalysisName(id), CreatedAt: time.Now()}
	f.store.analyses[id] = a
	return a, nil
}

type fakePurger struct{ purged []int64 }

func (f *fakePurger) DeleteAnalysisEvents(_ context.Context, id int64) error {
	f.purged = append(f.purged, id)
	return nil
}

func id64(v int64) *int64 { return &v }

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func analysis(id int64, owner *int64, parent *int64, at time.Time) *models.Analysis {
	return &models.Analysis{
		ID: id, UserID: owner, ParentAnalysisID: parent, CreatedAt: at,
		Name: models.DefaultAnalysisName(id), URLs: []string{"https://example.com", "https://example.com/pricing"},
		Status: models.AnalysisCompleted,
	}
}

func TestRenameTwiceKeepsLatest(t *testing.T) {
	st := newMemoryStore(analysis(1, id64(7), nil, t0))
	svc := NewService(st, nil, nil)

	if _, err := svc.Rename(context.Background(), id64(7), 1, "First"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	a, err := svc.Rename(context.Background(), id64(7), 1, "  Second  ")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if a.Name != "Second" || st.analyses[1].Name != "Second" {
		t.Fatalf("name = %q / %q, want Second", a.Name, st.analyses[1].Name)
	}
}

func TestRenameEmptyRestoresDefault(t *testing.T) {
	st := newMemoryStore(analysis(5, id64(7), nil, t0))
	st.analyses[5].Name = "Custom"
	svc := NewService(st, nil, nil)

	a, err := svc.Rename(context.Background(), id64(7), 5, "   ")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if a.Name != "Analysis #5" {
		t.Fatalf("name = %q", a.Name)
	}
}

func TestRenameRejectsLongNames(t *testing.T) {
	st := newMemoryStore(analysis(1, nil, nil, t0))
	svc := NewService(st, nil, nil)
	if _, err := svc.Rename(context.Background(), nil, 1, strings.Repeat("x", 201)); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

func TestOwnershipMismatchLooksLikeNotFound(t *testing.T) {
	st := newMemoryStore(analysis(1, id64(7), nil, t0))
	svc := NewService(st, nil, nil)

	for _, caller := range []*int64{nil, id64(8)} {
		if _, err := svc.Get(context.Background(), caller, 1); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get as %v: err = %v, want not found", caller, err)
		}
		if _, err := svc.Rename(context.Background(), caller, 1, "x"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Rename as %v: err = %v, want not found", caller, err)
		}
	}
	if _, err := svc.Get(context.Background(), id64(7), 1); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
}

func TestAnonymousAnalysisIsOpen(t *testing.T) {
	st := newMemoryStore(analysis(1, nil, nil, t0))
	svc := NewService(st, nil, nil)
	if _, err := svc.Get(context.Background(), id64(3), 1); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := svc.Delete(context.Background(), id64(3), 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete err = %v, want ErrForbidden", err)
	}
}

func TestDeletePurgesEvents(t *testing.T) {
	st := newMemoryStore(analysis(1, id64(7), nil, t0))
	purger := &fakePurger{}
	svc := NewService(st, nil, purger)

	if err := svc.Delete(context.Background(), id64(7), 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(st.deleted) != 1 || len(purger.purged) != 1 || purger.purged[0] != 1 {
		t.Fatalf("deleted=%v purged=%v", st.deleted, purger.purged)
	}
}

func TestVersionsWalksWholeChain(t *testing.T) {
	owner := id64(7)
	st := newMemoryStore(
		analysis(1, owner, nil, t0),
		analysis(2, owner, id64(1), t0.Add(time.Hour)),
		analysis(3, owner, id64(2), t0.Add(2*time.Hour)),
		analysis(4, owner, id64(1), t0.Add(3*time.Hour)),
		analysis(9, owner, nil, t0.Add(4*time.Hour)),
	)
	svc := NewService(st, nil, nil)

	versions, err := svc.Versions(context.Background(), owner, 3)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	var ids []int64
	for _, v := range versions {
		ids = append(ids, v.ID)
	}
	if fmt.Sprint(ids) != "[1 2 3 4]" {
		t.Fatalf("chain = %v, want [1 2 3 4]", ids)
	}
	for i, v := range versions {
		if v.IsCurrent != (i == len(versions)-1) {
			t.Fatalf("version %d is_current = %v", v.ID, v.IsCurrent)
		}
	}
}

func TestRerunCreatesChildWithSameURLs(t *testing.T) {
	owner := id64(7)
	st := newMemoryStore(analysis(1, owner, nil, t0))
	runner := &fakeRunner{store: st}
	svc := NewService(st, runner, nil)

	child, err := svc.Rerun(context.Background(), owner, 1, "tok")
	if err != nil {
		t.Fatalf("Rerun: %v", err)
	}
	if child.ID == 1 || child.ParentAnalysisID == nil || *child.ParentAnalysisID != 1 {
		t.Fatalf("child = %+v", child)
	}
	if strings.Join(child.URLs, ",") != strings.Join(st.analyses[1].URLs, ",") {
		t.Fatalf("urls = %v", child.URLs)
	}
	if runner.last.ProgressToken != "tok" {
		t.Fatalf("progress token not forwarded")
	}
	if st.analyses[1].ParentAnalysisID != nil || st.analyses[1].Name != "Analysis #1" {
		t.Fatal("original analysis was modified")
	}
}

func TestRerunOfAnonymousAnalysisBySignedInUserIsForbidden(t *testing.T) {
	st := newMemoryStore(analysis(1, nil, nil, t0))
	svc := NewService(st, &fakeRunner{store: st}, nil)
	if _, err := svc.Rerun(context.Background(), id64(7), 1, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Rerun(context.Background(), nil, 1, ""); err != nil {
		t.Fatalf("anonymous rerun of anonymous analysis: %v", err)
	}
}

func TestCompletions(t *testing.T) {
	owner := id64(7)
	st := newMemoryStore(analysis(1, owner, nil, t0))
	svc := NewService(st, nil, nil)
	ctx := context.Background()

	if _, err := svc.SetCompletion(ctx, owner, 1, "page1-alert2", true); err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}
	if _, err := svc.SetCompletion(ctx, owner, 1, "page1-alert2", false); err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}
	list, err := svc.Completions(ctx, owner, 1)
	if err != nil {
		t.Fatalf("Completions: %v", err)
	}
	if len(list) != 1 || list[0].Completed {
		t.Fatalf("completions = %+v", list)
	}

	for _, bad := range []string{"", "has space", "semi;colon", strings.Repeat("a", 101)} {
		if _, err := svc.SetCompletion(ctx, owner, 1, bad, true); !errors.Is(err, ErrInvalidRecommendationID) {
			t.Errorf("SetCompletion(%q) err = %v", bad, err)
		}
	}
	if _, err := svc.Completions(ctx, nil, 1); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("anonymous completions err = %v", err)
	}
}

func TestListOnlyOwnReports(t *testing.T) {
	st := newMemoryStore(analysis(1, id64(7), nil, t0), analysis(2, id64(8), nil, t0))
	svc := NewService(st, nil, nil)

	page, err := svc.List(context.Background(), id64(7), 7, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Limit != DefaultLimit {
		t.Fatalf("page = %+v", page)
	}
	if _, err := svc.List(context.Background(), id64(7), 8, 10, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestNormalizePaging(t *testing.T) {
	if l, o := NormalizePaging(500, -3); l != MaxLimit || o != 0 {
		t.Fatalf("NormalizePaging = %d, %d", l, o)
	}
}
