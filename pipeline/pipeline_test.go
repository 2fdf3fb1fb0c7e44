package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pagelens/api/config"
	"pagelens/api/models"
	"pagelens/api/pagespeed"
	"pagelens/api/scraper"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	created  []*models.Analysis
	complete map[int64]*models.Analysis
	failed   map[int64]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{complete: map[int64]*models.Analysis{}, failed: map[int64]string{}}
}

func (s *memoryStore) CreateAnalysis(_ context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	a.CreatedAt = time.Now()
	a.Status = models.AnalysisRunning
	if a.Name == "" {
		a.Name = models.DefaultAnalysisName(a.ID)
	}
	s.created = append(s.created, a)
	return nil
}

func (s *memoryStore) CompleteAnalysis(_ context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Status = models.AnalysisCompleted
	s.complete[a.ID] = a
	return nil
}

func (s *memoryStore) FailAnalysis(_ context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = message
	return nil
}

type fakeScraper struct {
	fail map[string]error
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (*scraper.Page, error) {
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	return &scraper.Page{URL: url, Title: "Title of " + url, H1: []string{"Hello"}, Markdown: "# Hello"}, nil
}

type fakeShots struct{ fail bool }

func (f *fakeShots) Capture(_ context.Context, id int64, pos int, _ string) (string, error) {
	if f.fail {
		return "", errors.New("chrome crashed")
	}
	return fmt.Sprintf("/screenshots/%d-%d.jpg", id, pos), nil
}

type fakeLLM struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, _, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

type fakePerf struct{}

func (fakePerf) Fetch(_ context.Context, url string) (*pagespeed.Result, error) {
	return &pagespeed.Result{URL: url, Score: 42, LCP: 3100}, nil
}

const onePageAnswer = `{"summary":"Solid page.","pages":[{"url":"https://example.com","title":"Example",
 "page_type":"landing","scores":{"clarity":81,"value":72,"proof":64,"design":90,"flow":77},
 "feedback":"Good start.","recommendations":{"headline":[{"title":"Sharpen it","detail":"Say who it is for","priority":"high"}]}}]}`

func newTestPipeline(t *testing.T, st Store, llm Completer, shots Screenshotter, sc Scraper) *Pipeline {
	t.Helper()
	cfg := config.DefaultPipeline()
	p, err := New(cfg, Deps{Store: st, Scraper: sc, Screenshots: shots, LLM: llm, Performance: fakePerf{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRunSinglePage(t *testing.T) {
	st := newMemoryStore()
	llm := &fakeLLM{answer: onePageAnswer}
	p := newTestPipeline(t, st, llm, &fakeShots{}, &fakeScraper{})

	a, err := p.Run(context.Background(), Request{URLs: []string{" https://example.com "}, Industry: "SaaS", ProgressToken: "tok"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(a.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(a.Pages))
	}
	want := models.Scores{Clarity: 81, Value: 72, Proof: 64, Design: 90, Flow: 77}
	if a.Scores != want {
		t.Fatalf("scores = %+v, want %+v", a.Scores, want)
	}
	// (81+72+64+90+77)/5 = 76.8
	if a.OverallScore != 77 {
		t.Fatalf("overall = %d, want 77", a.OverallScore)
	}
	if a.Status != models.AnalysisCompleted || a.Name != "Analysis #1" || a.Summary != "Solid page." {
		t.Fatalf("unexpected analysis %+v", a)
	}
	page := a.Pages[0]
	if page.ScreenshotURL == nil || *page.ScreenshotURL != "/screenshots/1-0.jpg" {
		t.Fatalf("screenshot url = %v", page.ScreenshotURL)
	}
	if page.Recommendations == nil || len(page.Recommendations.Headline) != 1 {
		t.Fatalf("recommendations = %+v", page.Recommendations)
	}
	if !strings.Contains(llm.prompts[0], "SaaS") || !strings.Contains(llm.prompts[0], "Mobile performance score: 42/100") {
		t.Fatalf("prompt missing context:\n%s", llm.prompts[0])
	}

	for _, key := range []string{TokenKey("tok"), AnalysisKey(a.ID)} {
		prog, ok := p.Progress().Get(key)
		if !ok || prog.Stage != StageDone || prog.ProgressPercent != 100 {
			t.Fatalf("progress under %s = %+v, %v", key, prog, ok)
		}
	}
}

func TestRunAveragesAcrossPages(t *testing.T) {
	st := newMemoryStore()
	llm := &fakeLLM{answer: `{"summary":"s","pages":[
	 {"url":"https://a.example","scores":{"clarity":80,"value":70,"proof":61,"design":90,"flow":50}},
	 {"url":"https://b.example","scores":{"clarity":71,"value":70,"proof":60,"design":150,"flow":-5}}]}`}
	p := newTestPipeline(t, st, llm, nil, &fakeScraper{})

	a, err := p.Run(context.Background(), Request{URLs: []string{"https://a.example", "https://b.example"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Pages[1].Scores.Design != 100 || a.Pages[1].Scores.Flow != 0 {
		t.Fatalf("page scores not clamped: %+v", a.Pages[1].Scores)
	}
	// clarity 75.5 -> 76, proof 60.5 -> 61, design 95, flow 25
	want := models.Scores{Clarity: 76, Value: 70, Proof: 61, Design: 95, Flow: 25}
	if a.Scores != want {
		t.Fatalf("scores = %+v, want %+v", a.Scores, want)
	}
	if a.OverallScore != OverallScore(want) {
		t.Fatalf("overall = %d", a.OverallScore)
	}
	if a.Pages[0].ScreenshotURL != nil {
		t.Fatal("no screenshotter configured, expected nil screenshot url")
	}
}

func TestRunRejectsInvalidURLs(t *testing.T) {
	st := newMemoryStore()
	p := newTestPipeline(t, st, &fakeLLM{answer: onePageAnswer}, nil, &fakeScraper{})

	cases := [][]string{
		nil,
		{"   "},
		{"ftp://example.com"},
		{"example.com"},
		make([]string, 11),
	}
	for i := range cases[4] {
		cases[4][i] = fmt.Sprintf("https://example.com/%d", i)
	}
	for _, urls := range cases {
		if _, err := p.Run(context.Background(), Request{URLs: urls}); !errors.Is(err, ErrValidation) {
			t.Errorf("Run(%v) err = %v, want ErrValidation", urls, err)
		}
	}
	if len(st.created) != 0 {
		t.Fatalf("invalid requests created %d analyses", len(st.created))
	}
}

func TestRunLLMFailureMarksAnalysisFailed(t *testing.T) {
	st := newMemoryStore()
	p := newTestPipeline(t, st, &fakeLLM{err: errors.New("upstream 503")}, nil, &fakeScraper{})

	_, err := p.Run(context.Background(), Request{URLs: []string{"https://example.com"}, ProgressToken: "t"})
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if msg := st.failed[1]; msg != ErrAnalysisFailed.Error() {
		t.Fatalf("failed message = %q", msg)
	}
	if len(st.complete) != 0 {
		t.Fatal("failed analysis must not be completed")
	}
	prog, ok := p.Progress().Get(TokenKey("t"))
	if !ok || prog.Stage != StageFailed {
		t.Fatalf("progress = %+v, %v", prog, ok)
	}
}

func TestRunMalformedAnswerFails(t *testing.T) {
	st := newMemoryStore()
	p := newTestPipeline(t, st, &fakeLLM{answer: "I cannot help with that."}, nil, &fakeScraper{})
	if _, err := p.Run(context.Background(), Request{URLs: []string{"https://example.com"}}); !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestRunDegradesPerPage(t *testing.T) {
	st := newMemoryStore()
	sc := &fakeScraper{fail: map[string]error{"https://down.example": errors.New("connection refused")}}
	llm := &fakeLLM{answer: `{"summary":"s","pages":[
	 {"url":"https://up.example","scores":{"clarity":50,"value":50,"proof":50,"design":50,"flow":50}},
	 {"url":"https://down.example","scores":{"clarity":10,"value":10,"proof":10,"design":10,"flow":10}}]}`}
	p := newTestPipeline(t, st, llm, &fakeShots{}, sc)

	a, err := p.Run(context.Background(), Request{URLs: []string{"https://up.example", "https://down.example"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	down := a.Pages[1]
	if down.ScrapeError == nil || down.ScreenshotURL != nil {
		t.Fatalf("unreachable page = %+v", down)
	}
	if !strings.Contains(llm.prompts[0], "could not be fetched") {
		t.Fatal("prompt does not flag the unreachable page")
	}
}

func TestRunAllPagesUnreachable(t *testing.T) {
	st := newMemoryStore()
	sc := &fakeScraper{fail: map[string]error{"https://down.example": errors.New("no such host")}}
	p := newTestPipeline(t, st, &fakeLLM{answer: onePageAnswer}, nil, sc)

	if _, err := p.Run(context.Background(), Request{URLs: []string{"https://down.example"}}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if _, ok := st.failed[1]; !ok {
		t.Fatal("analysis not marked failed")
	}
}

func TestRunScreenshotFailureKeepsPage(t *testing.T) {
	st := newMemoryStore()
	p := newTestPipeline(t, st, &fakeLLM{answer: onePageAnswer}, &fakeShots{fail: true}, &fakeScraper{})

	a, err := p.Run(context.Background(), Request{URLs: []string{"https://example.com"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Pages[0].ScreenshotURL != nil || a.Pages[0].ScreenshotError == nil {
		t.Fatalf("page = %+v", a.Pages[0])
	}
}

func TestRunRecordsParent(t *testing.T) {
	st := newMemoryStore()
	p := newTestPipeline(t, st, &fakeLLM{answer: onePageAnswer}, nil, &fakeScraper{})
	parent := int64(99)
	a, err := p.Run(context.Background(), Request{URLs: []string{"https://example.com"}, ParentAnalysisID: &parent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.ParentAnalysisID == nil || *a.ParentAnalysisID != 99 {
		t.Fatalf("parent = %v", a.ParentAnalysisID)
	}
}
