// Package pipeline runs a page analysis end to end: validate, scrape,
// screenshot, score with the language model and persist the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"text/template"
	"time"

	"pagelens/api/config"
	"pagelens/api/models"
	"pagelens/api/pagespeed"
	"pagelens/api/scraper"
)

type Scraper interface {
	Scrape(ctx context.Context, url string) (*scraper.Page, error)
}

type Screenshotter interface {
	Capture(ctx context.Context, analysisID int64, position int, url string) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type PerformanceSource interface {
	Fetch(ctx context.Context, url string) (*pagespeed.Result, error)
}

// Store persists analyses as they move through the pipeline.
type Store interface {
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	CompleteAnalysis(ctx context.Context, a *models.Analysis) error
	FailAnalysis(ctx context.Context, id int64, message string) error
}

// Request is one analysis submission.
type Request struct {
	URLs             []string
	Email            string
	Industry         string
	Name             string
	UserID           *int64
	ParentAnalysisID *int64
	ProgressToken    string
}

type Pipeline struct {
	cfg      config.PipelineConfig
	store    Store
	scraper  Scraper
	shots    Screenshotter
	llm      Completer
	perf     PerformanceSource
	progress *Tracker
	prompt   *template.Template
}

// Deps are the collaborators of a pipeline. Screenshots and Performance
// are optional.
type Deps struct {
	Store       Store
	Scraper     Scraper
	Screenshots Screenshotter
	LLM         Completer
	Performance PerformanceSource
	Progress    *Tracker
}

func New(cfg config.PipelineConfig, deps Deps) (*Pipeline, error) {
	cfg = withDefaults(cfg)
	tmpl, err := parsePromptTemplate(cfg.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if deps.Progress == nil {
		deps.Progress = NewTracker(cfg.ProgressTTL)
	}
	return &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		scraper:  deps.Scraper,
		shots:    deps.Screenshots,
		llm:      deps.LLM,
		perf:     deps.Performance,
		progress: deps.Progress,
		prompt:   tmpl,
	}, nil
}

func withDefaults(cfg config.PipelineConfig) config.PipelineConfig {
	def := config.DefaultPipeline()
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = def.MaxURLs
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = def.ScrapeTimeout
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = def.ScreenshotTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = def.LLMTimeout
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = def.ProgressTTL
	}
	return cfg
}

func (p *Pipeline) Progress() *Tracker { return p.progress }

// ValidateURLs applies the configured URL limit.
func (p *Pipeline) ValidateURLs(raw []string) ([]string, error) {
	return ValidateURLs(raw, p.cfg.MaxURLs)
}

// Run executes the whole pipeline synchronously and returns the stored
// analysis.
func (p *Pipeline) Run(ctx context.Context, req Request) (*models.Analysis, error) {
	urls, err := p.ValidateURLs(req.URLs)
	if err != nil {
		return nil, err
	}

	var tokenKey string
	if req.ProgressToken != "" {
		tokenKey = TokenKey(req.ProgressToken)
	}
	run := p.progress.Start(tokenKey)

	a := &models.Analysis{
		URLs:             urls,
		Name:             req.Name,
		Industry:         req.Industry,
		Email:            req.Email,
		UserID:           req.UserID,
		ParentAnalysisID: req.ParentAnalysisID,
	}
	if err := p.store.CreateAnalysis(ctx, a); err != nil {
		run.Fail("Could not start the analysis")
		return nil, fmt.Errorf("create analysis: %w", err)
	}
	run.SetAnalysisID(a.ID)
	log.Printf("Analysis %d started for %d URL(s)", a.ID, len(urls))

	pages, scraped := p.scrapePages(ctx, run, urls)
	if scraped == 0 {
		return nil, p.fail(ctx, run, a.ID, "We couldn't reach any of the submitted pages.", ErrUnreachable)
	}

	p.capturePages(ctx, run, a.ID, urls, pages)

	answer, err := p.analyze(ctx, run, req.Industry, urls, pages)
	if err != nil {
		log.Printf("ERROR: analysis %d: %v", a.ID, err)
		return nil, p.fail(ctx, run, a.ID, ErrAnalysisFailed.Error(), ErrAnalysisFailed)
	}

	run.Set(StageSummarizing, stagePercent(StageSummarizing, 0, 1), "Writing your summary", 0, 0)
	a.Pages = make([]models.PageAnalysis, len(urls))
	entries := answer.assign(urls)
	var scored []models.Scores
	for i, u := range urls {
		pa := models.PageAnalysis{Position: i, URL: u}
		pa.ScreenshotURL = pages[i].screenshotURL
		pa.ScrapeError = pages[i].scrapeErr
		pa.ScreenshotError = pages[i].screenshotErr
		if pages[i].page != nil {
			pa.Title = pages[i].page.Title
		}
		if lp := entries[i]; lp != nil {
			pa.Scores = clampScores(lp.Scores)
			pa.Feedback = lp.Feedback
			pa.PageType = lp.PageType
			pa.Recommendations = lp.Recommendations
			if lp.Title != "" {
				pa.Title = lp.Title
			}
			scored = append(scored, pa.Scores)
		}
		a.Pages[i] = pa
	}
	if len(scored) == 0 {
		log.Printf("ERROR: analysis %d: model answer matched none of the pages", a.ID)
		return nil, p.fail(ctx, run, a.ID, ErrAnalysisFailed.Error(), ErrAnalysisFailed)
	}
	a.Scores = AggregateScores(scored)
	a.OverallScore = OverallScore(a.Scores)
	a.Summary = answer.Summary

	if err := p.store.CompleteAnalysis(ctx, a); err != nil {
		run.Fail("Could not save the report")
		return nil, fmt.Errorf("store analysis %d: %w", a.ID, err)
	}
	run.Done()
	return a, nil
}

type pageState struct {
	page          *scraper.Page
	scrapeErr     *string
	screenshotURL *string
	screenshotErr *string
}

func errString(err error) *string {
	s := err.Error()
	return &s
}

func (p *Pipeline) scrapePages(ctx context.Context, run *Run, urls []string) ([]pageState, int) {
	pages := make([]pageState, len(urls))
	ok := 0
	for i, u := range urls {
		run.Set(StageScraping, stagePercent(StageScraping, i, len(urls)),
			fmt.Sprintf("Reading page %d of %d", i+1, len(urls)), i+1, len(urls))

		sctx, cancel := context.WithTimeout(ctx, p.cfg.ScrapeTimeout)
		page, err := p.scraper.Scrape(sctx, u)
		cancel()
		if err != nil {
			log.Printf("Scrape of %s failed: %v", u, err)
			pages[i].scrapeErr = errString(err)
			continue
		}
		pages[i].page = page
		ok++
	}
	return pages, ok
}

func (p *Pipeline) capturePages(ctx context.Context, run *Run, analysisID int64, urls []string, pages []pageState) {
	if p.shots == nil {
		return
	}
	for i, u := range urls {
		run.Set(StageCapturing, stagePercent(StageCapturing, i, len(urls)),
			fmt.Sprintf("Capturing screenshot %d of %d", i+1, len(urls)), i+1, len(urls))
		if pages[i].page == nil {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, p.cfg.ScreenshotTimeout)
		shot, err := p.shots.Capture(cctx, analysisID, i, u)
		cancel()
		if err != nil {
			log.Printf("Screenshot of %s failed: %v", u, err)
			pages[i].screenshotErr = errString(err)
			continue
		}
		pages[i].screenshotURL = &shot
	}
}

func (p *Pipeline) analyze(ctx context.Context, run *Run, industry string, urls []string, pages []pageState) (*llmAnswer, error) {
	run.Set(StageAnalyzing, stagePercent(StageAnalyzing, 0, 1), "Scoring your pages", 0, len(urls))

	data := promptData{Industry: industry}
	for i, u := range urls {
		pp := promptPage{Number: i + 1, URL: u, Page: pages[i].page}
		if pages[i].scrapeErr != nil {
			pp.Error = *pages[i].scrapeErr
		}
		if p.perf != nil && pages[i].page != nil {
			if res, err := p.perf.Fetch(ctx, u); err != nil {
				log.Printf("PageSpeed for %s unavailable: %v", u, err)
			} else {
				pp.Performance = res
			}
		}
		data.Pages = append(data.Pages, pp)
	}
	prompt, err := renderPrompt(p.prompt, data)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()
	raw, err := p.llm.Complete(lctx, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	answer, err := parseAnswer(raw)
	if err != nil {
		return nil, err
	}
	run.Set(StageAnalyzing, stagePercent(StageAnalyzing, 1, 1), "Scores ready", 0, len(urls))
	return answer, nil
}

// fail marks the analysis failed with a user-facing message and returns
// cause wrapped with the analysis id.
func (p *Pipeline) fail(ctx context.Context, run *Run, id int64, message string, cause error) error {
	run.Fail(message)
	// The request context may already be gone; the failed status must still land.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.FailAnalysis(fctx, id, message); err != nil {
		log.Printf("ERROR: marking analysis %d failed: %v", id, err)
		return errors.Join(cause, err)
	}
	return fmt.Errorf("analysis %d: %w", id, cause)
}
