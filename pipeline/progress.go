package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"pagelens/api/models"
)

const (
	StageQueued      = "queued"
	StageScraping    = "scraping"
	StageCapturing   = "capturing"
	StageAnalyzing   = "analyzing"
	StageSummarizing = "summarizing"
	StageDone        = "done"
	StageFailed      = "failed"
)

// stageRange is the slice of the progress bar each stage owns.
var stageRange = map[string][2]int{
	StageQueued:      {0, 0},
	StageScraping:    {0, 25},
	StageCapturing:   {25, 45},
	StageAnalyzing:   {45, 90},
	StageSummarizing: {90, 99},
	StageDone:        {100, 100},
}

// stagePercent interpolates within a stage after done of total steps.
func stagePercent(stage string, done, total int) int {
	r := stageRange[stage]
	if total <= 0 {
		return r[0]
	}
	return r[0] + (r[1]-r[0])*done/total
}

func AnalysisKey(id int64) string  { return "analysis:" + strconv.FormatInt(id, 10) }
func TokenKey(token string) string { return "token:" + token }

type progressRecord struct {
	progress models.Progress
	expires  time.Time
}

// Tracker holds the progress of in-flight analyses in memory. Records
// expire ttl after their last update.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]*progressRecord
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{ttl: ttl, now: time.Now, records: make(map[string]*progressRecord)}
}

// Start registers a run under the given keys (empty keys are skipped) in the
// queued stage.
func (t *Tracker) Start(keys ...string) *Run {
	r := &Run{tracker: t, rec: &progressRecord{}}
	for _, k := range keys {
		r.Alias(k)
	}
	r.Set(StageQueued, 0, "Queued", 0, 0)
	return r
}

// Get returns the progress stored under key unless it has expired.
func (t *Tracker) Get(key string) (models.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if !ok {
		return models.Progress{}, false
	}
	if !t.now().Before(rec.expires) {
		delete(t.records, key)
		return models.Progress{}, false
	}
	return rec.progress, true
}

// Sweep drops expired records.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for k, rec := range t.records {
		if !now.Before(rec.expires) {
			delete(t.records, k)
		}
	}
}

// RunSweeper sweeps every interval until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Run is the handle a single analysis reports progress through.
type Run struct {
	tracker *Tracker
	rec     *progressRecord
}

// Alias makes the run visible under one more key.
func (r *Run) Alias(key string) {
	if key == "" {
		return
	}
	r.tracker.mu.Lock()
	r.tracker.records[key] = r.rec
	r.tracker.mu.Unlock()
}

// Set records the current stage. The percentage never moves backwards.
func (r *Run) Set(stage string, percent int, message string, currentPage, totalPages int) {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	p := &r.rec.progress
	p.Stage = stage
	p.ProgressPercent = max(p.ProgressPercent, min(100, percent))
	p.Message = message
	p.CurrentPage = currentPage
	p.TotalPages = totalPages
	p.UpdatedAt = t.now()
	r.rec.expires = p.UpdatedAt.Add(t.ttl)
}

func (r *Run) SetAnalysisID(id int64) {
	r.tracker.mu.Lock()
	r.rec.progress.AnalysisID = id
	r.tracker.mu.Unlock()
	r.Alias(AnalysisKey(id))
}

func (r *Run) Fail(message string) {
	r.Set(StageFailed, 0, message, 0, 0)
}

func (r *Run) Done() {
	r.Set(StageDone, 100, "Analysis complete", 0, 0)
}
