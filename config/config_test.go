package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPipelineFile_OverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	body := "max_urls: 5\nllm_retries: 1\nscreenshot_timeout: 5s\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	p := DefaultPipeline()
	if err := LoadPipelineFile(path, &p); err != nil {
		t.Fatalf("LoadPipelineFile: %v", err)
	}

	if p.MaxURLs != 5 {
		t.Errorf("MaxURLs = %d, want 5", p.MaxURLs)
	}
	if p.LLMRetries != 1 {
		t.Errorf("LLMRetries = %d, want 1", p.LLMRetries)
	}
	if p.ScreenshotTimeout != 5*time.Second {
		t.Errorf("ScreenshotTimeout = %s, want 5s", p.ScreenshotTimeout)
	}
	if p.ProgressTTL != 10*time.Minute {
		t.Errorf("ProgressTTL = %s, want default 10m", p.ProgressTTL)
	}
}

func TestLoadPipelineFile_RejectsTooManyURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("max_urls: 50\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := DefaultPipeline()
	if err := LoadPipelineFile(path, &p); err == nil {
		t.Fatal("expected error for max_urls > 10")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Admin@Example.com, ,ops@example.com")
	if len(got) != 2 || got[0] != "admin@example.com" || got[1] != "ops@example.com" {
		t.Fatalf("splitList = %v", got)
	}
}
