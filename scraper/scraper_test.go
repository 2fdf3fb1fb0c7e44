package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const landingPage = `<!doctype html>
<html><head>
<title> Acme Analytics </title>
<meta name="description" content="Know your funnel.">
<script>var ignored = "do not count me";</script>
</head><body>
<h1>Grow revenue faster</h1>
<h2>Why teams switch</h2>
<a href="/pricing" class="btn btn-primary">Start free trial</a>
<a href="/about">About</a>
<form><input type="email" name="email"><input type="submit" value="Get the guide"></form>
<img src="hero.png">
<img src="logo.png" alt="Acme">
<button>Book a demo</button>
</body></html>`

func TestParseExtractsStructure(t *testing.T) {
	page, err := Parse([]byte(landingPage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if page.Title != "Acme Analytics" {
		t.Errorf("title = %q", page.Title)
	}
	if page.MetaDescription != "Know your funnel." {
		t.Errorf("meta description = %q", page.MetaDescription)
	}
	if len(page.H1) != 1 || page.H1[0] != "Grow revenue faster" {
		t.Errorf("h1 = %v", page.H1)
	}
	want := []string{"Start free trial", "Get the guide", "Book a demo"}
	if strings.Join(page.CTAs, "|") != strings.Join(want, "|") {
		t.Errorf("ctas = %v, want %v", page.CTAs, want)
	}
	if page.Forms != 1 || page.EmailFields != 1 {
		t.Errorf("forms = %d, email fields = %d", page.Forms, page.EmailFields)
	}
	if page.Images != 2 || page.ImagesNoAlt != 1 {
		t.Errorf("images = %d, without alt = %d", page.Images, page.ImagesNoAlt)
	}
	if page.WordCount == 0 {
		t.Error("expected a word count")
	}
}

func TestScrapeBuildsMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingPage))
	}))
	defer srv.Close()

	page, err := New(5*time.Second, 0).Scrape(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("status = %d", page.StatusCode)
	}
	if !strings.Contains(page.Markdown, "# Grow revenue faster") {
		t.Errorf("markdown missing heading:\n%s", page.Markdown)
	}
	if strings.Contains(page.Markdown, "do not count me") {
		t.Error("script content leaked into markdown")
	}
}

func TestScrapeRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := New(5*time.Second, 0).Scrape(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a 404 page")
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 0); got != "short" {
		t.Fatalf("truncate with no limit = %q", got)
	}
}
