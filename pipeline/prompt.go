package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"pagelens/api/models"
	"pagelens/api/pagespeed"
	"pagelens/api/scraper"
)

const systemPrompt = `You are a senior conversion-rate optimisation consultant. You review marketing pages and answer with a single JSON object, no prose outside it.`

const defaultPromptTemplate = `Review the following {{len .Pages}} marketing page(s){{if .Industry}} for a business in the {{.Industry}} industry{{end}}.

Score every page from 0 to 100 on five dimensions:
- clarity: is it immediately clear what is offered and for whom?
- value: is the value proposition specific and compelling?
- proof: testimonials, logos, numbers, guarantees and other trust elements.
- design: visual hierarchy, readability, layout.
- flow: does the page lead the visitor to one clear next step?

Answer with JSON of this exact shape:
{"summary": "...", "pages": [{"url": "...", "title": "...", "page_type": "landing|sales|pricing|home|checkout|other",
  "scores": {"clarity": 0, "value": 0, "proof": 0, "design": 0, "flow": 0},
  "feedback": "...",
  "recommendations": {"headline": [{"title": "...", "detail": "...", "priority": "high|medium|low"}],
    "cta": [], "design": [], "trust_elements": [], "funnel_gaps": []}}]}
{{range .Pages}}
=== Page {{.Number}}: {{.URL}} ===
{{- if .Error}}
The page could not be fetched ({{.Error}}). Score it from the URL alone and say so in the feedback.
{{- else}}
Title: {{.Title}}
Meta description: {{.MetaDescription}}
H1: {{join .H1 " | "}}
H2: {{join .H2 " | "}}
Calls to action: {{join .CTAs " | "}}
Forms: {{.Forms}}, email fields: {{.EmailFields}}, images: {{.Images}} ({{.ImagesNoAlt}} without alt text), words: {{.WordCount}}
{{- if .Performance}}
Mobile performance score: {{.Performance.Score}}/100, LCP {{printf "%.0f" .Performance.LCP}}ms, CLS {{printf "%.2f" .Performance.CLS}}
{{- end}}
Content:
{{.Markdown}}
{{- end}}
{{end}}`

type promptPage struct {
	Number int
	URL    string
	Error  string
	*scraper.Page
	Performance *pagespeed.Result
}

type promptData struct {
	Industry string
	Pages    []promptPage
}

func parsePromptTemplate(text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultPromptTemplate
	}
	return template.New("analysis").Funcs(template.FuncMap{"join": strings.Join}).Parse(text)
}

func renderPrompt(tmpl *template.Template, data promptData) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

type llmPage struct {
	URL             string                  `json:"url"`
	Title           string                  `json:"title"`
	PageType        string                  `json:"page_type"`
	Scores          models.Scores           `json:"scores"`
	Feedback        string                  `json:"feedback"`
	Recommendations *models.Recommendations `json:"recommendations"`
}

type llmAnswer struct {
	Summary string    `json:"summary"`
	Pages   []llmPage `json:"pages"`
}

// parseAnswer decodes the model output, tolerating a fenced code block
// around the JSON.
func parseAnswer(raw string) (*llmAnswer, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var ans llmAnswer
	if err := json.Unmarshal([]byte(s), &ans); err != nil {
		return nil, fmt.Errorf("decode model answer: %w", err)
	}
	if len(ans.Pages) == 0 {
		return nil, fmt.Errorf("model answer has no pages")
	}
	return &ans, nil
}

// assign pairs each submitted URL with a model entry. URL matches are made
// first; unmatched pages then take the entry at their position if no other
// page claimed it. Each entry is used at most once.
func (a *llmAnswer) assign(urls []string) []*llmPage {
	out := make([]*llmPage, len(urls))
	used := make([]bool, len(a.Pages))
	for i, u := range urls {
		want := strings.TrimRight(u, "/")
		for j := range a.Pages {
			if used[j] || a.Pages[j].URL == "" {
				continue
			}
			if strings.TrimRight(a.Pages[j].URL, "/") == want {
				out[i] = &a.Pages[j]
				used[j] = true
				break
			}
		}
	}
	for i := range urls {
		if out[i] == nil && i < len(a.Pages) && !used[i] {
			out[i] = &a.Pages[i]
			used[i] = true
		}
	}
	return out
}
