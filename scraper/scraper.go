// Package scraper fetches a landing page and extracts what the analysis
// prompt needs: copy structure, calls to action and a markdown body.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; PageLensBot/1.0; +https://pagelens.app/bot)"
	maxBodySize      = 5 * 1024 * 1024
)

// Page is the extracted content of one URL.
type Page struct {
	URL             string   `json:"url"`
	FinalURL        string   `json:"final_url"`
	StatusCode      int      `json:"status_code"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	H1              []string `json:"h1"`
	H2              []string `json:"h2"`
	CTAs            []string `json:"ctas"`
	Forms           int      `json:"forms"`
	EmailFields     int      `json:"email_fields"`
	Images          int      `json:"images"`
	ImagesNoAlt     int      `json:"images_without_alt"`
	WordCount       int      `json:"word_count"`
	Markdown        string   `json:"markdown"`
}

type Scraper struct {
	client    *http.Client
	md        *converter.Converter
	maxChars  int
	userAgent string
}

// New returns a scraper whose requests time out after timeout and whose
// markdown bodies are cut at maxChars runes.
func New(timeout time.Duration, maxChars int) *Scraper {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Scraper{
		client: &http.Client{Transport: transport, Timeout: timeout},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		maxChars:  maxChars,
		userAgent: defaultUserAgent,
	}
}

// Scrape downloads rawURL and extracts its page data. Unreachable pages,
// HTTP errors and non-HTML responses are errors.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("fetch %s: unsupported content type %q", rawURL, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	page, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	page.URL = rawURL
	page.FinalURL = resp.Request.URL.String()
	page.StatusCode = resp.StatusCode

	md, err := s.md.ConvertString(string(body), converter.WithDomain(page.FinalURL))
	if err != nil {
		// The structural data is still useful without a markdown body.
		md = ""
	}
	page.Markdown = truncate(strings.TrimSpace(md), s.maxChars)
	return page, nil
}

// Parse extracts the structural page data from an HTML document.
func Parse(content []byte) (*Page, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	page := &Page{}
	var text strings.Builder
	traverse(doc, page, &text)
	page.WordCount = len(strings.Fields(text.String()))
	return page, nil
}

func traverse(n *html.Node, page *Page, text *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "title":
			if page.Title == "" {
				page.Title = textContent(n)
			}
		case "meta":
			if strings.EqualFold(getAttr(n, "name"), "description") {
				page.MetaDescription = strings.TrimSpace(getAttr(n, "content"))
			}
		case "h1":
			if t := textContent(n); t != "" {
				page.H1 = append(page.H1, t)
			}
		case "h2":
			if t := textContent(n); t != "" {
				page.H2 = append(page.H2, t)
			}
		case "button":
			if t := textContent(n); t != "" {
				page.CTAs = append(page.CTAs, t)
			}
		case "a":
			if isCTALink(n) {
				if t := textContent(n); t != "" {
					page.CTAs = append(page.CTAs, t)
				}
			}
		case "input":
			switch strings.ToLower(getAttr(n, "type")) {
			case "submit", "button":
				if v := strings.TrimSpace(getAttr(n, "value")); v != "" {
					page.CTAs = append(page.CTAs, v)
				}
			case "email":
				page.EmailFields++
			}
		case "form":
			page.Forms++
		case "img":
			page.Images++
			if strings.TrimSpace(getAttr(n, "alt")) == "" {
				page.ImagesNoAlt++
			}
		}
	}

	if n.Type == html.TextNode {
		text.WriteString(n.Data)
		text.WriteByte(' ')
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		traverse(c, page, text)
	}
}

// isCTALink reports whether an anchor looks like a call to action rather
// than navigation.
func isCTALink(n *html.Node) bool {
	if _, ok := attr(n, "data-track"); ok {
		return true
	}
	class := strings.ToLower(getAttr(n, "class"))
	for _, hint := range []string{"btn", "button", "cta"} {
		if strings.Contains(class, hint) {
			return true
		}
	}
	return strings.EqualFold(getAttr(n, "role"), "button")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := attr(n, key)
	return v
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
