// Package pagespeed fetches the Lighthouse performance signal for a page from
// the PageSpeed Insights API.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Result holds the metrics passed on to the analysis prompt.
type Result struct {
	URL        string  `json:"url"`
	Strategy   string  `json:"strategy"`
	Score      int     `json:"score"`
	LCP        float64 `json:"lcp_ms"`
	FCP        float64 `json:"fcp_ms"`
	CLS        float64 `json:"cls"`
	TBT        float64 `json:"tbt_ms"`
	SpeedIndex float64 `json:"speed_index_ms"`
}

type psiResponse struct {
	LighthouseResult *struct {
		Categories map[string]struct {
			Score float64 `json:"score"`
		} `json:"categories"`
		Audits map[string]struct {
			NumericValue float64 `json:"numericValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter

	cacheMu sync.RWMutex
	cache   map[string]*Result
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		cache:    make(map[string]*Result),
	}
}

// WithEndpoint points the client at another API base, used in tests.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// Fetch returns the mobile performance metrics for targetURL. Results are
// cached for the life of the client.
func (c *Client) Fetch(ctx context.Context, targetURL string) (*Result, error) {
	const strategy = "mobile"
	key := strategy + ":" + targetURL

	c.cacheMu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("url", targetURL)
	q.Set("strategy", strategy)
	q.Set("category", "performance")
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create pagespeed request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pagespeed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pagespeed returned status %d", resp.StatusCode)
	}

	var psi psiResponse
	if err := json.NewDecoder(resp.Body).Decode(&psi); err != nil {
		return nil, fmt.Errorf("decode pagespeed response: %w", err)
	}
	if psi.LighthouseResult == nil {
		return nil, fmt.Errorf("pagespeed response has no lighthouse result")
	}

	lr := psi.LighthouseResult
	result := &Result{URL: targetURL, Strategy: strategy}
	if perf, ok := lr.Categories["performance"]; ok {
		result.Score = int(perf.Score*100 + 0.5)
	}
	result.LCP = lr.Audits["largest-contentful-paint"].NumericValue
	result.FCP = lr.Audits["first-contentful-paint"].NumericValue
	result.CLS = lr.Audits["cumulative-layout-shift"].NumericValue
	result.TBT = lr.Audits["total-blocking-time"].NumericValue
	result.SpeedIndex = lr.Audits["speed-index"].NumericValue

	c.cacheMu.Lock()
	c.cache[key] = result
	c.cacheMu.Unlock()
	return result, nil
}
