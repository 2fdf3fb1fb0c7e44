// Package apiclient is a small HTTP client for the PageLens API, used by the
// command line.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pagelens/api/models"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

type Client struct {
	base   string
	tokens TokenStore
	http   *http.Client
}

func New(baseURL string, tokens TokenStore, httpClient *http.Client) *Client {
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	if httpClient == nil {
		// Analyses run synchronously and can take minutes.
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), tokens: tokens, http: httpClient}
}

// Login signs in with a password and stores the returned tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*models.User, error) {
	var pair models.TokenPair
	err := c.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Email: email, Password: password}, nil, false, &pair)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.Save(Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}); err != nil {
		return nil, err
	}
	return pair.User, nil
}

// Analyze runs an analysis. progressToken, when set, is sent as
// X-Progress-Token so Progress can poll it while the call is in flight.
func (c *Client) Analyze(ctx context.Context, req models.AnalyzeRequest, progressToken string) (*models.Analysis, error) {
	var header http.Header
	if progressToken != "" {
		header = http.Header{"X-Progress-Token": []string{progressToken}}
	}
	var out models.Analysis
	if err := c.do(ctx, http.MethodPost, "/api/analyze", req, header, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Progress(ctx context.Context, key string) (*models.Progress, error) {
	var out models.Progress
	if err := c.do(ctx, http.MethodGet, "/api/analysis/progress/"+url.PathEscape(key), nil, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Membership(ctx context.Context) (*models.MembershipStatus, error) {
	var out models.MembershipStatus
	if err := c.do(ctx, http.MethodGet, "/api/membership/status", nil, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) refresh(ctx context.Context) (bool, error) {
	t, err := c.tokens.Load()
	if err != nil || t.RefreshToken == "" {
		return false, err
	}
	var pair models.TokenPair
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", models.RefreshRequest{RefreshToken: t.RefreshToken}, nil, false, &pair); err != nil {
		return false, err
	}
	return true, c.tokens.Save(Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// do sends the request; with auth set it attaches the stored access token
// and retries once after refreshing on 401.
func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, auth bool, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if auth {
			t, err := c.tokens.Load()
			if err != nil {
				return err
			}
			if t.AccessToken != "" {
				req.Header.Set("Authorization", "Bearer "+t.AccessToken)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && auth && attempt == 0 {
			if ok, err := c.refresh(ctx); err == nil && ok {
				continue
			}
		}
		if resp.StatusCode >= 300 {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(data, &e)
			if e.Error == "" {
				e.Error = strings.TrimSpace(string(data))
			}
			return &APIError{Status: resp.StatusCode, Message: e.Error}
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
		}
		return nil
	}
}
