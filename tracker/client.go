// Package tracker is the visitor-side tracking client: it keeps one session
// id per storage scope, fingerprints the device and posts session, page view,
// click and email events to the collection endpoints without blocking the
// caller. The browser rendition of the same client is Script.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagelens/api/models"
	"pagelens/api/utils"
)

const sessionKey = "pagelens_session_id"

// DeviceSignals are the low-entropy inputs of the fingerprint.
type DeviceSignals struct {
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	Timezone     string
	Language     string
	ColorDepth   int
}

// Fingerprint is the hex FNV-1a 64-bit hash of the signals.
func Fingerprint(s DeviceSignals) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%dx%d|%s|%s|%d", s.UserAgent, s.ScreenWidth, s.ScreenHeight, s.Timezone, s.Language, s.ColorDepth)
	return fmt.Sprintf("%016x", h.Sum64())
}

type Options struct {
	BaseURL    string
	AnalysisID int64
	Storage    Storage
	Device     DeviceSignals
	HTTPClient *http.Client
	// Logger receives delivery failures; nil discards them.
	Logger *log.Logger
	// Timeout bounds each post. Defaults to 5s.
	Timeout time.Duration
}

type Client struct {
	base        string
	analysisID  int64
	storage     Storage
	device      DeviceSignals
	fingerprint string
	http        *http.Client
	logger      *log.Logger
	timeout     time.Duration

	mu        sync.Mutex
	sessionID string
	// started is closed once the session post finished; events wait on it.
	started chan struct{}
	wg      sync.WaitGroup
}

func New(opts Options) *Client {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Client{
		base:        strings.TrimRight(opts.BaseURL, "/"),
		analysisID:  opts.AnalysisID,
		storage:     opts.Storage,
		device:      opts.Device,
		fingerprint: Fingerprint(opts.Device),
		http:        opts.HTTPClient,
		logger:      opts.Logger,
		timeout:     opts.Timeout,
	}
}

func (c *Client) Fingerprint() string { return c.fingerprint }

// SessionID returns the stored session id, creating and storing one on first use.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID
	}
	if id, ok := c.storage.Get(sessionKey); ok && id != "" {
		c.sessionID = id
		return id
	}
	c.sessionID = uuid.NewString()
	if err := c.storage.Set(sessionKey, c.sessionID); err != nil {
		c.logf("tracker: storing session id: %v", err)
	}
	return c.sessionID
}

// StartSession registers the session with landing page, referrer and UTM
// parameters taken from landingURL's query.
func (c *Client) StartSession(landingURL, referrer string) {
	req := models.SessionRequest{
		SessionID:   c.SessionID(),
		Fingerprint: c.fingerprint,
		LandingPage: landingURL,
		Referrer:    referrer,
	}
	applyUTM(&req, landingURL)

	done := make(chan struct{})
	c.mu.Lock()
	c.started = done
	c.mu.Unlock()
	c.post("session", req, nil, done)
}

func (c *Client) TrackPageView(pageURL string) {
	c.event(models.EventPageView, pageURL, nil, "")
}

// TrackClick records a click on an element; meta carries tag, text and href.
func (c *Client) TrackClick(pageURL string, meta map[string]string) {
	c.event(models.EventClick, pageURL, meta, "")
}

// CaptureEmail forwards email if it looks like an address; it reports whether
// anything was sent.
func (c *Client) CaptureEmail(pageURL, email string) bool {
	email = strings.TrimSpace(email)
	if !utils.IsTrackableEmail(email) {
		return false
	}
	c.event(models.EventEmailCapture, pageURL, nil, email)
	return true
}

// Wait blocks until every in-flight post has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) event(eventType, pageURL string, meta map[string]string, email string) {
	req := models.EventRequest{
		SessionID: c.SessionID(),
		EventType: eventType,
		PageURL:   pageURL,
		Email:     email,
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err == nil {
			req.Metadata = raw
		}
	}
	c.mu.Lock()
	after := c.started
	c.mu.Unlock()
	c.post("event", req, after, nil)
}

// post sends body in the background. It waits for after, if set, and
// closes done, if set, when finished.
func (c *Client) post(path string, body any, after <-chan struct{}, done chan<- struct{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		c.logf("tracker: encoding %s: %v", path, err)
		if done != nil {
			close(done)
		}
		return
	}
	url := fmt.Sprintf("%s/api/track/%d/%s", c.base, c.analysisID, path)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if done != nil {
			defer close(done)
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if after != nil {
			select {
			case <-after:
			case <-ctx.Done():
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			c.logf("tracker: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if c.device.UserAgent != "" {
			req.Header.Set("User-Agent", c.device.UserAgent)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.logf("tracker: post %s: %v", path, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			c.logf("tracker: post %s: status %d", path, resp.StatusCode)
		}
	}()
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
