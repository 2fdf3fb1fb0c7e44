// Package screenshot captures full-page screenshots with headless Chromium
// and keeps them in a local directory served under /screenshots.
package screenshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// PublicPrefix is the URL path the screenshot directory is mounted on.
const PublicPrefix = "/screenshots/"

const quality = 80

// Capturer drives a shared headless browser allocator.
type Capturer struct {
	dir     string
	timeout time.Duration

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// New prepares dir and a browser allocator. The browser itself starts lazily
// on the first capture.
func New(dir string, timeout time.Duration, chromePath string) (*Capturer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(1440, 900),
	)
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{dir: dir, timeout: timeout, allocCtx: allocCtx, allocCancel: cancel}, nil
}

// Capture renders rawURL and stores the image as <analysisID>-<position>.jpg.
// It returns the public URL of the file.
func (c *Capturer) Capture(ctx context.Context, analysisID int64, position int, rawURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var buf []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.FullScreenshot(&buf, quality),
	)
	if err != nil {
		return "", fmt.Errorf("screenshot %s: %w", rawURL, err)
	}

	name := fmt.Sprintf("%d-%d.jpg", analysisID, position)
	if err := os.WriteFile(filepath.Join(c.dir, name), buf, 0o644); err != nil {
		return "", fmt.Errorf("store screenshot: %w", err)
	}
	return PublicPrefix + name, nil
}

// Open returns the stored image behind a public screenshot URL.
func (c *Capturer) Open(publicURL string) (io.ReadCloser, error) {
	return OpenFrom(c.dir, publicURL)
}

// Dir is the directory the files are written to.
func (c *Capturer) Dir() string { return c.dir }

func (c *Capturer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
}

// OpenFrom resolves publicURL inside dir, refusing anything outside it.
func OpenFrom(dir, publicURL string) (io.ReadCloser, error) {
	if !strings.HasPrefix(publicURL, PublicPrefix) {
		return nil, fmt.Errorf("not a screenshot url: %q", publicURL)
	}
	name := path.Base(strings.TrimPrefix(publicURL, PublicPrefix))
	if name == "." || name == "/" || name == ".." {
		return nil, fmt.Errorf("not a screenshot url: %q", publicURL)
	}
	return os.Open(filepath.Join(dir, name))
}

// Dir opens stored screenshots without a browser, for readers such as the
// PDF export.
type Dir string

func (d Dir) Open(publicURL string) (io.ReadCloser, error) {
	return OpenFrom(string(d), publicURL)
}
