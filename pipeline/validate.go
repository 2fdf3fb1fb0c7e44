package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrValidation marks requests rejected before any work starts.
	ErrValidation = errors.New("invalid analysis request")
	// ErrUnreachable is returned when none of the submitted pages could be fetched.
	ErrUnreachable = errors.New("none of the submitted pages could be reached")
	// ErrAnalysisFailed is returned when the model could not produce a report.
	ErrAnalysisFailed = errors.New("analysis failed, please retry")
)

// ValidateURLs trims and checks the submitted URLs. Every entry must be an
// absolute http(s) URL with a host, and there must be between 1 and limit.
func ValidateURLs(raw []string, limit int) ([]string, error) {
	urls := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			urls = append(urls, r)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one URL is required", ErrValidation)
	}
	if len(urls) > limit {
		return nil, fmt.Errorf("%w: at most %d URLs can be analyzed at once", ErrValidation, limit)
	}
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("%w: %q is not a valid http(s) URL", ErrValidation, u)
		}
	}
	return urls, nil
}
