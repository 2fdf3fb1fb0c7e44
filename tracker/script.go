package tracker

import (
	_ "embed"
	"strconv"
	"strings"
)

//go:embed tracker.js
var scriptSource string

// Script returns the browser tracker bound to apiBase and analysisID.
func Script(apiBase string, analysisID int64) string {
	return strings.NewReplacer(
		"__API_BASE__", strings.TrimRight(apiBase, "/"),
		"__ANALYSIS_ID__", strconv.FormatInt(analysisID, 10),
	).Replace(scriptSource)
}
