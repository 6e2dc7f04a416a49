package filemonitor

import (
	"path/filepath"
	"strings"
)

// WatchSource identifies which kind of root produced a notification.
type WatchSource string

const (
	WatchSourceLocal   WatchSource = "Local"
	WatchSourceUSB     WatchSource = "USB"
	WatchSourceNetwork WatchSource = "NetworkShare"
	WatchSourceCloud   WatchSource = "CloudSync"
)

// isExternalSource reports whether src is never subject to noise suppression.
func isExternalSource(src WatchSource) bool {
	return src == WatchSourceUSB || src == WatchSourceNetwork || src == WatchSourceCloud
}

// shouldSuppress implements §4.1's noise-suppression rule. Events from
// external/cloud/network watches are never suppressed, regardless of path
// or extension, per spec.
func (c *Classifier) shouldSuppress(src WatchSource, fullPath string) bool {
	if isExternalSource(src) {
		return false
	}
	if c.queuePath != "" && strings.Contains(strings.ToLower(fullPath), strings.ToLower(c.queuePath)) {
		return true
	}
	return IsNoisePath(fullPath, c.cfg.ExcludedExtensions, c.cfg.ExcludedPaths)
}

// IsNoisePath reports whether fullPath matches the built-in noisy path
// fragments plus the given excluded extensions/paths. It is the same
// predicate the agent applies locally, exported so the aggregation server
// can apply §4.8's query-time suppression to events uploaded by legacy,
// unfiltered agents.
func IsNoisePath(fullPath string, excludedExtensions, excludedPaths []string) bool {
	if fullPath == "" {
		return false
	}
	lower := strings.ToLower(fullPath)

	for _, frag := range noisyPathFragments {
		if strings.Contains(lower, strings.ToLower(frag)) {
			return true
		}
	}

	for _, excluded := range excludedPaths {
		if excluded != "" && strings.Contains(lower, strings.ToLower(excluded)) {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(fullPath))
	for _, noisy := range excludedExtensions {
		if ext == strings.ToLower(noisy) {
			return true
		}
	}

	base := filepath.Base(fullPath)
	return strings.HasPrefix(base, "~") || strings.HasPrefix(base, ".")
}
