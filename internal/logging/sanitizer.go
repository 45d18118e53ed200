package logging

import (
	"regexp"
)

// Sanitizer redacts sensitive information from log messages.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

// defaultPatterns covers the credential shapes this engine's own tracker
// backends and agent invocations can leak into a log line: the Linear
// client's bearer API key (internal/trackers/linear), the gh CLI's PAT/
// OAuth tokens (internal/trackers/github shells out to gh, which reads
// GH_TOKEN or a keyring-cached token), and the generic key=value shapes an
// agent's stdout or a future tracker backend might echo back.
func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// GitHub personal access token, as read by the gh CLI wrapper.
		`ghp_[A-Za-z0-9]{36}`,
		// GitHub OAuth token (gh auth login).
		`gho_[A-Za-z0-9]{36}`,
		// GitHub App installation/server tokens.
		`ghu_[A-Za-z0-9]{36}`,
		`ghs_[A-Za-z0-9]{36}`,
		// Linear-shaped personal API key, passed as the tracker.linear.api_key
		// config value and sent as a bearer token by internal/trackers/linear.
		`lin_api_[A-Za-z0-9]{30,}`,
		// Generic Bearer tokens, covering the Authorization header any
		// Tracker Port implementation sends.
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys, key=value or key: value.
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic secrets.
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic passwords, e.g. a DSN embedded in tracker.local.db_path.
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		// Generic tokens.
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// SanitizeMap redacts values in a map.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range m {
		switch val := v.(type) {
		case string:
			result[k] = s.Sanitize(val)
		case map[string]interface{}:
			result[k] = s.SanitizeMap(val)
		default:
			result[k] = v
		}
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}

// SetRedactedPlaceholder sets the placeholder text for redacted content.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.redacted = placeholder
}
