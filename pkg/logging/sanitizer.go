package logging

import (
	"regexp"
)

const (
	// MaxTranscriptLogLength is the maximum number of transcript bytes written to a log line.
	MaxTranscriptLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer credentials, JWT or opaque platform keys alike
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// API keys and OAuth tokens passed as query or form parameters
	tokenParamPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key|access_token|refresh_token|client_secret)=[A-Za-z0-9\-_.~/]{8,}`)

	// OAuth token fields echoed back in JSON error bodies
	tokenJSONPattern = regexp.MustCompile(`(?i)"(access_token|refresh_token|id_token|client_secret)"\s*:\s*"[^"]*"`)

	// user:pass@host format
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a database connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError strips credentials from an error message before it is logged.
// Platform, LLM and Google API errors can echo request headers or token payloads.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeText(err.Error())
}

// SanitizeText applies every redaction pattern to s.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = tokenParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = tokenJSONPattern.ReplaceAllString(sanitized, `"${1}":"`+RedactedText+`"`)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// TranscriptExcerpt returns a short, single-line excerpt of a call transcript for debug logs.
func TranscriptExcerpt(transcript string) string {
	return TruncateString(collapseWhitespace.ReplaceAllString(transcript, " "), MaxTranscriptLogLength)
}

var collapseWhitespace = regexp.MustCompile(`\s+`)

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
