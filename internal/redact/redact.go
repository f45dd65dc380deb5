// Package redact masks sensitive material before it reaches log output or
// error responses. The scheduler handles external-service credentials and
// broker endpoints; neither may appear verbatim in logs.
package redact

import (
	"regexp"
)

// Placeholders substituted for matched sensitive content.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
)

var (
	// Broker and database connection strings with inline credentials.
	connStringRegex = regexp.MustCompile(`(?i)(amqp|redis|postgres|mysql|mongodb)://[^@\s]+@`)

	// API keys, tokens, and secrets in key=value or key: value form.
	apiKeyRegex = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|credential|key|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// Bare host:port endpoints.
	hostPortRegex = regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}:\d{1,5}\b`,
	)

	patternPlaceholders = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{connStringRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
		{hostPortRegex, RedactedHostPlaceholder},
	}
)

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, p := range patternPlaceholders {
		result = p.pattern.ReplaceAllString(result, p.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// CredentialID masks a credential identifier for logging, keeping just
// enough of a prefix to correlate log lines with configuration.
func CredentialID(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:4] + "****"
}
