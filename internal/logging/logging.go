// Package logging configures the process-wide logrus logger, matching the
// JSON-formatted, leveled logging the rest of the stack uses, with a hook
// that redacts token-like substrings and sensitive-key metadata before
// any entry is formatted.
package logging

import (
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

var sensitiveKeyPattern = regexp.MustCompile(`(?i)password|secret|token|api[_-]?key`)

// New builds a logrus.Logger at level, JSON-formatted, with the redaction
// hook installed.
func New(level string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logger.AddHook(&redactionHook{})

	return logger
}

// redactionHook scrubs field values whose key looks sensitive before the
// entry is handed to the formatter, so raw tokens never reach stdout.
type redactionHook struct{}

func (h *redactionHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *redactionHook) Fire(entry *logrus.Entry) error {
	for key, val := range entry.Data {
		if sensitiveKeyPattern.MatchString(key) {
			entry.Data[key] = "[REDACTED]"
			continue
		}
		if s, ok := val.(string); ok {
			entry.Data[key] = RedactTokens(s)
		}
	}
	entry.Message = RedactTokens(entry.Message)
	return nil
}

var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+|token[_=:]\s*)[A-Za-z0-9\-_.]{8,}`)

// RedactTokens replaces bearer-token-shaped substrings in s with a
// placeholder, for use anywhere raw request/response text is logged.
func RedactTokens(s string) string {
	return bearerPattern.ReplaceAllString(s, "$1[REDACTED]")
}
