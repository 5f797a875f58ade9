package message

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// sanitizer strips HTML/script markup and control characters from
// message content, adapted from streamspace's InputValidator (there a
// gin middleware scrubbing request bodies; here a Message Engine method
// scrubbing content at append time).
var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func htmlPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
var whitespacePattern = regexp.MustCompile(`[ \t]+`)

// SanitizeContent strips HTML/script tags and control characters, then
// collapses repeated horizontal whitespace. Newlines are preserved so
// multi-line content survives round-tripping.
func SanitizeContent(raw string) string {
	stripped := htmlPolicy().Sanitize(raw)
	stripped = controlCharPattern.ReplaceAllString(stripped, "")
	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var sensitiveKeyPattern = regexp.MustCompile(`(?i)password|secret|token|api[_-]?key`)

// RedactMetadata walks a JSON object and replaces the value of any key
// matching the sensitive pattern with the literal "[REDACTED]".
func RedactMetadata(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Not a JSON object; leave opaque payloads untouched.
		return raw
	}
	redactInPlace(obj)
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

func redactInPlace(obj map[string]interface{}) {
	for k, v := range obj {
		if sensitiveKeyPattern.MatchString(k) {
			obj[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			redactInPlace(nested)
		}
	}
}
