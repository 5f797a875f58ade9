package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeContentStripsHTML(t *testing.T) {
	got := SanitizeContent("hello <script>alert(1)</script>world")
	assert.NotContains(t, got, "<script>")
	assert.Contains(t, got, "hello")
}

func TestSanitizeContentStripsControlChars(t *testing.T) {
	got := SanitizeContent("hello\x00\x07world")
	assert.Equal(t, "helloworld", got)
}

func TestSanitizeContentCollapsesWhitespaceButKeepsNewlines(t *testing.T) {
	got := SanitizeContent("line one   has   spaces\nline   two")
	assert.Equal(t, "line one has spaces\nline two", got)
}

func TestRedactMetadataMasksSensitiveKeys(t *testing.T) {
	raw := json.RawMessage(`{"api_key":"sk-123","note":"keep me","nested":{"password":"hunter2"}}`)
	out := RedactMetadata(raw)

	var obj map[string]interface{}
	require := assert.New(t)
	require.NoError(json.Unmarshal(out, &obj))
	require.Equal("[REDACTED]", obj["api_key"])
	require.Equal("keep me", obj["note"])

	nested := obj["nested"].(map[string]interface{})
	require.Equal("[REDACTED]", nested["password"])
}

func TestRedactMetadataHandlesEmptyInput(t *testing.T) {
	out := RedactMetadata(nil)
	assert.Equal(t, json.RawMessage(`{}`), out)
}

func TestRedactMetadataLeavesNonObjectPayloadsUntouched(t *testing.T) {
	raw := json.RawMessage(`"just a string"`)
	out := RedactMetadata(raw)
	assert.Equal(t, raw, out)
}
