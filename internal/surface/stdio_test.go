package surface

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-context/mcp-server/internal/observability"
)

const testStdioAPIKey = "stdio-bootstrap-key"

func buildTestStdioServer(t *testing.T) *StdioServer {
	t.Helper()
	registry, idSvc := buildTestSurface(t)
	return NewStdioServer(registry, idSvc, observability.New(), testStdioAPIKey, nil, nil)
}

func readStdioResponses(t *testing.T, out *bytes.Buffer, n int) []stdioResponse {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	responses := make([]stdioResponse, 0, n)
	for scanner.Scan() {
		var resp stdioResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, n)
	return responses
}

func TestStdioServerBootstrapsThenDispatchesOverBearerToken(t *testing.T) {
	server := buildTestStdioServer(t)

	authLine := map[string]interface{}{
		"id":      "1",
		"tool":    "authenticate_agent",
		"api_key": testStdioAPIKey,
		"args": map[string]interface{}{
			"agent_id":    "agent-worker",
			"agent_type":  "worker",
			"permissions": []string{"read", "write"},
		},
	}
	authRaw, err := json.Marshal(authLine)
	require.NoError(t, err)

	in := bytes.NewBufferString(string(authRaw) + "\n")
	var out bytes.Buffer
	require.NoError(t, server.Serve(context.Background(), in, &out))

	responses := readStdioResponses(t, &out, 1)
	require.True(t, responses[0].Success)
	resultMap, ok := responses[0].Result.(map[string]interface{})
	require.True(t, ok)
	token, _ := resultMap["PlaintextToken"].(string)
	require.NotEmpty(t, token)

	createLine := map[string]interface{}{
		"id":    "2",
		"tool":  "create_session",
		"token": token,
		"args":  map[string]interface{}{"purpose": "stdio round trip"},
	}
	createRaw, err := json.Marshal(createLine)
	require.NoError(t, err)

	in2 := bytes.NewBufferString(string(createRaw) + "\n")
	var out2 bytes.Buffer
	require.NoError(t, server.Serve(context.Background(), in2, &out2))

	responses2 := readStdioResponses(t, &out2, 1)
	assert.True(t, responses2[0].Success)
}

func TestStdioServerRejectsAuthenticateAgentWithoutAPIKey(t *testing.T) {
	server := buildTestStdioServer(t)

	line := map[string]interface{}{
		"id":   "1",
		"tool": "authenticate_agent",
		"args": map[string]interface{}{"agent_id": "agent-worker", "agent_type": "worker"},
	}
	raw, err := json.Marshal(line)
	require.NoError(t, err)

	in := bytes.NewBufferString(string(raw) + "\n")
	var out bytes.Buffer
	require.NoError(t, server.Serve(context.Background(), in, &out))

	responses := readStdioResponses(t, &out, 1)
	require.False(t, responses[0].Success)
	require.NotNil(t, responses[0].Envelope)
	assert.Equal(t, "unauthenticated", string(responses[0].Envelope.Code))
}

func TestStdioServerRejectsToolCallsWithoutToken(t *testing.T) {
	server := buildTestStdioServer(t)

	line := map[string]interface{}{
		"id":   "1",
		"tool": "create_session",
		"args": map[string]interface{}{"purpose": "no token"},
	}
	raw, err := json.Marshal(line)
	require.NoError(t, err)

	in := bytes.NewBufferString(string(raw) + "\n")
	var out bytes.Buffer
	require.NoError(t, server.Serve(context.Background(), in, &out))

	responses := readStdioResponses(t, &out, 1)
	require.False(t, responses[0].Success)
	require.NotNil(t, responses[0].Envelope)
	assert.Equal(t, "unauthenticated", string(responses[0].Envelope.Code))
}

func TestStdioServerHandlesMultipleFramesInOrder(t *testing.T) {
	server := buildTestStdioServer(t)

	var in bytes.Buffer
	for i := 0; i < 3; i++ {
		line := map[string]interface{}{
			"id":   string(rune('a' + i)),
			"tool": "authenticate_agent",
		}
		raw, err := json.Marshal(line)
		require.NoError(t, err)
		in.Write(raw)
		in.WriteByte('\n')
	}

	var out bytes.Buffer
	require.NoError(t, server.Serve(context.Background(), &in, &out))

	responses := readStdioResponses(t, &out, 3)
	assert.Equal(t, "a", responses[0].ID)
	assert.Equal(t, "b", responses[1].ID)
	assert.Equal(t, "c", responses[2].ID)
	for _, r := range responses {
		assert.False(t, r.Success)
	}
}
