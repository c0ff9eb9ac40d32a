package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
)

type recordingNotifier struct {
	sent []string
}

func (n *recordingNotifier) Notify(ctx context.Context, title, message string) error {
	n.sent = append(n.sent, title)
	return nil
}

type stubMemory struct{}

func (stubMemory) Search(ctx context.Context, query string, limit int) ([]host.Document, error) {
	return []host.Document{{ID: "d1", Content: "stub"}}, nil
}

func (stubMemory) Store(ctx context.Context, doc host.Document) (string, error) {
	return "d2", nil
}

func bridgeFor(perms []string, maxCalls int) (*Bridge, *recordingNotifier) {
	notifier := &recordingNotifier{}
	services := &host.Services{
		Memory:   stubMemory{},
		Notifier: notifier,
	}
	capctx := capability.NewContext("sandboxed-skill", skills.NewPermissionSet(perms), services)
	return NewBridge(capctx, maxCalls), notifier
}

// serve feeds request lines through the bridge and returns the responses.
func serve(t *testing.T, b *Bridge, lines ...string) []Response {
	t.Helper()

	input := strings.Join(lines, "\n") + "\n"
	var out bytes.Buffer
	require.NoError(t, b.Serve(context.Background(), strings.NewReader(input), &out))

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestBridge_PermissionDeniedButLogAllowed(t *testing.T) {
	// Scenario: a sandboxed skill holding only "notify" issues a memory
	// search and a log call in the same invocation.
	b, _ := bridgeFor([]string{capability.CapNotify}, 10)

	responses := serve(t, b,
		`{"id":1,"method":"memory.search","params":{"query":"invoices"}}`,
		`{"id":2,"method":"log","params":{"level":"info","message":"still alive"}}`,
	)
	require.Len(t, responses, 2)

	require.NotNil(t, responses[0].Error)
	assert.Equal(t, CodePermissionDenied, responses[0].Error.Code)
	assert.Contains(t, responses[0].Error.Message, "read_memory")
	assert.Equal(t, uint64(1), responses[0].ID)

	assert.Nil(t, responses[1].Error)
	assert.Equal(t, uint64(2), responses[1].ID)
}

func TestBridge_PermissionDeniedHasNoSideEffect(t *testing.T) {
	b, notifier := bridgeFor(nil, 10)

	responses := serve(t, b, `{"id":1,"method":"notify","params":{"title":"hi"}}`)
	require.Len(t, responses, 1)
	assert.Equal(t, CodePermissionDenied, responses[0].Error.Code)
	assert.Empty(t, notifier.sent)
}

func TestBridge_CallBudget(t *testing.T) {
	// Scenario: more calls than the configured maximum; all prior calls
	// succeed, the call that exceeds the budget is rejected.
	b, notifier := bridgeFor([]string{capability.CapNotify}, 3)

	var lines []string
	for i := 1; i <= 5; i++ {
		lines = append(lines, fmt.Sprintf(`{"id":%d,"method":"notify","params":{"title":"n%d"}}`, i, i))
	}
	responses := serve(t, b, lines...)
	require.Len(t, responses, 5)

	for i := 0; i < 3; i++ {
		assert.Nil(t, responses[i].Error, "call %d should succeed", i+1)
	}
	for i := 3; i < 5; i++ {
		require.NotNil(t, responses[i].Error, "call %d should be rejected", i+1)
		assert.Equal(t, CodeRateLimitExceeded, responses[i].Error.Code)
	}
	assert.Len(t, notifier.sent, 3)
}

func TestBridge_BudgetAppliesRegardlessOfPermission(t *testing.T) {
	b, _ := bridgeFor([]string{capability.CapNotify}, 1)

	responses := serve(t, b,
		`{"id":1,"method":"notify","params":{"title":"ok"}}`,
		`{"id":2,"method":"log","params":{"level":"info","message":"over budget"}}`,
	)
	require.Len(t, responses, 2)
	assert.Nil(t, responses[0].Error)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, CodeRateLimitExceeded, responses[1].Error.Code)
}

func TestBridge_IDEcho(t *testing.T) {
	b, _ := bridgeFor([]string{capability.CapReadMemory}, 10)

	responses := serve(t, b,
		`{"id":1,"method":"memory.search","params":{"query":"a"}}`,
		`{"id":2,"method":"memory.search","params":{"query":"b"}}`,
		`{"id":3,"method":"memory.search","params":{"query":"c"}}`,
	)
	require.Len(t, responses, 3)
	for i, resp := range responses {
		assert.Equal(t, uint64(i+1), resp.ID)
		assert.Nil(t, resp.Error)
	}
}

func TestBridge_MalformedRequest(t *testing.T) {
	b, _ := bridgeFor(nil, 10)

	responses := serve(t, b, `{"id": not json`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, CodeMalformedRequest, responses[0].Error.Code)
}

func TestBridge_UnknownMethod(t *testing.T) {
	b, _ := bridgeFor(nil, 10)

	responses := serve(t, b, `{"id":1,"method":"filesystem.read"}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, CodeMalformedRequest, responses[0].Error.Code)
	assert.Equal(t, uint64(1), responses[0].ID)
}

func TestBridge_InternalErrorPreservesMessage(t *testing.T) {
	// No LLM configured: dispatch fails inside the host operation.
	b, _ := bridgeFor([]string{capability.CapLLM}, 10)

	responses := serve(t, b, `{"id":1,"method":"llm.complete","params":{"prompt":"hello"}}`)
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, CodeInternalError, responses[0].Error.Code)
	assert.Contains(t, responses[0].Error.Message, "not configured")
}

func TestBridge_ReturnCapturesResult(t *testing.T) {
	b, _ := bridgeFor(nil, 10)

	responses := serve(t, b, `{"id":1,"method":"return","params":{"result":{"count":7}}}`)
	require.Len(t, responses, 1)
	assert.Nil(t, responses[0].Error)

	result, ok := b.Result()
	require.True(t, ok)
	assert.JSONEq(t, `{"count":7}`, string(result))
}

func TestBridge_NoReturnMeansNoResult(t *testing.T) {
	b, _ := bridgeFor(nil, 10)
	serve(t, b, `{"id":1,"method":"log","params":{"level":"info","message":"bye"}}`)

	_, ok := b.Result()
	assert.False(t, ok)
}
