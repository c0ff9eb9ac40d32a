package sandbox

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
)

// pipedProxy wires a proxy to a live bridge over in-memory pipes, the same
// conversation shape the runner establishes over a child's stdio.
func pipedProxy(t *testing.T, perms []string, maxCalls int) (*Proxy, *Bridge, func()) {
	t.Helper()

	services := &host.Services{
		Memory:   stubMemory{},
		Notifier: &recordingNotifier{},
	}
	capctx := capability.NewContext("piped-skill", skills.NewPermissionSet(perms), services)
	bridge := NewBridge(capctx, maxCalls)

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Serve(context.Background(), reqR, respW)
		respW.Close()
	}()

	proxy := NewProxy(respR, reqW)
	cleanup := func() {
		reqW.Close()
		<-done
	}
	return proxy, bridge, cleanup
}

func TestProxy_SequentialIDs(t *testing.T) {
	proxy, _, cleanup := pipedProxy(t, []string{capability.CapReadMemory}, 10)
	defer cleanup()

	for i := 0; i < 4; i++ {
		docs, err := proxy.SearchMemory("anything", 5)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	}
	// Ids 1..4 consumed; the next call carries 5.
	assert.Equal(t, uint64(4), proxy.nextID)
}

func TestProxy_RemoteErrorCarriesCodeAndMessage(t *testing.T) {
	proxy, _, cleanup := pipedProxy(t, nil, 10)
	defer cleanup()

	_, err := proxy.SearchMemory("secrets", 5)
	require.Error(t, err)
	assert.True(t, IsRemoteError(err, CodePermissionDenied))
	assert.Contains(t, err.Error(), "read_memory")
}

func TestProxy_LogAllowedWithoutPermissions(t *testing.T) {
	proxy, _, cleanup := pipedProxy(t, nil, 10)
	defer cleanup()

	assert.NoError(t, proxy.Log("info", "hello from the sandbox"))
}

func TestProxy_ReturnDeliversResult(t *testing.T) {
	proxy, bridge, cleanup := pipedProxy(t, nil, 10)

	require.NoError(t, proxy.Return(map[string]any{"handled": true}))
	cleanup()

	result, ok := bridge.Result()
	require.True(t, ok)
	assert.JSONEq(t, `{"handled":true}`, string(result))
}

func TestProxy_RateLimitAfterBudget(t *testing.T) {
	proxy, _, cleanup := pipedProxy(t, []string{capability.CapNotify}, 2)
	defer cleanup()

	require.NoError(t, proxy.Notify("one", ""))
	require.NoError(t, proxy.Notify("two", ""))

	err := proxy.Notify("three", "")
	require.Error(t, err)
	assert.True(t, IsRemoteError(err, CodeRateLimitExceeded))
}

func TestProxy_StorageRoundTripThroughBridge(t *testing.T) {
	services := &host.Services{Storage: newMapKV()}
	capctx := capability.NewContext("kv-skill", skills.NewPermissionSet([]string{capability.CapStorage}), services)
	bridge := NewBridge(capctx, 10)

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		_ = bridge.Serve(context.Background(), reqR, respW)
		respW.Close()
	}()
	proxy := NewProxy(respR, reqW)
	defer reqW.Close()

	require.NoError(t, proxy.SetValue("cursor", "42"))

	value, found, err := proxy.GetValue("cursor")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", value)

	_, found, err = proxy.GetValue("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

// mapKV is a minimal in-memory host.KVStore for proxy tests.
type mapKV struct {
	data map[string]map[string]string
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string]map[string]string{}}
}

func (m *mapKV) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, ok := m.data[namespace][key]
	return v, ok, nil
}

func (m *mapKV) Set(ctx context.Context, namespace, key, value string) error {
	if m.data[namespace] == nil {
		m.data[namespace] = map[string]string{}
	}
	m.data[namespace][key] = value
	return nil
}

func (m *mapKV) Delete(ctx context.Context, namespace, key string) error {
	delete(m.data[namespace], key)
	return nil
}

func (m *mapKV) List(ctx context.Context, namespace string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.data[namespace] {
		out[k] = v
	}
	return out, nil
}
