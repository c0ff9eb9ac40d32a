package sandbox

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/skills"
	"github.com/stewardhq/steward/pkg/types/host"
)

// Proxy is the untrusted-side stub: it presents the capability surface
// inside the child process and serializes every call as a request envelope.
// Handler executables written in Go construct one over their stdio. The
// proxy never holds host service references; everything crosses the
// process boundary.
type Proxy struct {
	w       io.Writer
	scanner *bufio.Scanner
	nextID  uint64
}

// NewProxy creates a proxy over a request writer and response reader.
func NewProxy(r io.Reader, w io.Writer) *Proxy {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Proxy{w: w, scanner: scanner}
}

// NewStdioProxy creates the proxy a handler executable uses: requests on
// stdout, responses on stdin.
func NewStdioProxy() *Proxy {
	return NewProxy(os.Stdin, os.Stdout)
}

// Payload decodes the invocation the host passed through the environment.
func Payload() (skills.Invocation, error) {
	var inv skills.Invocation
	raw := os.Getenv(EnvPayload)
	if raw == "" {
		return inv, errors.New(EnvPayload + " is not set")
	}
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		return inv, errors.Wrap(err, "invalid invocation payload")
	}
	return inv, nil
}

// call sends one request and blocks for its response. Ids are strictly
// increasing from 1 and the response id must echo the request id exactly;
// a mismatch means the channel is corrupt and the invocation is abandoned.
func (p *Proxy) call(method string, params any, out any) error {
	p.nextID++
	id := p.nextID

	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to encode params")
		}
		raw = encoded
	}

	line, err := json.Marshal(Request{ID: id, Method: method, Params: raw})
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	line = append(line, '\n')
	if _, err := p.w.Write(line); err != nil {
		return errors.Wrap(err, "failed to write request")
	}

	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return errors.Wrap(err, "failed to read response")
		}
		return errors.New("connection closed before response")
	}

	var resp Response
	if err := json.Unmarshal(p.scanner.Bytes(), &resp); err != nil {
		return errors.Wrap(err, "unparseable response envelope")
	}
	if resp.ID != id {
		return errors.Errorf("response id %d does not match request id %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errors.Wrap(err, "failed to decode result")
		}
	}
	return nil
}

// Log writes a skill-attributed log line on the host. Always permitted.
func (p *Proxy) Log(level, message string) error {
	return p.call(capability.OpLog, LogParams{Level: level, Message: message}, nil)
}

// SearchMemory queries the host's knowledge/memory store.
func (p *Proxy) SearchMemory(query string, limit int) ([]host.Document, error) {
	var result SearchMemoryResult
	if err := p.call(capability.OpMemorySearch, SearchMemoryParams{Query: query, Limit: limit}, &result); err != nil {
		return nil, err
	}
	return result.Documents, nil
}

// StoreMemory writes a document to the host's knowledge/memory store.
func (p *Proxy) StoreMemory(doc host.Document) (string, error) {
	var result StoreMemoryResult
	if err := p.call(capability.OpMemoryStore, StoreMemoryParams{Document: doc}, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// Notify sends a user-facing notification.
func (p *Proxy) Notify(title, message string) error {
	return p.call(capability.OpNotify, NotifyParams{Title: title, Message: message}, nil)
}

// ProposeAction submits an action awaiting user approval.
func (p *Proxy) ProposeAction(action string, params map[string]any) (string, error) {
	var result ProposeActionResult
	if err := p.call(capability.OpProposeAction, ProposeActionParams{Action: action, Params: params}, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// GetValue reads from the skill's durable storage.
func (p *Proxy) GetValue(key string) (string, bool, error) {
	var result StorageGetResult
	if err := p.call(capability.OpStorageGet, StorageParams{Key: key}, &result); err != nil {
		return "", false, err
	}
	return result.Value, result.Found, nil
}

// SetValue writes to the skill's durable storage.
func (p *Proxy) SetValue(key, value string) error {
	return p.call(capability.OpStorageSet, StorageParams{Key: key, Value: value}, nil)
}

// DeleteValue removes a key from the skill's durable storage.
func (p *Proxy) DeleteValue(key string) error {
	return p.call(capability.OpStorageDelete, StorageParams{Key: key}, nil)
}

// ListValues returns the skill's full storage namespace.
func (p *Proxy) ListValues() (map[string]string, error) {
	var result StorageListResult
	if err := p.call(capability.OpStorageList, nil, &result); err != nil {
		return nil, err
	}
	return result.Values, nil
}

// Integration authenticates and returns metadata for a named integration.
func (p *Proxy) Integration(name string) (IntegrationResult, error) {
	var result IntegrationResult
	err := p.call(capability.OpIntegrationGet, IntegrationParams{Name: name}, &result)
	return result, err
}

// Complete sends a completion request down the host's LLM path.
func (p *Proxy) Complete(prompt string) (string, error) {
	var result CompleteResult
	if err := p.call(capability.OpLLMComplete, CompleteParams{Prompt: prompt}, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

// PublishEvent emits an event on the host-wide bus.
func (p *Proxy) PublishEvent(eventType string, payload any) error {
	return p.call(capability.OpPublishEvent, PublishEventParams{Type: eventType, Payload: payload}, nil)
}

// Return delivers the handler's result to the host. Call it once, last.
func (p *Proxy) Return(result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "failed to encode handler result")
	}
	return p.call(capability.OpReturn, ReturnParams{Result: raw}, nil)
}

// IsRemoteError reports whether err is an error envelope from the bridge
// with the given code.
func IsRemoteError(err error, code string) bool {
	var remote *RPCError
	return errors.As(err, &remote) && remote.Code == code
}
