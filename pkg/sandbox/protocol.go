// Package sandbox implements the hardened subprocess execution mode for
// untrusted skills: a newline-delimited JSON request/response protocol on
// the child's stdio, a trusted-side Bridge that enforces the capability
// table and a per-invocation call budget, an untrusted-side Proxy presenting
// the capability surface, and the Runner that spawns and supervises the
// child process.
package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/stewardhq/steward/pkg/types/host"
)

// Error codes at the process boundary.
const (
	CodePermissionDenied  = "permission_denied"
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInternalError     = "internal_error"
	CodeMalformedRequest  = "malformed_request"
)

// Request is one capability call from the child. Ids are assigned by the
// proxy, strictly increasing from 1 within one invocation.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response echoes the request id and carries exactly one of result or error.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the error half of a response envelope.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Environment variables carrying the invocation into the child process.
const (
	EnvSkill   = "STEWARD_SKILL"
	EnvHandler = "STEWARD_HANDLER"
	EnvPayload = "STEWARD_PAYLOAD"
)

// Method parameter and result shapes. Both sides share these so the wire
// format never drifts between bridge and proxy.

type SearchMemoryParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchMemoryResult struct {
	Documents []host.Document `json:"documents"`
}

type StoreMemoryParams struct {
	Document host.Document `json:"document"`
}

type StoreMemoryResult struct {
	ID string `json:"id"`
}

type NotifyParams struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type ProposeActionParams struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

type ProposeActionResult struct {
	ID string `json:"id"`
}

type StorageParams struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type StorageGetResult struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type StorageListResult struct {
	Values map[string]string `json:"values"`
}

type IntegrationParams struct {
	Name string `json:"name"`
}

type IntegrationResult struct {
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
}

type CompleteParams struct {
	Prompt string `json:"prompt"`
}

type CompleteResult struct {
	Text string `json:"text"`
}

type PublishEventParams struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type LogParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type ReturnParams struct {
	Result json.RawMessage `json:"result,omitempty"`
}
