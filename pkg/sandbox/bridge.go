package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/stewardhq/steward/pkg/capability"
	"github.com/stewardhq/steward/pkg/logger"
	"github.com/stewardhq/steward/pkg/types/host"
)

// DefaultMaxCalls is the per-invocation RPC call budget when the host
// config does not set one.
const DefaultMaxCalls = 64

// Bridge is the trusted-side dispatcher for one sandboxed invocation. Every
// request passes, in order, the method-to-capability table (log and return
// are unconditional), the per-invocation call budget, and only then reaches
// the concrete host operation through the same capability context used for
// in-process skills. A Bridge is single-use: one invocation, one Bridge.
type Bridge struct {
	capctx   *capability.Context
	maxCalls int
	calls    int

	result   json.RawMessage
	returned bool
}

// NewBridge creates a bridge around one invocation's capability context.
func NewBridge(capctx *capability.Context, maxCalls int) *Bridge {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	return &Bridge{capctx: capctx, maxCalls: maxCalls}
}

// Serve reads request envelopes line by line until EOF and writes one
// response line per request. It returns an error only for I/O breaks on the
// write side; protocol-level failures travel back as error envelopes.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := b.handle(ctx, line)
		out, err := json.Marshal(resp)
		if err != nil {
			return errors.Wrap(err, "failed to encode response")
		}
		out = append(out, '\n')
		if _, err := w.Write(out); err != nil {
			return errors.Wrap(err, "failed to write response to child")
		}
	}
	return errors.Wrap(scanner.Err(), "failed reading from child")
}

// Result returns the value the handler delivered through the return method.
func (b *Bridge) Result() (json.RawMessage, bool) {
	return b.result, b.returned
}

func (b *Bridge) handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: &RPCError{Code: CodeMalformedRequest, Message: "unparseable request envelope"}}
	}

	token, unconditional, known := capability.RequiredCapability(req.Method)
	if !known {
		return Response{ID: req.ID, Error: &RPCError{Code: CodeMalformedRequest, Message: "unknown method " + req.Method}}
	}
	if !unconditional && !b.capctx.HasCapability(token) {
		logger.G(ctx).WithField("skill", b.capctx.Skill()).
			WithField("method", req.Method).
			WithField("capability", token).
			Warn("sandboxed request denied")
		return Response{ID: req.ID, Error: &RPCError{
			Code:    CodePermissionDenied,
			Message: (&capability.PermissionDeniedError{Skill: b.capctx.Skill(), Capability: token, Operation: req.Method}).Error(),
		}}
	}

	// The return method delivers the handler result and does not count
	// against the budget; everything else does.
	if req.Method != capability.OpReturn {
		b.calls++
		if b.calls > b.maxCalls {
			return Response{ID: req.ID, Error: &RPCError{
				Code:    CodeRateLimitExceeded,
				Message: errors.Errorf("per-invocation call budget of %d exceeded", b.maxCalls).Error(),
			}}
		}
	}

	result, err := b.dispatch(ctx, req)
	if err != nil {
		if capability.IsPermissionDenied(err) {
			return Response{ID: req.ID, Error: &RPCError{Code: CodePermissionDenied, Message: err.Error()}}
		}
		return Response{ID: req.ID, Error: &RPCError{Code: CodeInternalError, Message: err.Error()}}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: &RPCError{Code: CodeInternalError, Message: "failed to encode result"}}
	}
	return Response{ID: req.ID, Result: raw}
}

func (b *Bridge) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case capability.OpLog:
		var p LogParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		b.capctx.Log(ctx, p.Level, p.Message)
		return struct{}{}, nil

	case capability.OpReturn:
		var p ReturnParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		b.result = p.Result
		b.returned = true
		return struct{}{}, nil

	case capability.OpMemorySearch:
		var p SearchMemoryParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		docs, err := b.capctx.SearchMemory(ctx, p.Query, p.Limit)
		if err != nil {
			return nil, err
		}
		if docs == nil {
			docs = []host.Document{}
		}
		return SearchMemoryResult{Documents: docs}, nil

	case capability.OpMemoryStore:
		var p StoreMemoryParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := b.capctx.StoreMemory(ctx, p.Document)
		if err != nil {
			return nil, err
		}
		return StoreMemoryResult{ID: id}, nil

	case capability.OpNotify:
		var p NotifyParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, b.capctx.Notify(ctx, p.Title, p.Message)

	case capability.OpProposeAction:
		var p ProposeActionParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		id, err := b.capctx.ProposeAction(ctx, p.Action, p.Params)
		if err != nil {
			return nil, err
		}
		return ProposeActionResult{ID: id}, nil

	case capability.OpStorageGet:
		var p StorageParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		value, found, err := b.capctx.GetValue(ctx, p.Key)
		if err != nil {
			return nil, err
		}
		return StorageGetResult{Value: value, Found: found}, nil

	case capability.OpStorageSet:
		var p StorageParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, b.capctx.SetValue(ctx, p.Key, p.Value)

	case capability.OpStorageDelete:
		var p StorageParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, b.capctx.DeleteValue(ctx, p.Key)

	case capability.OpStorageList:
		values, err := b.capctx.ListValues(ctx)
		if err != nil {
			return nil, err
		}
		return StorageListResult{Values: values}, nil

	case capability.OpIntegrationGet:
		var p IntegrationParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		client, err := b.capctx.Integration(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return IntegrationResult{Name: client.Name(), Authenticated: true}, nil

	case capability.OpLLMComplete:
		var p CompleteParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		text, err := b.capctx.Complete(ctx, p.Prompt)
		if err != nil {
			return nil, err
		}
		return CompleteResult{Text: text}, nil

	case capability.OpPublishEvent:
		var p PublishEventParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, b.capctx.PublishEvent(ctx, p.Type, p.Payload)
	}

	return nil, errors.Errorf("unhandled method %s", req.Method)
}

func unmarshalParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "invalid params")
}
