// Package capability implements the permission-checked execution surface
// that skill handlers see. Every operation checks the invoking skill's
// permission set against a fixed operation-to-capability table before any
// side effect; the same table is enforced by the sandbox bridge for
// subprocess skills.
package capability

// Capability tokens a manifest may request.
const (
	CapReadMemory    = "read_memory"
	CapWriteMemory   = "write_memory"
	CapNotify        = "notify"
	CapProposeAction = "propose_action"
	CapStorage       = "storage"
	CapIntegrations  = "integrations"
	CapLLM           = "llm"
	CapPublishEvent  = "publish_event"
)

// Operation names. These double as RPC method names in sandboxed mode, so
// the two execution modes enforce an identical surface.
const (
	OpMemorySearch   = "memory.search"
	OpMemoryStore    = "memory.store"
	OpNotify         = "notify"
	OpProposeAction  = "action.propose"
	OpStorageGet     = "storage.get"
	OpStorageSet     = "storage.set"
	OpStorageDelete  = "storage.delete"
	OpStorageList    = "storage.list"
	OpIntegrationGet = "integration.get"
	OpLLMComplete    = "llm.complete"
	OpPublishEvent   = "event.publish"
	OpLog            = "log"
	OpReturn         = "return"
)

// operationCaps is the fixed operation -> required-capability table.
// OpLog and OpReturn are absent: they are unconditionally allowed.
var operationCaps = map[string]string{
	OpMemorySearch:   CapReadMemory,
	OpMemoryStore:    CapWriteMemory,
	OpNotify:         CapNotify,
	OpProposeAction:  CapProposeAction,
	OpStorageGet:     CapStorage,
	OpStorageSet:     CapStorage,
	OpStorageDelete:  CapStorage,
	OpStorageList:    CapStorage,
	OpIntegrationGet: CapIntegrations,
	OpLLMComplete:    CapLLM,
	OpPublishEvent:   CapPublishEvent,
}

// RequiredCapability returns the capability gating an operation. ok=false
// means the operation is not part of the surface at all.
func RequiredCapability(op string) (token string, unconditional bool, ok bool) {
	if op == OpLog || op == OpReturn {
		return "", true, true
	}
	token, found := operationCaps[op]
	return token, false, found
}
