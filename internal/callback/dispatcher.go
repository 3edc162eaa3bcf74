// Package callback turns server-initiated control requests (hooks,
// permission prompts) into application callback invocations and the reply
// frames the Control Protocol Engine writes back to the child.
package callback

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentcli/sdk-go/internal/logging"
	"github.com/agentcli/sdk-go/internal/protocol"
)

// DefaultHookTimeout is used for a HookRegistration with no DeadlineSecs.
const DefaultHookTimeout = 60 * time.Second

// maxConcurrentCallbacks bounds how many hook/permission callbacks may run
// at once across the whole dispatcher.
const maxConcurrentCallbacks = 8

// Dispatcher implements protocol.ControlRequestHandler.
type Dispatcher struct {
	hooks      []HookRegistration
	permission PermissionPolicy

	defaultHookTimeout time.Duration
	slots               chan struct{}
}

// New builds a Dispatcher from the registrations and policy supplied at
// connect time; both are read-only for the connection's lifetime.
func New(hooks []HookRegistration, permission PermissionPolicy) *Dispatcher {
	d := &Dispatcher{
		hooks:              hooks,
		permission:         permission,
		defaultHookTimeout: DefaultHookTimeout,
		slots:              make(chan struct{}, maxConcurrentCallbacks),
	}
	logging.Debug().Str("component", "callback").Strs("events", d.sortedHookEvents()).Msg("dispatcher ready")
	return d
}

type hookRequestFrame struct {
	Event    HookEvent      `json:"event"`
	ToolName string         `json:"tool_name"`
	Payload  map[string]any `json:"payload"`
}

type permissionRequestFrame struct {
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"input"`
	SessionID string         `json:"session_id"`
	ToolUseID string         `json:"tool_use_id"`
}

// HandleControlRequest implements protocol.ControlRequestHandler.
func (d *Dispatcher) HandleControlRequest(ctx context.Context, req protocol.ControlRequest, reply func(payload any, errMsg string)) {
	switch req.Subtype {
	case "hook":
		d.handleHook(ctx, req, reply)
	case "permission_request":
		d.handlePermission(ctx, req, reply)
	default:
		reply(nil, "unsupported control request subtype: "+req.Subtype)
	}
}

func (d *Dispatcher) handleHook(ctx context.Context, req protocol.ControlRequest, reply func(payload any, errMsg string)) {
	var frame hookRequestFrame
	if err := json.Unmarshal(req.Raw, &frame); err != nil {
		reply(nil, "malformed hook request: "+err.Error())
		return
	}

	var matched []HookRegistration
	for _, reg := range d.hooks {
		if reg.Event == frame.Event && reg.Matcher.Matches(frame.ToolName) {
			matched = append(matched, reg)
		}
	}

	if len(matched) == 0 {
		reply(map[string]any{"decision": "allow"}, "")
		return
	}

	decisions := make([]*HookDecision, len(matched))
	var wg sync.WaitGroup
	for i, reg := range matched {
		wg.Add(1)
		d.acquire()
		go func(i int, reg HookRegistration) {
			defer wg.Done()
			defer d.release()

			deadline := d.defaultHookTimeout
			if reg.DeadlineSecs > 0 {
				deadline = time.Duration(reg.DeadlineSecs) * time.Second
			}
			callCtx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()

			dec, err := reg.Callback(callCtx, frame.Event, frame.ToolName, frame.Payload)
			if err != nil {
				logging.Warn().Err(err).Str("component", "callback").Str("event", string(frame.Event)).Msg("hook callback returned an error")
				return
			}
			if callCtx.Err() != nil {
				logging.Warn().Str("component", "callback").Str("event", string(frame.Event)).Msg("hook callback timed out")
				return
			}
			decisions[i] = &dec
		}(i, reg)
	}
	wg.Wait()

	reply(mergeHookDecisions(decisions), "")
}

// mergeHookDecisions implements spec.md §4.5's aggregation rule: any Block
// wins with the first blocking reason in registration order; otherwise
// system_message values are concatenated in registration order.
func mergeHookDecisions(decisions []*HookDecision) map[string]any {
	var systemMessages []string
	var data []map[string]any

	for _, dec := range decisions {
		if dec == nil {
			continue
		}
		if dec.Block {
			return map[string]any{
				"decision": "block",
				"reason":   dec.Reason,
			}
		}
		if dec.SystemMessage != "" {
			systemMessages = append(systemMessages, dec.SystemMessage)
		}
		if dec.Data != nil {
			data = append(data, dec.Data)
		}
	}

	out := map[string]any{"decision": "allow"}
	if len(systemMessages) > 0 {
		out["system_message"] = joinMessages(systemMessages)
	}
	if len(data) > 0 {
		out["data"] = data
	}
	return out
}

func joinMessages(msgs []string) string {
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "\n" + m
	}
	return out
}

func (d *Dispatcher) handlePermission(ctx context.Context, req protocol.ControlRequest, reply func(payload any, errMsg string)) {
	var frame permissionRequestFrame
	if err := json.Unmarshal(req.Raw, &frame); err != nil {
		reply(nil, "malformed permission request: "+err.Error())
		return
	}

	permReq := PermissionRequest{
		ToolName:  frame.ToolName,
		Input:     frame.Input,
		SessionID: frame.SessionID,
		ToolUseID: frame.ToolUseID,
	}

	if matchesAny(d.permission.DenyPatterns, frame.ToolName) {
		reply(encodeDecision(Deny("denied by configured deny-list")), "")
		return
	}
	if len(d.permission.AllowPatterns) > 0 && !matchesAny(d.permission.AllowPatterns, frame.ToolName) {
		reply(encodeDecision(Deny("not present in configured allow-list")), "")
		return
	}

	if d.permission.Callback == nil {
		reply(encodeDecision(Allow()), "")
		return
	}

	d.acquire()
	defer d.release()

	callCtx, cancel := context.WithTimeout(ctx, d.defaultHookTimeout)
	defer cancel()

	decision, err := d.permission.Callback(callCtx, permReq)
	if err != nil {
		reply(encodeDecision(Deny(err.Error())), "")
		return
	}
	reply(encodeDecision(decision), "")
}

func encodeDecision(dec PermissionDecision) map[string]any {
	if dec.Allow {
		out := map[string]any{"behavior": "allow"}
		if dec.UpdatedInput != nil {
			out["updated_input"] = dec.UpdatedInput
		}
		if dec.UpdatedRules != nil {
			out["updated_rules"] = dec.UpdatedRules
		}
		return out
	}
	return map[string]any{
		"behavior":  "deny",
		"message":   dec.Message,
		"interrupt": dec.Interrupt,
	}
}

func matchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, toolName); err == nil && ok {
			return true
		}
	}
	return false
}

func (d *Dispatcher) acquire() { d.slots <- struct{}{} }
func (d *Dispatcher) release() { <-d.slots }

// sortedHookEvents is a small helper retained for diagnostics/logging: it
// reports the distinct event kinds this dispatcher has registrations for.
func (d *Dispatcher) sortedHookEvents() []string {
	set := map[HookEvent]bool{}
	for _, reg := range d.hooks {
		set[reg.Event] = true
	}
	events := make([]string, 0, len(set))
	for e := range set {
		events = append(events, string(e))
	}
	sort.Strings(events)
	return events
}
