package agentcli

import "github.com/agentcli/sdk-go/internal/callback"

// HookEvent names a point in the child's lifecycle where a registered
// callback may be invoked: e.g. "PreToolUse", "PostToolUse",
// "SessionStart". The set of valid names is defined by the Agent CLI, not
// by this client.
type HookEvent = callback.HookEvent

// HookDecision is a hook callback's verdict for one invocation.
type HookDecision = callback.HookDecision

// HookCallback is invoked once per matching hook event. ctx carries the
// connection's cancellation signal and is cancelled if the invocation
// exceeds its configured deadline.
type HookCallback = callback.HookCallback

// HookMatcher optionally narrows a HookRegistration to a specific tool
// name. An empty matcher matches every tool name.
type HookMatcher = callback.HookMatcher

// HookRegistration binds a callback to an event (and optional tool-name
// matcher) for the lifetime of the connection.
type HookRegistration = callback.HookRegistration
