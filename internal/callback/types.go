package callback

import "context"

// HookEvent names a point in the child's lifecycle where a registered
// callback may be invoked: e.g. "PreToolUse", "PostToolUse",
// "SessionStart". The set of valid names is defined by the Agent CLI, not
// by this client.
type HookEvent string

// HookDecision is a hook callback's verdict for one invocation.
type HookDecision struct {
	// Block, if true, causes the reply's decision to be "block" with
	// Reason as the first blocking reason reported to the child.
	Block  bool
	Reason string
	// SystemMessage is appended to the turn's transcript. Multiple
	// concurrent callbacks' SystemMessage values are concatenated in
	// registration order.
	SystemMessage string
	// Data is passed through to the child verbatim alongside the decision.
	Data map[string]any
}

// HookCallback is invoked once per matching hook event. ctx carries the
// connection's cancellation signal and is cancelled if the invocation
// exceeds its configured deadline.
type HookCallback func(ctx context.Context, event HookEvent, toolName string, payload map[string]any) (HookDecision, error)

// HookMatcher optionally narrows a HookRegistration to a specific tool
// name. An empty matcher matches every tool name.
type HookMatcher struct {
	ToolName string
}

// Matches reports whether m applies to toolName.
func (m HookMatcher) Matches(toolName string) bool {
	return m.ToolName == "" || m.ToolName == toolName
}

// HookRegistration binds a callback to an event (and optional tool-name
// matcher) for the lifetime of the connection.
type HookRegistration struct {
	Event   HookEvent
	Matcher HookMatcher
	Callback HookCallback
	// DeadlineSecs overrides the connection-wide default hook timeout (60s)
	// for this registration, if non-zero.
	DeadlineSecs int
}

// PermissionDecision is the outcome of resolving one permission request.
type PermissionDecision struct {
	Allow bool
	// UpdatedInput, when Allow is true, replaces the tool's input before
	// the child executes it.
	UpdatedInput map[string]any
	// UpdatedRules, when Allow is true, is merged into the child's
	// standing permission rules for the remainder of the session.
	UpdatedRules map[string]any
	// Message explains a Deny decision to the child/user.
	Message string
	// Interrupt, when Allow is false, asks the child to interrupt the
	// current turn rather than merely skip the tool call.
	Interrupt bool
}

// Deny builds a deny decision carrying message.
func Deny(message string) PermissionDecision {
	return PermissionDecision{Allow: false, Message: message}
}

// Allow builds an allow decision with no modifications.
func Allow() PermissionDecision {
	return PermissionDecision{Allow: true}
}

// PermissionRequest describes one tool invocation the child is asking
// permission to run.
type PermissionRequest struct {
	ToolName  string
	Input     map[string]any
	SessionID string
	ToolUseID string
}

// PermissionCallback is the application's single hook for ask-mode
// permission decisions. At most one may be registered per connection.
type PermissionCallback func(ctx context.Context, req PermissionRequest) (PermissionDecision, error)

// PermissionPolicy configures static allow/deny lists and an optional
// fallback callback, resolved in that order by the Dispatcher: deny-list
// match wins outright; otherwise an allow-list that does not match the tool
// denies outright; otherwise the callback runs; otherwise the request is
// allowed with no modifications.
//
// Patterns use doublestar glob syntax (e.g. "Bash(git *)", "Edit(**)") so a
// single entry can cover a family of tool names.
type PermissionPolicy struct {
	AllowPatterns []string
	DenyPatterns  []string
	Callback      PermissionCallback
}
