package agentcli

import "github.com/agentcli/sdk-go/internal/callback"

// PermissionDecision is the outcome of resolving one permission request.
type PermissionDecision = callback.PermissionDecision

// Deny builds a deny decision carrying message.
func Deny(message string) PermissionDecision { return callback.Deny(message) }

// Allow builds an allow decision with no modifications.
func Allow() PermissionDecision { return callback.Allow() }

// PermissionRequest describes one tool invocation the child is asking
// permission to run.
type PermissionRequest = callback.PermissionRequest

// PermissionCallback is the application's single hook for ask-mode
// permission decisions. At most one may be registered per connection.
type PermissionCallback = callback.PermissionCallback

// PermissionPolicy configures static allow/deny lists and an optional
// fallback callback, resolved in that order by the Callback Dispatcher:
// deny-list match wins outright; otherwise an allow-list that does not
// match the tool denies outright; otherwise the callback runs; otherwise
// the request is allowed with no modifications.
//
// Patterns use doublestar glob syntax (e.g. "Bash(git *)", "Edit(**)") so a
// single entry can cover a family of tool names.
type PermissionPolicy = callback.PermissionPolicy
