package agentcli

import "fmt"

// ConfigError reports one or more Configuration values that would permit
// injection into the child process, or otherwise fail validation.
type ConfigError struct {
	Offenders []string
	Reason    string
}

func (e *ConfigError) Error() string {
	if len(e.Offenders) == 0 {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Reason, e.Offenders)
}

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}

// CliNotFoundError is returned when no explicit executable path is
// configured and none of the candidate executable names resolve on PATH.
// An explicit path is used as given; if it does not exist, Connect reports
// a LaunchError instead.
type CliNotFoundError struct {
	Path string
}

func (e *CliNotFoundError) Error() string {
	return fmt.Sprintf("agent cli executable not found: %s", e.Path)
}

// CliVersionTooOldError is returned when the handshake version probe
// reports a version older than Configuration.MinimumVersion.
type CliVersionTooOldError struct {
	Found   string
	Minimum string
}

func (e *CliVersionTooOldError) Error() string {
	return fmt.Sprintf("agent cli version %s is older than required minimum %s", e.Found, e.Minimum)
}

// LaunchError reports a failure spawning the child process.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TransportError reports a failure of the underlying pipes: a broken pipe,
// an unexpected EOF, an explicit cancellation, or use after Close.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError builds a TransportError with the given reason string
// (e.g. "cancelled", "write failed", "transport failure", "stream").
func NewTransportError(reason string, err error) *TransportError {
	return &TransportError{Reason: reason, Err: err}
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	_, ok := err.(*TransportError)
	return ok
}

// FramingError reports a line that could not be treated as a well-formed
// frame: either it exceeded MaxBufferSize or it failed UTF-8/JSON decoding.
type FramingError struct {
	Reason  string // "over-budget" or "json-decode"
	Preview string // truncated, UTF-8-safe preview of the offending line
	Err     error
}

func (e *FramingError) Error() string {
	if e.Preview != "" {
		return fmt.Sprintf("framing: %s: %q", e.Reason, e.Preview)
	}
	return fmt.Sprintf("framing: %s", e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected control frame: an unknown
// response id, a frame missing its discriminator, or an unrecognized frame
// kind.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// ControlTimeoutError reports that a client-initiated control request did
// not receive a matching response within its deadline.
type ControlTimeoutError struct {
	Secs        int
	RequestType string
}

func (e *ControlTimeoutError) Error() string {
	return fmt.Sprintf("control request %q timed out after %ds", e.RequestType, e.Secs)
}

// HookTimeoutError reports that a hook callback exceeded its per-invocation
// deadline.
type HookTimeoutError struct {
	Event string
	Secs  int
}

func (e *HookTimeoutError) Error() string {
	return fmt.Sprintf("hook %q timed out after %ds", e.Event, e.Secs)
}

// SessionMismatchError reports that an operation's computed or observed
// session id diverged from the currently bound session.
type SessionMismatchError struct {
	Expected string
	Actual   string
}

func (e *SessionMismatchError) Error() string {
	return fmt.Sprintf("session mismatch: expected %q, got %q", e.Expected, e.Actual)
}

// IsSessionMismatchError reports whether err is a *SessionMismatchError.
func IsSessionMismatchError(err error) bool {
	_, ok := err.(*SessionMismatchError)
	return ok
}

// CallbackError reports that an application-supplied hook or permission
// callback returned an error instead of a decision.
type CallbackError struct {
	Name string
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %q failed: %v", e.Name, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// ChildError reports that the child process exited unexpectedly.
type ChildError struct {
	ExitCode       int
	DiagnosticTail string
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("agent cli exited with code %d: %s", e.ExitCode, e.DiagnosticTail)
}

// NotConnectedError is returned by Send, Interrupt and the introspection
// calls (SessionInfo, SupportedCommands, MCPServerStatus, AccountInfo) once
// the connection has entered the Failed or Closed state. The other public
// operations, including SetModel, SetPermissionMode and
// SetMaxThinkingTokens, do not check the connection state and never return
// it.
type NotConnectedError struct{}

func (e *NotConnectedError) Error() string { return "not connected" }
