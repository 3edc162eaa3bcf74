// Package agentcli drives an external Agent CLI child process over a
// newline-delimited JSON control protocol, exposing a bidirectional,
// session-oriented, streaming conversation API.
package agentcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentcli/sdk-go/internal/buffer"
	"github.com/agentcli/sdk-go/internal/callback"
	"github.com/agentcli/sdk-go/internal/logging"
	"github.com/agentcli/sdk-go/internal/notify"
	"github.com/agentcli/sdk-go/internal/protocol"
	"github.com/agentcli/sdk-go/internal/sanitize"
	"github.com/agentcli/sdk-go/internal/transport"
)

// defaultControlTimeout is the per-client-initiated-control-request
// deadline described in spec.md §4.4.
const defaultControlTimeout = 30 * time.Second

// defaultGraceClose is how long Close waits for the child to exit on its
// own before sending a forceful termination signal.
const defaultGraceClose = 5 * time.Second

// candidateExecutables is searched, in order, when PathToExecutable is
// unset.
var candidateExecutables = []string{"claude", "claude-code", "agent-cli"}

// runtimeOverride is the mutable register written by SetModel /
// SetPermissionMode / SetMaxThinkingTokens and merged into the next
// outbound turn.
type runtimeOverride struct {
	model             string
	permissionMode    PermissionMode
	maxThinkingTokens int
}

// Client is the public state machine: connect, send, receive, interrupt,
// close. It owns the session-binding invariant and the runtime override
// register.
type Client struct {
	cfg       Configuration
	validated *validated

	process    *transport.Process
	framer     *transport.Framer
	engine     *protocol.Engine
	dispatcher *callback.Dispatcher
	buf        *buffer.Buffer
	bus        *notify.Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	boundSession    string
	lastSeenSession string
	override        runtimeOverride

	runDone   chan struct{}
	closeOnce sync.Once
}

// Connect validates cfg, spawns the child, and starts the Control Protocol
// Engine. The returned Client's message stream is available immediately.
func Connect(ctx context.Context, cfg Configuration) (*Client, error) {
	v, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	path, autoResolved, err := resolveExecutable(cfg)
	if err != nil {
		return nil, err
	}

	if autoResolved {
		version, err := probeVersion(ctx, path)
		if err != nil {
			return nil, &LaunchError{Path: path, Err: err}
		}
		if cfg.MinimumVersion != "" && compareVersions(version, cfg.MinimumVersion) < 0 {
			return nil, &CliVersionTooOldError{Found: version, Minimum: cfg.MinimumVersion}
		}
	}

	permission := cfg.Permission
	if permission.Callback == nil && cfg.CanUseTool != nil {
		permission.Callback = cfg.CanUseTool
	}

	dispatcher := callback.New(cfg.Hooks, permission)
	bus := notify.New()

	process, err := transport.Start(transport.Options{
		Executable:       path,
		Args:             buildArgs(cfg),
		Env:              buildEnv(cfg.Env),
		Dir:              cfg.Cwd,
		OnDiagnosticLine: diagnosticCallback(bus, cfg.Stderr),
	})
	if err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	framer := transport.NewFramer(process.Stdout(), process.Stdin(), int(v.maxBufferSize), process.Interrupt)

	clientCtx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:          cfg,
		validated:    v,
		process:      process,
		framer:       framer,
		dispatcher:   dispatcher,
		buf:          buffer.New(),
		bus:          bus,
		ctx:          clientCtx,
		cancel:       cancel,
		boundSession: cfg.SessionID,
		runDone:      make(chan struct{}),
	}

	c.engine = protocol.New(framer, dispatcher, defaultControlTimeout, c.handleResult)

	go func() {
		c.engine.Run(clientCtx)
		close(c.runDone)
	}()

	logging.Info().Str("component", "client").Str("executable", path).Msg("connected to agent cli")
	return c, nil
}

// handleResult implements the auto-binding rule and drives the Message
// Buffer's automatic drain on every observed Result frame.
func (c *Client) handleResult(sessionID string) {
	c.mu.Lock()
	c.lastSeenSession = sessionID
	if c.boundSession == "" {
		c.boundSession = sessionID
	} else if c.boundSession != sessionID {
		logging.Warn().Str("component", "client").Str("bound_session", c.boundSession).Str("observed_session", sessionID).Msg("result session diverges from bound session")
	}
	c.mu.Unlock()

	_ = c.bus.Publish(notify.Event{Kind: notify.ResultObserved, Data: notify.ResultObservedData{SessionID: sessionID}})

	if msg, ok := c.buf.Drain(sessionID); ok {
		if err := c.writeUserFrame(c.ctx, msg.Content, sessionID); err != nil {
			logging.Warn().Err(err).Str("component", "client").Msg("failed to flush buffered message")
		}
	}
}

// Send validates the session-binding invariant, then atomically writes one
// user frame.
func (c *Client) Send(ctx context.Context, content any) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	if err := c.ValidateSession(); err != nil {
		return err
	}

	c.mu.Lock()
	session := c.boundSession
	c.mu.Unlock()

	return c.writeUserFrame(ctx, content, session)
}

func (c *Client) writeUserFrame(ctx context.Context, content any, sessionID string) error {
	frame := map[string]any{
		"type":    "user",
		"content": content,
	}
	if sessionID != "" {
		frame["session_id"] = sessionID
	}
	c.applyRuntimeOverride(frame)

	if err := c.framer.WriteFrame(ctx, frame); err != nil {
		if errors.Is(err, transport.ErrCancelled) {
			return NewTransportError("cancelled", err)
		}
		return NewTransportError("write failed", err)
	}
	return nil
}

func (c *Client) applyRuntimeOverride(frame map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override.model != "" {
		frame["model"] = c.override.model
	}
	if c.override.permissionMode != "" {
		frame["permission_mode"] = string(c.override.permissionMode)
	}
	if c.override.maxThinkingTokens > 0 {
		frame["max_thinking_tokens"] = c.override.maxThinkingTokens
	}
}

// Interrupt issues a control request of type "interrupt" and resolves when
// the child acknowledges it.
func (c *Client) Interrupt(ctx context.Context) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	_, err := c.engine.SendControlRequest(ctx, "interrupt", nil)
	return translateControlError(err, "interrupt")
}

// NextMessage returns the next delivered message in arrival order, or
// io.EOF once the child's stream ends.
func (c *Client) NextMessage(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.engine.Errors():
		return nil, translateStreamError(err)
	case frame, ok := <-c.engine.Messages():
		if !ok {
			return nil, io.EOF
		}
		return decodeMessage(frame)
	}
}

// ReceiveResponse returns every message delivered up to and including the
// next Result frame.
func (c *Client) ReceiveResponse(ctx context.Context) ([]Message, error) {
	var out []Message
	for {
		msg, err := c.NextMessage(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		if msg.Kind() == MessageTypeResult {
			return out, nil
		}
	}
}

// Queue enqueues content tagged with the current session; it never writes
// to the child directly.
func (c *Client) Queue(content any) {
	c.mu.Lock()
	tag := c.boundSession
	if tag == "" {
		tag = c.lastSeenSession
	}
	c.mu.Unlock()
	c.buf.Enqueue(content, tag)
}

// NextBuffered behaves like NextMessage; the Buffer drain itself happens
// automatically on every observed Result frame (spec.md §4.6).
func (c *Client) NextBuffered(ctx context.Context) (Message, error) {
	return c.NextMessage(ctx)
}

// BindSession overrides BoundSession.
func (c *Client) BindSession(id string) {
	c.mu.Lock()
	c.boundSession = id
	c.mu.Unlock()
}

// UnbindSession clears BoundSession.
func (c *Client) UnbindSession() {
	c.mu.Lock()
	c.boundSession = ""
	c.mu.Unlock()
}

// ValidateSession returns nil if BoundSession is unset, the observed
// session is unset, or they match; otherwise SessionMismatchError.
func (c *Client) ValidateSession() error {
	c.mu.Lock()
	bound, seen := c.boundSession, c.lastSeenSession
	c.mu.Unlock()

	if bound == "" || seen == "" || bound == seen {
		return nil
	}
	return &SessionMismatchError{Expected: bound, Actual: seen}
}

// SetModel writes model to the RuntimeOverride register and issues the
// corresponding control request. On control failure, the override remains
// locally set.
func (c *Client) SetModel(ctx context.Context, model string) error {
	c.mu.Lock()
	c.override.model = model
	c.mu.Unlock()

	_, err := c.engine.SendControlRequest(ctx, "set_model", map[string]any{"model": model})
	return translateControlError(err, "set_model")
}

// SetPermissionMode writes mode to the RuntimeOverride register and issues
// the corresponding control request.
func (c *Client) SetPermissionMode(ctx context.Context, mode PermissionMode) error {
	c.mu.Lock()
	c.override.permissionMode = mode
	c.mu.Unlock()

	_, err := c.engine.SendControlRequest(ctx, "set_permission_mode", map[string]any{"permission_mode": string(mode)})
	return translateControlError(err, "set_permission_mode")
}

// SetMaxThinkingTokens writes tokens to the RuntimeOverride register and
// issues the corresponding control request.
func (c *Client) SetMaxThinkingTokens(ctx context.Context, tokens int) error {
	c.mu.Lock()
	c.override.maxThinkingTokens = tokens
	c.mu.Unlock()

	_, err := c.engine.SendControlRequest(ctx, "set_max_thinking_tokens", map[string]any{"max_thinking_tokens": tokens})
	return translateControlError(err, "set_max_thinking_tokens")
}

// SessionInfo issues a control request and returns a structured snapshot of
// the current session.
func (c *Client) SessionInfo(ctx context.Context) (json.RawMessage, error) {
	return c.introspect(ctx, "session_info")
}

// SupportedCommands issues a control request listing the commands the
// connected child supports.
func (c *Client) SupportedCommands(ctx context.Context) (json.RawMessage, error) {
	return c.introspect(ctx, "supported_commands")
}

// MCPServerStatus issues a control request reporting the status of every
// configured MCP server.
func (c *Client) MCPServerStatus(ctx context.Context) (json.RawMessage, error) {
	return c.introspect(ctx, "mcp_server_status")
}

// AccountInfo issues a control request reporting the authenticated
// account, if any.
func (c *Client) AccountInfo(ctx context.Context) (json.RawMessage, error) {
	return c.introspect(ctx, "account_info")
}

func (c *Client) introspect(ctx context.Context, subtype string) (json.RawMessage, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	payload, err := c.engine.SendControlRequest(ctx, subtype, nil)
	if err != nil {
		return nil, translateControlError(err, subtype)
	}
	return payload, nil
}

// Close closes the child's input stream, waits up to 5 seconds for it to
// exit, then sends a forceful termination signal. Idempotent.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.runDone
		closeErr = c.process.Close(ctx, defaultGraceClose)
		_ = c.bus.Close()
	})
	return closeErr
}

// diagnosticCallback wraps the caller's stderr callback so every
// diagnostic line is also published on the notification bus, and publishes
// a DiagnosticLine event even when no callback was supplied.
func diagnosticCallback(bus *notify.Bus, userCallback func(string)) func(string) {
	return func(line string) {
		_ = bus.Publish(notify.Event{Kind: notify.DiagnosticLine, Data: line})
		if userCallback != nil {
			userCallback(line)
		}
	}
}

// OnResultObserved subscribes fn to every Result frame's session id, as
// published internally by handleResult. The returned func unsubscribes.
func (c *Client) OnResultObserved(fn func(sessionID string)) (unsubscribe func()) {
	return c.bus.Subscribe(notify.ResultObserved, func(e notify.Event) {
		// e.Data round-trips through the bus as a decoded JSON value
		// (map[string]any), not the concrete ResultObservedData type it was
		// published with, so it is re-decoded here rather than type-asserted.
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		var data notify.ResultObservedData
		if json.Unmarshal(raw, &data) == nil {
			fn(data.SessionID)
		}
	})
}

func (c *Client) checkConnected() error {
	switch c.engine.State() {
	case protocol.StateFailed, protocol.StateClosed:
		return &NotConnectedError{}
	default:
		return nil
	}
}

func translateControlError(err error, requestType string) error {
	if err == nil {
		return nil
	}
	var timeoutErr *protocol.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &ControlTimeoutError{Secs: timeoutErr.Secs, RequestType: timeoutErr.RequestType}
	}
	var closedErr *protocol.ClosedError
	if errors.As(err, &closedErr) {
		return NewTransportError(closedErr.Reason, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransportError("cancelled", err)
	}
	return NewTransportError(requestType, err)
}

func translateStreamError(err error) error {
	if errors.Is(err, transport.ErrOverBudget) {
		return &FramingError{Reason: "over-budget"}
	}
	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) {
		return &FramingError{Reason: "json-decode", Preview: decodeErr.Preview, Err: decodeErr.Err}
	}
	var unknownErr *protocol.UnknownResponseIDError
	if errors.As(err, &unknownErr) {
		return &ProtocolError{Reason: unknownErr.Error()}
	}
	var malformedErr *protocol.MalformedFrameError
	if errors.As(err, &malformedErr) {
		return &ProtocolError{Reason: malformedErr.Reason}
	}
	return NewTransportError("stream", err)
}

func decodeMessage(frame protocol.Frame) (Message, error) {
	switch MessageType(frame.Kind) {
	case MessageTypeUser:
		var m UserMessage
		if err := json.Unmarshal(frame.Raw, &m); err != nil {
			return nil, &ProtocolError{Reason: "decode user message: " + err.Error()}
		}
		m.Raw = frame.Raw
		return m, nil
	case MessageTypeAssistant:
		var m AssistantMessage
		if err := json.Unmarshal(frame.Raw, &m); err != nil {
			return nil, &ProtocolError{Reason: "decode assistant message: " + err.Error()}
		}
		m.Raw = frame.Raw
		return m, nil
	case MessageTypeSystem:
		var m SystemMessage
		if err := json.Unmarshal(frame.Raw, &m); err != nil {
			return nil, &ProtocolError{Reason: "decode system message: " + err.Error()}
		}
		m.Raw = frame.Raw
		return m, nil
	case MessageTypeResult:
		var m ResultMessage
		if err := json.Unmarshal(frame.Raw, &m); err != nil {
			return nil, &ProtocolError{Reason: "decode result message: " + err.Error()}
		}
		m.Raw = frame.Raw
		return m, nil
	case MessageTypeStreamEvent:
		var m StreamEventMessage
		if err := json.Unmarshal(frame.Raw, &m); err != nil {
			return nil, &ProtocolError{Reason: "decode stream event: " + err.Error()}
		}
		m.Raw = frame.Raw
		return m, nil
	default:
		return nil, &ProtocolError{Reason: "unrecognized message kind: " + frame.Kind}
	}
}

func resolveExecutable(cfg Configuration) (path string, autoResolved bool, err error) {
	if cfg.PathToExecutable != "" {
		return cfg.PathToExecutable, false, nil
	}
	for _, candidate := range candidateExecutables {
		if p, lookErr := exec.LookPath(candidate); lookErr == nil {
			return p, true, nil
		}
	}
	return "", false, &CliNotFoundError{Path: strings.Join(candidateExecutables, ", ")}
}

// probeVersion runs "<path> --version" with a short backoff-retry, per
// SPEC_FULL.md §4.2a: slow-starting platforms may race the first attempt.
func probeVersion(ctx context.Context, path string) (string, error) {
	var version string
	attempt := func() error {
		cmd := exec.CommandContext(ctx, path, "--version")
		out, err := cmd.Output()
		if err != nil {
			return err
		}
		version = strings.TrimSpace(string(out))
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return "", err
	}
	return version, nil
}

// compareVersions compares dot-separated numeric version strings, returning
// -1, 0, or 1. Non-numeric components compare as 0.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func buildArgs(cfg Configuration) []string {
	var args []string

	add := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}

	add("--system-prompt", cfg.SystemPrompt)
	add("--model", cfg.Model)
	add("--fallback-model", cfg.FallbackModel)
	add("--permission-mode", string(cfg.PermissionMode))
	add("--resume", cfg.Resume)
	add("--resume-session-at", cfg.ResumeSessionAt)
	add("--cwd", cfg.Cwd)
	add("--user", cfg.User)

	if cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(cfg.MaxTurns))
	}
	if cfg.MaxThinkingTokens > 0 {
		args = append(args, "--max-thinking-tokens", strconv.Itoa(cfg.MaxThinkingTokens))
	}
	if cfg.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(cfg.MaxBudgetUSD, 'f', -1, 64))
	}
	if cfg.ContinueConversation {
		args = append(args, "--continue")
	}
	if cfg.ForkSession {
		args = append(args, "--fork-session")
	}
	if cfg.AllowDangerouslySkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if cfg.StrictMCPConfig {
		args = append(args, "--strict-mcp-config")
	}
	if cfg.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if cfg.EnableFileCheckpointing {
		args = append(args, "--enable-file-checkpointing")
	}
	for _, dir := range cfg.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	for _, tool := range cfg.AllowedTools {
		args = append(args, "--allowed-tool", tool)
	}
	for _, tool := range cfg.DisallowedTools {
		args = append(args, "--disallowed-tool", tool)
	}
	for _, plugin := range cfg.Plugins {
		args = append(args, "--plugin", plugin)
	}
	for _, beta := range cfg.Betas {
		args = append(args, "--beta", beta)
	}
	for _, src := range cfg.SettingSources {
		args = append(args, "--setting-source", string(src))
	}

	for flag, value := range cfg.ExtraArgs {
		if !sanitize.AllowedExtraArgs[flag] {
			continue // already rejected by validate(); defense in depth
		}
		if value == "" {
			args = append(args, "--"+flag)
		} else {
			args = append(args, "--"+flag, value)
		}
	}

	args = append(args, "--output-format", "stream-json")
	return args
}

func buildEnv(callerEnv map[string]string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(callerEnv))
	for _, kv := range base {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if sanitize.BlockedEnvKeys[key] {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range callerEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
