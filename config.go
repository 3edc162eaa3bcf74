package agentcli

import (
	"time"

	"github.com/agentcli/sdk-go/internal/sanitize"
)

// PermissionMode selects how the child should resolve tool permission
// prompts by default, before any PermissionPolicy narrows it further.
type PermissionMode string

const (
	PermissionModeDefault           PermissionMode = "default"
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions"
	PermissionModePlan              PermissionMode = "plan"
)

// SettingSource enumerates where persisted settings may be read from.
type SettingSource string

const (
	SettingSourceUser    SettingSource = "user"
	SettingSourceProject SettingSource = "project"
	SettingSourceLocal   SettingSource = "local"
)

// SandboxConfig restricts what the child's sandboxed tool execution may
// reach. The client does not enforce these values, and buildArgs and
// buildEnv do not pass them to the child.
type SandboxConfig struct {
	Network          bool
	UnixSockets      []string
	Proxy            string
	ExcludedCommands []string
	IgnoreViolations bool
}

// MCPServerConfig describes one external tool server the child should
// connect to. The client never connects to it directly (see spec.md §1
// Non-goals: in-process tool server machinery is out of scope).
type MCPServerConfig struct {
	Type    string // "stdio" | "remote"
	Command []string
	URL     string
	Env     map[string]string
	Headers map[string]string
}

// AgentDefinition describes one subagent the child may delegate to.
type AgentDefinition struct {
	Name         string
	Description  string
	SystemPrompt string
	Tools        []string
}

// Configuration is an immutable snapshot of every launch-time option.
// Build one with zero or more fields set and pass it to Connect; after
// Connect returns, later changes to runtime behavior go through the
// Client's RuntimeOverride setters instead (SetModel, SetPermissionMode,
// SetMaxThinkingTokens), never by mutating a live Configuration.
type Configuration struct {
	// Executable resolution.
	PathToExecutable string
	MinimumVersion   string

	// Tool policy.
	AllowedTools                    []string
	DisallowedTools                 []string
	Tools                           []string // preset name or explicit list
	AllowDangerouslySkipPermissions bool
	StrictMCPConfig                 bool

	// Prompting.
	SystemPrompt string
	Agents       []AgentDefinition
	OutputFormat map[string]any // e.g. a JSON-schema constraint

	// Tool servers and plugins.
	MCPServers map[string]MCPServerConfig
	Plugins    []string
	Betas      []string

	// Conversation continuity.
	ContinueConversation bool
	Resume               string
	ForkSession          bool
	ResumeSessionAt      string
	SessionID            string

	// Turn and budget limits.
	MaxTurns          int
	Model             string
	FallbackModel     string
	MaxThinkingTokens int
	MaxBudgetUSD      float64

	// Permissions.
	PermissionMode PermissionMode
	CanUseTool     PermissionCallback
	Permission     PermissionPolicy
	Hooks          []HookRegistration

	// Filesystem and process environment.
	Cwd       string
	AddDirs   []string
	Settings  map[string]any
	Env       map[string]string
	ExtraArgs map[string]string
	Sandbox   SandboxConfig

	// Protocol behavior.
	MaxBufferSize           int64
	ReadTimeoutSecs         int
	IncludePartialMessages  bool
	SettingSources          []SettingSource
	EnableFileCheckpointing bool

	// Misc passthrough.
	User string

	// Diagnostics.
	Stderr func(line string)

	// BearerToken is held on the Configuration only: Connect does not pass
	// it to the child, in either the argument vector or the environment.
	// Acquiring it is out of scope for this client (spec.md §1).
	BearerToken string
}

// validated is a Configuration plus the sanitizer's defaulted fields,
// produced once by Configuration.validate and then treated as frozen for
// the rest of the connection's lifetime.
type validated struct {
	cfg             Configuration
	maxBufferSize   int64
	readTimeout     time.Duration
}

// validate runs the Sanitizer over cfg and returns the frozen, defaulted
// view used by the rest of the client. It has no side effects beyond
// constructing the returned value or the error.
func (cfg Configuration) validate() (*validated, error) {
	result, err := sanitize.Validate(sanitize.Input{
		ExtraArgs:       cfg.ExtraArgs,
		Env:             cfg.Env,
		MaxTurns:        cfg.MaxTurns,
		MaxBufferSize:   cfg.MaxBufferSize,
		ReadTimeoutSecs: cfg.ReadTimeoutSecs,
		SessionID:       cfg.SessionID,
	})
	if err != nil {
		var sErr *sanitize.Error
		if ok := asSanitizeError(err, &sErr); ok {
			return nil, &ConfigError{Offenders: sErr.Offenders, Reason: sErr.Reason}
		}
		return nil, &ConfigError{Reason: err.Error()}
	}

	return &validated{
		cfg:           cfg,
		maxBufferSize: result.MaxBufferSize,
		readTimeout:   time.Duration(result.ReadTimeoutSecs) * time.Second,
	}, nil
}

func asSanitizeError(err error, target **sanitize.Error) bool {
	sErr, ok := err.(*sanitize.Error)
	if !ok {
		return false
	}
	*target = sErr
	return true
}
