// Package sanitize performs pure, side-effect-free validation of launch
// configuration before any process is spawned. It is the system's first
// line of defense against command or library injection into the child
// (the facade's argument and environment builders filter again), and
// rejection here is total: no silent filtering, no override.
package sanitize

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// AllowedExtraArgs is the flag-name allowlist for Configuration.ExtraArgs.
var AllowedExtraArgs = map[string]bool{
	"timeout":   true,
	"retries":   true,
	"log-level": true,
	"cache-dir": true,
}

// BlockedEnvKeys are environment variable names that are never forwarded to
// the child, matched by exact (case-sensitive) key as listed.
var BlockedEnvKeys = map[string]bool{
	"LD_PRELOAD":            true,
	"LD_LIBRARY_PATH":       true,
	"DYLD_INSERT_LIBRARIES": true,
	"DYLD_LIBRARY_PATH":     true,
	"PATH":                  true,
	"NODE_OPTIONS":          true,
	"PYTHONPATH":            true,
	"PERL5LIB":              true,
	"RUBYLIB":               true,
}

// MaxAllowedTurns is the hard ceiling on Configuration.MaxTurns.
const MaxAllowedTurns = 1000

// DefaultMaxBufferSize is used when Configuration.MaxBufferSize is unset.
const DefaultMaxBufferSize = 1024 * 1024

// DefaultReadTimeoutSecs is used when Configuration.ReadTimeoutSecs is unset.
const DefaultReadTimeoutSecs = 120

// Input is the subset of Configuration the sanitizer inspects.
type Input struct {
	ExtraArgs       map[string]string
	Env             map[string]string
	MaxTurns        int
	MaxBufferSize   int64
	ReadTimeoutSecs int
	SessionID       string
}

// Result is Input after defaulting, returned only when validation passes.
type Result struct {
	MaxBufferSize   int64
	ReadTimeoutSecs int
}

// Error reports every validation failure found, not just the first, so a
// caller can fix its configuration in one pass.
type Error struct {
	Offenders []string
	Reason    string
}

func (e *Error) Error() string {
	if len(e.Offenders) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Offenders)
}

// Validate runs the sanitizer's rules in spec order, accumulating every
// violation into a single *Error rather than failing fast.
func Validate(in Input) (*Result, error) {
	var offenders []string
	var reasons []string

	if bad := disallowedFlags(in.ExtraArgs); len(bad) > 0 {
		offenders = append(offenders, bad...)
		reasons = append(reasons, "disallowed extra_args flags")
	}

	if bad := blockedEnvKeys(in.Env); len(bad) > 0 {
		offenders = append(offenders, bad...)
		reasons = append(reasons, "blocked environment variables")
	}

	if in.MaxTurns > MaxAllowedTurns {
		offenders = append(offenders, fmt.Sprintf("max_turns=%d", in.MaxTurns))
		reasons = append(reasons, fmt.Sprintf("max_turns exceeds %d", MaxAllowedTurns))
	}

	if in.SessionID != "" {
		if _, err := uuid.Parse(in.SessionID); err != nil {
			offenders = append(offenders, in.SessionID)
			reasons = append(reasons, "session_id is not UUID-shaped")
		}
	}

	if len(offenders) > 0 {
		reason := reasons[0]
		if len(reasons) > 1 {
			reason = fmt.Sprintf("%d violations (%v)", len(reasons), reasons)
		}
		return nil, &Error{Offenders: offenders, Reason: reason}
	}

	result := &Result{
		MaxBufferSize:   in.MaxBufferSize,
		ReadTimeoutSecs: in.ReadTimeoutSecs,
	}
	if result.MaxBufferSize <= 0 {
		result.MaxBufferSize = DefaultMaxBufferSize
	}
	if result.ReadTimeoutSecs <= 0 {
		result.ReadTimeoutSecs = DefaultReadTimeoutSecs
	}
	return result, nil
}

func disallowedFlags(extraArgs map[string]string) []string {
	var offenders []string
	for flag := range extraArgs {
		if !AllowedExtraArgs[flag] {
			offenders = append(offenders, flag)
		}
	}
	sort.Strings(offenders)
	return offenders
}

func blockedEnvKeys(env map[string]string) []string {
	var offenders []string
	for key := range env {
		if BlockedEnvKeys[key] {
			offenders = append(offenders, key)
		}
	}
	sort.Strings(offenders)
	return offenders
}
