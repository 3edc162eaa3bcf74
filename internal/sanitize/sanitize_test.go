package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsCleanInput(t *testing.T) {
	result, err := Validate(Input{
		ExtraArgs: map[string]string{"timeout": "30", "log-level": "debug"},
		Env:       map[string]string{"MY_VAR": "value"},
		MaxTurns:  10,
		SessionID: "550e8400-e29b-41d4-a716-446655440000",
	})
	require.NoError(t, err)
	require.Equal(t, int64(DefaultMaxBufferSize), result.MaxBufferSize)
	require.Equal(t, DefaultReadTimeoutSecs, result.ReadTimeoutSecs)
}

func TestValidateRejectsDisallowedFlag(t *testing.T) {
	_, err := Validate(Input{ExtraArgs: map[string]string{"dangerous-flag": "1"}})
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	require.Contains(t, sErr.Offenders, "dangerous-flag")
}

func TestValidateRejectsBlockedEnvVar(t *testing.T) {
	_, err := Validate(Input{Env: map[string]string{"LD_PRELOAD": "/tmp/x.so"}})
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	require.Contains(t, sErr.Offenders, "LD_PRELOAD")
}

func TestValidateDoesNotCaseFoldBlockedEnvVar(t *testing.T) {
	// Only the exact-case key is blocked; this is intentionally not a
	// security boundary against a case-insensitive child environment
	// lookup, only against the exact keys the spec lists.
	result, err := Validate(Input{Env: map[string]string{"ld_preload": "/tmp/x.so"}})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestValidateRejectsMaxTurnsOverBudget(t *testing.T) {
	_, err := Validate(Input{MaxTurns: 1001})
	require.Error(t, err)
}

func TestValidateAllowsMaxTurnsAtBudget(t *testing.T) {
	_, err := Validate(Input{MaxTurns: 1000})
	require.NoError(t, err)
}

func TestValidateRejectsMalformedSessionID(t *testing.T) {
	_, err := Validate(Input{SessionID: "not-a-uuid"})
	require.Error(t, err)
}

func TestValidateAccumulatesAllOffenders(t *testing.T) {
	_, err := Validate(Input{
		ExtraArgs: map[string]string{"bad-flag": "1"},
		Env:       map[string]string{"PATH": "/evil"},
		MaxTurns:  2000,
	})
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	require.Len(t, sErr.Offenders, 3)
}

func TestValidateKeepsExplicitBufferAndTimeout(t *testing.T) {
	result, err := Validate(Input{MaxBufferSize: 2048, ReadTimeoutSecs: 5})
	require.NoError(t, err)
	require.Equal(t, int64(2048), result.MaxBufferSize)
	require.Equal(t, 5, result.ReadTimeoutSecs)
}
