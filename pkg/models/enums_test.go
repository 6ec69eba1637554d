package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Severity
		wantErr bool
	}{
		{name: "critical", input: "critical", want: SeverityCritical},
		{name: "low", input: "low", want: SeverityLow},
		{name: "uppercase rejected", input: "HIGH", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
		{name: "unknown rejected", input: "severe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIncidentStatusTerminal(t *testing.T) {
	terminal := []IncidentStatus{IncidentStatusAutoRemediated, IncidentStatusManualResolved, IncidentStatusIgnored}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	open := []IncidentStatus{IncidentStatusDetected, IncidentStatusAwaitingAction, IncidentStatusFailed}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestClampLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LogLevelDebug},
		{"TRACE", LogLevelDebug},
		{"info", LogLevelInfo},
		{"", LogLevelInfo},
		{"warning", LogLevelWarn},
		{"WARN", LogLevelWarn},
		{"err", LogLevelError},
		{"ERROR", LogLevelError},
		{"panic", LogLevelFatal},
		{"CRITICAL", LogLevelFatal},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampLogLevel(tt.input))
		})
	}
}

func TestLogLevelScore(t *testing.T) {
	assert.Equal(t, 1, LogLevelDebug.Score())
	assert.Equal(t, 3, LogLevelWarn.Score())
	assert.Equal(t, 5, LogLevelFatal.Score())
	assert.Equal(t, 2, LogLevel("mystery").Score())
}

func TestActionTypeHasSideEffects(t *testing.T) {
	assert.True(t, ActionTypeRestart.HasSideEffects())
	assert.True(t, ActionTypeRollback.HasSideEffects())
	assert.False(t, ActionTypeDiagnostic.HasSideEffects())
	assert.False(t, ActionTypeManualFix.HasSideEffects())
	assert.False(t, ActionTypeNone.HasSideEffects())
}

func TestActionStatusTerminal(t *testing.T) {
	assert.True(t, ActionStatusSucceeded.IsTerminal())
	assert.True(t, ActionStatusFailed.IsTerminal())
	assert.False(t, ActionStatusPending.IsTerminal())
	assert.False(t, ActionStatusInProgress.IsTerminal())
}

func TestParseLLMProvider(t *testing.T) {
	for _, s := range []string{"openai", "anthropic", "auto"} {
		got, err := ParseLLMProvider(s)
		assert.NoError(t, err)
		assert.Equal(t, LLMProvider(s), got)
	}
	_, err := ParseLLMProvider("gemini")
	assert.Error(t, err)
}
