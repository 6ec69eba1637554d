package models

import "fmt"

// Severity classifies how bad an incident is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Rank orders severities for comparison: critical=4 … low=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity validates a severity string on ingress.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("invalid severity %q", s)
	}
	return sev, nil
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusDetected       IncidentStatus = "detected"
	IncidentStatusAwaitingAction IncidentStatus = "awaiting_action"
	IncidentStatusAutoRemediated IncidentStatus = "auto_remediated"
	IncidentStatusManualResolved IncidentStatus = "manual_resolved"
	IncidentStatusFailed         IncidentStatus = "failed"
	IncidentStatusIgnored        IncidentStatus = "ignored"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusDetected, IncidentStatusAwaitingAction,
		IncidentStatusAutoRemediated, IncidentStatusManualResolved,
		IncidentStatusFailed, IncidentStatusIgnored:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the incident can no longer be re-opened by
// new log signals (auto_remediated, manual_resolved, ignored).
func (s IncidentStatus) IsTerminal() bool {
	switch s {
	case IncidentStatusAutoRemediated, IncidentStatusManualResolved, IncidentStatusIgnored:
		return true
	default:
		return false
	}
}

// ParseIncidentStatus validates an incident status string on ingress.
func ParseIncidentStatus(s string) (IncidentStatus, error) {
	st := IncidentStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid incident status %q", s)
	}
	return st, nil
}

// LogLevel is a normalized log severity level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// IsValid checks if the log level is valid.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Score maps a level to a severity score in [1..5].
func (l LogLevel) Score() int {
	switch l {
	case LogLevelDebug:
		return 1
	case LogLevelInfo:
		return 2
	case LogLevelWarn:
		return 3
	case LogLevelError:
		return 4
	case LogLevelFatal:
		return 5
	default:
		return 2
	}
}

// ClampLogLevel lowercases and clamps an arbitrary level string to the enum.
// Unknown levels map to info.
func ClampLogLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG", "trace", "TRACE":
		return LogLevelDebug
	case "info", "INFO", "":
		return LogLevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LogLevelWarn
	case "error", "ERROR", "err", "ERR":
		return LogLevelError
	case "fatal", "FATAL", "panic", "PANIC", "critical", "CRITICAL":
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

// ActionType identifies a remediation action against the platform.
type ActionType string

const (
	ActionTypeRestart       ActionType = "restart"
	ActionTypeRedeploy      ActionType = "redeploy"
	ActionTypeScaleMemory   ActionType = "scale_memory"
	ActionTypeScaleReplicas ActionType = "scale_replicas"
	ActionTypeRollback      ActionType = "rollback"
	ActionTypeStop          ActionType = "stop"
	ActionTypeDiagnostic    ActionType = "diagnostic"
	ActionTypeManualFix     ActionType = "manual_fix"
	ActionTypeNone          ActionType = "none"
)

// IsValid checks if the action type is valid.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionTypeRestart, ActionTypeRedeploy, ActionTypeScaleMemory,
		ActionTypeScaleReplicas, ActionTypeRollback, ActionTypeStop,
		ActionTypeDiagnostic, ActionTypeManualFix, ActionTypeNone:
		return true
	default:
		return false
	}
}

// HasSideEffects reports whether dispatching the action issues a platform RPC.
func (a ActionType) HasSideEffects() bool {
	switch a {
	case ActionTypeDiagnostic, ActionTypeManualFix, ActionTypeNone:
		return false
	default:
		return true
	}
}

// ParseActionType validates an action type string on ingress.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if !a.IsValid() {
		return "", fmt.Errorf("invalid action type %q", s)
	}
	return a, nil
}

// ActionStatus is the lifecycle state of a remediation action.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusInProgress ActionStatus = "in_progress"
	ActionStatusSucceeded  ActionStatus = "succeeded"
	ActionStatusFailed     ActionStatus = "failed"
)

// IsValid checks if the action status is valid.
func (s ActionStatus) IsValid() bool {
	switch s {
	case ActionStatusPending, ActionStatusInProgress, ActionStatusSucceeded, ActionStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the action has finished.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed
}

// InitiatorType identifies who requested a remediation.
type InitiatorType string

const (
	InitiatorAutomated InitiatorType = "automated"
	InitiatorUser      InitiatorType = "user"
)

// IsValid checks if the initiator type is valid.
func (t InitiatorType) IsValid() bool {
	return t == InitiatorAutomated || t == InitiatorUser
}

// MessageRole is the author role of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// IsValid checks if the message role is valid.
func (r MessageRole) IsValid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// LLMProvider selects which language model vendor classifies incidents.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderAuto      LLMProvider = "auto"
)

// IsValid checks if the provider is valid.
func (p LLMProvider) IsValid() bool {
	return p == ProviderOpenAI || p == ProviderAnthropic || p == ProviderAuto
}

// ParseLLMProvider validates a provider string on ingress.
func ParseLLMProvider(s string) (LLMProvider, error) {
	p := LLMProvider(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid llm provider %q", s)
	}
	return p, nil
}

// SubscriptionStatus is the connection state of a log subscription.
type SubscriptionStatus string

const (
	SubscriptionDisconnected SubscriptionStatus = "disconnected"
	SubscriptionConnecting   SubscriptionStatus = "connecting"
	SubscriptionConnected    SubscriptionStatus = "connected"
	SubscriptionError        SubscriptionStatus = "error"
)

// IsValid checks if the subscription status is valid.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionDisconnected, SubscriptionConnecting, SubscriptionConnected, SubscriptionError:
		return true
	default:
		return false
	}
}
