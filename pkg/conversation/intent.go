package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

// IntentKind is one of the fixed intents parsed from chat text.
type IntentKind string

const (
	IntentStatus        IntentKind = "status"
	IntentLogs          IntentKind = "logs"
	IntentDeployments   IntentKind = "deployments"
	IntentRestart       IntentKind = "restart"
	IntentRedeploy      IntentKind = "redeploy"
	IntentStop          IntentKind = "stop"
	IntentScaleMemory   IntentKind = "scale_memory"
	IntentScaleReplicas IntentKind = "scale_replicas"
	IntentRollback      IntentKind = "rollback"
	IntentResolve       IntentKind = "resolve"
	IntentHelp          IntentKind = "help"
	IntentUnknown       IntentKind = "unknown"
)

// Intent is a parsed command with its extracted arguments.
type Intent struct {
	Kind     IntentKind
	MemoryMB int
	Replicas int
}

// Mutating reports whether the intent triggers a remediation action.
func (i Intent) Mutating() bool {
	switch i.Kind {
	case IntentRestart, IntentRedeploy, IntentStop, IntentScaleMemory,
		IntentScaleReplicas, IntentRollback:
		return true
	}
	return false
}

var (
	reScaleMemory   = regexp.MustCompile(`scale\s+memory\s+(?:to\s+)?(\d+)`)
	reScaleReplicas = regexp.MustCompile(`scale\s+replicas\s+(?:to\s+)?(\d+)`)
)

// ParseIntent classifies chat text into the fixed intent set. Text that
// matches nothing is IntentUnknown and goes to the free-form LLM path.
func ParseIntent(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))

	if m := reScaleMemory.FindStringSubmatch(t); m != nil {
		mb, _ := strconv.Atoi(m[1])
		return Intent{Kind: IntentScaleMemory, MemoryMB: mb}
	}
	if m := reScaleReplicas.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Intent{Kind: IntentScaleReplicas, Replicas: n}
	}

	switch {
	case hasWord(t, "help"):
		return Intent{Kind: IntentHelp}
	case hasWord(t, "status"):
		return Intent{Kind: IntentStatus}
	case hasWord(t, "logs"), hasWord(t, "log"):
		return Intent{Kind: IntentLogs}
	case hasWord(t, "deployments"), hasWord(t, "deployment"), hasWord(t, "deploys"):
		return Intent{Kind: IntentDeployments}
	case hasWord(t, "restart"):
		return Intent{Kind: IntentRestart}
	case hasWord(t, "redeploy"):
		return Intent{Kind: IntentRedeploy}
	case hasWord(t, "rollback"), strings.Contains(t, "roll back"):
		return Intent{Kind: IntentRollback}
	case hasWord(t, "stop"):
		return Intent{Kind: IntentStop}
	case hasWord(t, "resolve"), hasWord(t, "resolved"), hasWord(t, "done"):
		return Intent{Kind: IntentResolve}
	}
	return Intent{Kind: IntentUnknown}
}

func hasWord(text, word string) bool {
	for _, f := range strings.Fields(text) {
		if strings.Trim(f, ".,!?") == word {
			return true
		}
	}
	return false
}

const helpText = `Here is what I can do in this thread:
• *status* — current incident status
• *logs* — recent logs from the latest deployment
• *deployments* — recent deployments
• *restart* / *redeploy* / *stop* / *rollback* — run that remediation
• *scale memory <mb>* / *scale replicas <n>* — adjust resources
• *resolve* — mark the incident resolved and close this chat
Anything else is answered by the assistant directly.`
