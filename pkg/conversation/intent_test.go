package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Intent
	}{
		{name: "status", text: "status", want: Intent{Kind: IntentStatus}},
		{name: "status in sentence", text: "what's the status?", want: Intent{Kind: IntentStatus}},
		{name: "logs", text: "show me the logs", want: Intent{Kind: IntentLogs}},
		{name: "log singular", text: "log please", want: Intent{Kind: IntentLogs}},
		{name: "deployments", text: "list deployments", want: Intent{Kind: IntentDeployments}},
		{name: "restart", text: "restart it", want: Intent{Kind: IntentRestart}},
		{name: "redeploy", text: "redeploy now", want: Intent{Kind: IntentRedeploy}},
		{name: "stop", text: "stop the service", want: Intent{Kind: IntentStop}},
		{name: "rollback single word", text: "rollback", want: Intent{Kind: IntentRollback}},
		{name: "roll back two words", text: "please roll back", want: Intent{Kind: IntentRollback}},
		{name: "scale memory", text: "scale memory to 2048", want: Intent{Kind: IntentScaleMemory, MemoryMB: 2048}},
		{name: "scale memory without to", text: "scale memory 512", want: Intent{Kind: IntentScaleMemory, MemoryMB: 512}},
		{name: "scale replicas", text: "scale replicas to 3", want: Intent{Kind: IntentScaleReplicas, Replicas: 3}},
		{name: "resolve", text: "resolve", want: Intent{Kind: IntentResolve}},
		{name: "resolved past tense", text: "this is resolved.", want: Intent{Kind: IntentResolve}},
		{name: "done", text: "done!", want: Intent{Kind: IntentResolve}},
		{name: "help", text: "help", want: Intent{Kind: IntentHelp}},
		{name: "mixed case", text: "RESTART", want: Intent{Kind: IntentRestart}},
		{name: "free text is unknown", text: "why is the latency so high lately", want: Intent{Kind: IntentUnknown}},
		{name: "substring does not match", text: "the dialog is broken", want: Intent{Kind: IntentUnknown}},
		{name: "empty is unknown", text: "", want: Intent{Kind: IntentUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntent(tt.text))
		})
	}
}

func TestIntentMutating(t *testing.T) {
	mutating := []IntentKind{IntentRestart, IntentRedeploy, IntentStop, IntentScaleMemory, IntentScaleReplicas, IntentRollback}
	for _, k := range mutating {
		assert.True(t, Intent{Kind: k}.Mutating(), "%s should be mutating", k)
	}
	readOnly := []IntentKind{IntentStatus, IntentLogs, IntentDeployments, IntentResolve, IntentHelp, IntentUnknown}
	for _, k := range readOnly {
		assert.False(t, Intent{Kind: k}.Mutating(), "%s should not be mutating", k)
	}
}
