package ingest

import "encoding/json"

// GraphQL-over-WebSocket frame types (graphql-transport-ws lifecycle:
// connection_init → connection_ack → subscribe → next|error|complete).
const (
	frameConnectionInit = "connection_init"
	frameConnectionAck  = "connection_ack"
	framePing           = "ping"
	framePong           = "pong"
	frameSubscribe      = "subscribe"
	frameNext           = "next"
	frameData           = "data" // legacy alias some servers emit for next
	frameError          = "error"
	frameComplete       = "complete"
)

// frame is one wire message in either direction.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// subscribePayload is the payload of a subscribe frame.
type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// logEntry is one raw entry inside a next frame's deploymentLogs or
// environmentLogs field.
type logEntry struct {
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Tags      map[string]any `json:"tags,omitempty"`
	Attrs     map[string]any `json:"attributes,omitempty"`
}

// nextPayload is the payload of a next/data frame carrying log entries.
type nextPayload struct {
	Data struct {
		EnvironmentLogs []logEntry `json:"environmentLogs"`
		DeploymentLogs  []logEntry `json:"deploymentLogs"`
	} `json:"data"`
}

// errorPayload is the payload of an error frame.
type errorPayload []struct {
	Message string `json:"message"`
}

const environmentLogsQuery = `
subscription environmentLogs($environmentId: String!, $filter: String!) {
  environmentLogs(environmentId: $environmentId, filter: $filter) {
    timestamp
    severity
    message
    tags
  }
}`

// SubscribeOptions customize one log subscription.
type SubscribeOptions struct {
	// Filter overrides the default "level:error" log filter.
	Filter string
}

// buildSubscription renders the subscribe payload for a target. With a
// service id the filter is scoped to that service.
func buildSubscription(environmentID, serviceID string, opts SubscribeOptions) subscribePayload {
	filter := opts.Filter
	if filter == "" {
		filter = "level:error"
	}
	if serviceID != "" {
		filter = "service:" + serviceID + " " + filter
	}
	return subscribePayload{
		Query: environmentLogsQuery,
		Variables: map[string]any{
			"environmentId": environmentID,
			"filter":        filter,
		},
	}
}

func marshalFrame(f frame) []byte {
	data, _ := json.Marshal(f)
	return data
}
