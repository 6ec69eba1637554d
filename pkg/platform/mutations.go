package platform

import (
	"context"

	"github.com/google/uuid"
)

// Every mutation carries a caller-supplied or generated correlation id so
// a retried mutation can be recognized via a subsequent query before
// being re-issued.

const restartDeploymentMutation = `
mutation deploymentRestart($id: String!) {
  deploymentRestart(id: $id)
}`

// RestartDeployment restarts a deployment by id.
func (c *Client) RestartDeployment(ctx context.Context, deploymentID string) error {
	return c.mutate(ctx, restartDeploymentMutation, map[string]any{"id": deploymentID}, nil)
}

const redeployMutation = `
mutation serviceInstanceRedeploy($environmentId: String!, $serviceId: String!) {
  serviceInstanceRedeploy(environmentId: $environmentId, serviceId: $serviceId)
}`

// RedeployService triggers a fresh deployment of the current image.
func (c *Client) RedeployService(ctx context.Context, environmentID, serviceID string) error {
	vars := map[string]any{"environmentId": environmentID, "serviceId": serviceID}
	return c.mutate(ctx, redeployMutation, vars, nil)
}

const stopDeploymentMutation = `
mutation deploymentStop($id: String!) {
  deploymentStop(id: $id)
}`

// StopDeployment stops a running deployment.
func (c *Client) StopDeployment(ctx context.Context, deploymentID string) error {
	return c.mutate(ctx, stopDeploymentMutation, map[string]any{"id": deploymentID}, nil)
}

const cancelDeploymentMutation = `
mutation deploymentCancel($id: String!) {
  deploymentCancel(id: $id)
}`

// CancelDeployment cancels an in-flight deployment.
func (c *Client) CancelDeployment(ctx context.Context, deploymentID string) error {
	return c.mutate(ctx, cancelDeploymentMutation, map[string]any{"id": deploymentID}, nil)
}

const rollbackDeploymentMutation = `
mutation deploymentRollback($id: String!) {
  deploymentRollback(id: $id)
}`

// RollbackDeployment rolls the service back to the given deployment.
func (c *Client) RollbackDeployment(ctx context.Context, deploymentID string) error {
	return c.mutate(ctx, rollbackDeploymentMutation, map[string]any{"id": deploymentID}, nil)
}

const updateServiceInstanceMutation = `
mutation serviceInstanceUpdate($environmentId: String!, $serviceId: String!, $input: ServiceInstanceUpdateInput!) {
  serviceInstanceUpdate(environmentId: $environmentId, serviceId: $serviceId, input: $input)
}`

// UpdateServiceInstance updates instance settings such as replica count.
func (c *Client) UpdateServiceInstance(ctx context.Context, environmentID, serviceID string, numReplicas int) error {
	vars := map[string]any{
		"environmentId": environmentID,
		"serviceId":     serviceID,
		"input":         map[string]any{"numReplicas": numReplicas},
	}
	return c.mutate(ctx, updateServiceInstanceMutation, vars, nil)
}

const updateServiceLimitsMutation = `
mutation serviceInstanceLimitsUpdate($environmentId: String!, $serviceId: String!, $input: ServiceInstanceLimitsUpdateInput!) {
  serviceInstanceLimitsUpdate(environmentId: $environmentId, serviceId: $serviceId, input: $input)
}`

// UpdateServiceLimits updates the memory limit of a service instance.
func (c *Client) UpdateServiceLimits(ctx context.Context, environmentID, serviceID string, memoryMB int) error {
	vars := map[string]any{
		"environmentId": environmentID,
		"serviceId":     serviceID,
		"input":         map[string]any{"memoryMb": memoryMB},
	}
	return c.mutate(ctx, updateServiceLimitsMutation, vars, nil)
}

const upsertVariableMutation = `
mutation variableUpsert($input: VariableUpsertInput!) {
  variableUpsert(input: $input)
}`

// UpsertVariable creates or updates an environment variable.
func (c *Client) UpsertVariable(ctx context.Context, projectID, environmentID, serviceID, name, value string) error {
	vars := map[string]any{
		"input": map[string]any{
			"projectId":     projectID,
			"environmentId": environmentID,
			"serviceId":     serviceID,
			"name":          name,
			"value":         value,
		},
	}
	return c.mutate(ctx, upsertVariableMutation, vars, nil)
}

// NewCorrelationID returns a correlation id to attach to an action.
func NewCorrelationID() string {
	return uuid.New().String()
}
