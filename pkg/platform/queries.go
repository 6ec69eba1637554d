package platform

import (
	"context"
	"sort"
	"time"
)

// Service describes a platform service with its per-environment instances.
type Service struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Instances []ServiceInstance `json:"instances"`
}

// ServiceInstance is the deployment slot of a service in one environment.
type ServiceInstance struct {
	EnvironmentID    string      `json:"environmentId"`
	NumReplicas      int         `json:"numReplicas"`
	MemoryLimitMB    int         `json:"memoryLimitMb"`
	LatestDeployment *Deployment `json:"latestDeployment"`
}

// Deployment is one deployment of a service.
type Deployment struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	ServiceID     string    `json:"serviceId"`
	EnvironmentID string    `json:"environmentId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// LogLine is one raw log entry from the deployment logs query.
type LogLine struct {
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Tags      map[string]any `json:"tags"`
}

// Variable is one environment variable visible to a service.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const serviceQuery = `
query service($id: String!) {
  service(id: $id) {
    id
    name
    serviceInstances {
      edges { node { environmentId numReplicas memoryLimitMb latestDeployment { id status createdAt } } }
    }
  }
}`

// GetService fetches a service with its instances.
func (c *Client) GetService(ctx context.Context, serviceID string) (*Service, error) {
	var resp struct {
		Service struct {
			ID               string `json:"id"`
			Name             string `json:"name"`
			ServiceInstances struct {
				Edges []struct {
					Node ServiceInstance `json:"node"`
				} `json:"edges"`
			} `json:"serviceInstances"`
		} `json:"service"`
	}
	if err := c.execute(ctx, serviceQuery, map[string]any{"id": serviceID}, &resp); err != nil {
		return nil, err
	}
	svc := &Service{ID: resp.Service.ID, Name: resp.Service.Name}
	for _, edge := range resp.Service.ServiceInstances.Edges {
		svc.Instances = append(svc.Instances, edge.Node)
	}
	return svc, nil
}

const deploymentsQuery = `
query deployments($projectId: String!, $environmentId: String!, $serviceId: String!, $first: Int!) {
  deployments(
    input: {projectId: $projectId, environmentId: $environmentId, serviceId: $serviceId}
    first: $first
  ) {
    edges { node { id status serviceId environmentId createdAt } }
  }
}`

// ListDeployments returns recent deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, projectID, environmentID, serviceID string, limit int) ([]Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	var resp struct {
		Deployments struct {
			Edges []struct {
				Node Deployment `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	vars := map[string]any{
		"projectId":     projectID,
		"environmentId": environmentID,
		"serviceId":     serviceID,
		"first":         limit,
	}
	if err := c.execute(ctx, deploymentsQuery, vars, &resp); err != nil {
		return nil, err
	}
	deployments := make([]Deployment, 0, len(resp.Deployments.Edges))
	for _, edge := range resp.Deployments.Edges {
		deployments = append(deployments, edge.Node)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
	})
	return deployments, nil
}

const deploymentLogsQuery = `
query deploymentLogs($deploymentId: String!, $limit: Int!) {
  deploymentLogs(deploymentId: $deploymentId, limit: $limit) {
    timestamp
    severity
    message
    tags
  }
}`

// GetDeploymentLogs fetches up to limit recent log lines of a deployment.
func (c *Client) GetDeploymentLogs(ctx context.Context, deploymentID string, limit int) ([]LogLine, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var resp struct {
		DeploymentLogs []LogLine `json:"deploymentLogs"`
	}
	vars := map[string]any{"deploymentId": deploymentID, "limit": limit}
	if err := c.execute(ctx, deploymentLogsQuery, vars, &resp); err != nil {
		return nil, err
	}
	return resp.DeploymentLogs, nil
}

const variablesQuery = `
query variables($projectId: String!, $environmentId: String!, $serviceId: String!) {
  variables(projectId: $projectId, environmentId: $environmentId, serviceId: $serviceId)
}`

// GetVariables fetches the variables visible to a service in an environment.
func (c *Client) GetVariables(ctx context.Context, projectID, environmentID, serviceID string) (map[string]string, error) {
	var resp struct {
		Variables map[string]string `json:"variables"`
	}
	vars := map[string]any{
		"projectId":     projectID,
		"environmentId": environmentID,
		"serviceId":     serviceID,
	}
	if err := c.execute(ctx, variablesQuery, vars, &resp); err != nil {
		return nil, err
	}
	return resp.Variables, nil
}

// LatestDeploymentID inspects the service's instance list, filters by
// environment, and returns the latest deployment id. Distinct errors for
// "no instance matched env" and "instance has no deployment yet".
func (c *Client) LatestDeploymentID(ctx context.Context, serviceID, environmentID string) (string, error) {
	svc, err := c.GetService(ctx, serviceID)
	if err != nil {
		return "", err
	}
	for _, inst := range svc.Instances {
		if inst.EnvironmentID != environmentID {
			continue
		}
		if inst.LatestDeployment == nil || inst.LatestDeployment.ID == "" {
			return "", ErrNoDeployment
		}
		return inst.LatestDeployment.ID, nil
	}
	return "", ErrNoInstanceForEnvironment
}

// PreviousSuccessfulDeploymentID returns the second-most-recent deployment
// in SUCCESS state, the rollback target.
func (c *Client) PreviousSuccessfulDeploymentID(ctx context.Context, projectID, environmentID, serviceID string) (string, error) {
	deployments, err := c.ListDeployments(ctx, projectID, environmentID, serviceID, 20)
	if err != nil {
		return "", err
	}
	succeeded := 0
	for _, d := range deployments {
		if d.Status != "SUCCESS" {
			continue
		}
		succeeded++
		if succeeded == 2 {
			return d.ID, nil
		}
	}
	return "", ErrNoRollbackTarget
}

// DeploymentStatus returns the status string of one deployment. Used by
// the coordinator to re-evaluate stale in-progress actions after restart.
func (c *Client) DeploymentStatus(ctx context.Context, deploymentID string) (string, error) {
	const query = `
query deployment($id: String!) {
  deployment(id: $id) { id status }
}`
	var resp struct {
		Deployment Deployment `json:"deployment"`
	}
	if err := c.execute(ctx, query, map[string]any{"id": deploymentID}, &resp); err != nil {
		return "", err
	}
	return resp.Deployment.Status, nil
}
