package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/railwatch/railwatch/pkg/broker"
	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/models"
)

// PolicyStore persists per-service remediation policies. One row per
// service, created on first observation, never auto-deleted.
type PolicyStore struct {
	db     *database.Client
	bus    broker.Broker
	logger *slog.Logger

	cacheMu sync.RWMutex
	cache   map[string]models.ServicePolicy
}

const policyColumns = `service_id, service_name, auto_remediation_enabled,
default_memory_mb, default_replicas, llm_provider, confidence_threshold,
created_at, updated_at`

// NewPolicyStore creates a policy store. bus may be nil; updates then
// skip the cache-invalidation publish.
func NewPolicyStore(db *database.Client, bus broker.Broker) *PolicyStore {
	return &PolicyStore{
		db:     db,
		bus:    bus,
		logger: slog.Default().With("component", "policy-store"),
		cache:  make(map[string]models.ServicePolicy),
	}
}

// Get loads the policy for a service, from cache when present.
func (s *PolicyStore) Get(ctx context.Context, serviceID string) (*models.ServicePolicy, error) {
	s.cacheMu.RLock()
	if p, ok := s.cache[serviceID]; ok {
		s.cacheMu.RUnlock()
		return &p, nil
	}
	s.cacheMu.RUnlock()

	var p models.ServicePolicy
	err := s.db.GetContext(ctx, &p,
		`SELECT `+policyColumns+` FROM service_policies WHERE service_id = $1`, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	s.cacheMu.Lock()
	s.cache[serviceID] = p
	s.cacheMu.Unlock()
	return &p, nil
}

// GetOrCreate returns the service's policy, creating the default-disabled
// row on first observation.
func (s *PolicyStore) GetOrCreate(ctx context.Context, serviceID, serviceName string) (*models.ServicePolicy, error) {
	p, err := s.Get(ctx, serviceID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO service_policies (service_id, service_name)
		 VALUES ($1, $2) ON CONFLICT (service_id) DO NOTHING`,
		serviceID, serviceName)
	if err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	return s.Get(ctx, serviceID)
}

// Update writes the policy and invalidates caches across the process.
func (s *PolicyStore) Update(ctx context.Context, p *models.ServicePolicy) error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v out of range [0,1]", p.ConfidenceThreshold)
	}
	if p.LLMProvider != "" && !p.LLMProvider.IsValid() {
		return fmt.Errorf("invalid llm provider %q", p.LLMProvider)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE service_policies SET
			service_name = $1, auto_remediation_enabled = $2,
			default_memory_mb = $3, default_replicas = $4,
			llm_provider = $5, confidence_threshold = $6, updated_at = now()
		 WHERE service_id = $7`,
		p.ServiceName, p.AutoRemediationEnabled,
		p.DefaultMemoryMB, p.DefaultReplicas,
		p.LLMProvider, p.ConfidenceThreshold, p.ServiceID)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.Invalidate(p.ServiceID)
	if s.bus != nil {
		s.bus.Publish(broker.TopicPolicyUpdated, broker.PolicyUpdated{ServiceID: p.ServiceID})
	}
	return nil
}

// Invalidate drops the cached policy for a service.
func (s *PolicyStore) Invalidate(serviceID string) {
	s.cacheMu.Lock()
	delete(s.cache, serviceID)
	s.cacheMu.Unlock()
}

// WatchInvalidations consumes policy:updated until ctx is done, dropping
// cache entries written by other components.
func (s *PolicyStore) WatchInvalidations(ctx context.Context) {
	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe(broker.TopicPolicyUpdated, 16)
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if upd, ok := msg.Payload.(broker.PolicyUpdated); ok {
				s.Invalidate(upd.ServiceID)
			}
		}
	}
}

// ProviderFor resolves the service's LLM provider preference, defaulting
// to auto when no policy exists yet.
func (s *PolicyStore) ProviderFor(ctx context.Context, serviceID string) models.LLMProvider {
	p, err := s.Get(ctx, serviceID)
	if err != nil {
		return models.ProviderAuto
	}
	if !p.LLMProvider.IsValid() {
		return models.ProviderAuto
	}
	return p.LLMProvider
}

// List returns all policies, for the dashboard view.
func (s *PolicyStore) List(ctx context.Context) ([]models.ServicePolicy, error) {
	var policies []models.ServicePolicy
	err := s.db.SelectContext(ctx, &policies,
		`SELECT `+policyColumns+` FROM service_policies ORDER BY service_name`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}
