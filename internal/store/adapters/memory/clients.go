package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── OAuth clients ───

type clientRepo Store

func (r *clientRepo) Upsert(_ context.Context, c *repository.OAuthClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.AllowedScopes = cloneStrings(c.AllowedScopes)
	if prev, ok := r.clients[c.ClientID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.clients[c.ClientID] = &cp
	return nil
}

func (r *clientRepo) Get(_ context.Context, clientID string) (*repository.OAuthClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	cp.AllowedScopes = cloneStrings(c.AllowedScopes)
	return &cp, nil
}

func (r *clientRepo) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.clients, clientID)
	return nil
}

// ─── Services ───

type serviceRepo Store

func (r *serviceRepo) copyLocked(s *repository.Service) repository.Service {
	cp := *s
	cp.Roles = (*Store)(r).assignedLocked(repository.EntityService, s.Name)
	return cp
}

func (r *serviceRepo) Upsert(_ context.Context, s *repository.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Roles = nil
	if prev, ok := r.services[s.Name]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.services[s.Name] = &cp
	return nil
}

func (r *serviceRepo) Get(_ context.Context, name string) (*repository.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := r.copyLocked(s)
	return &cp, nil
}

func (r *serviceRepo) List(_ context.Context) ([]repository.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, r.copyLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *serviceRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return repository.ErrNotFound
	}
	delete(r.services, name)
	delete(r.assignments, assignKey{kind: repository.EntityService, name: name})
	return nil
}
