package memory

import (
	"context"
	"sort"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

type serverRepo Store

func copyServer(s *repository.Server) *repository.Server {
	out := *s
	out.UserOptions = cloneMap(s.UserOptions)
	out.BackendState = cloneMap(s.BackendState)
	out.StartedAt = cloneTime(s.StartedAt)
	out.LastActivity = cloneTime(s.LastActivity)
	return &out
}

func (r *serverRepo) Create(_ context.Context, s *repository.Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[s.User]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.servers[s.Key()]; ok {
		return repository.ErrConflict
	}
	r.servers[s.Key()] = copyServer(s)
	return nil
}

func (r *serverRepo) Get(_ context.Context, user, name string) (*repository.Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[user+"/"+name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyServer(s), nil
}

func (r *serverRepo) ListByUser(_ context.Context, user string) ([]repository.Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Server
	for _, s := range r.servers {
		if s.User == user {
			out = append(out, *copyServer(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *serverRepo) ListByState(_ context.Context, states ...repository.ServerState) ([]repository.Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Server
	for _, s := range r.servers {
		if len(states) == 0 || hasState(states, s.State) {
			out = append(out, *copyServer(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func hasState(states []repository.ServerState, s repository.ServerState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func (r *serverRepo) Save(_ context.Context, s *repository.Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[s.Key()]; !ok {
		return repository.ErrNotFound
	}
	r.servers[s.Key()] = copyServer(s)
	return nil
}

func (r *serverRepo) Delete(_ context.Context, user, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := user + "/" + name
	if _, ok := r.servers[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.servers, key)
	return nil
}
