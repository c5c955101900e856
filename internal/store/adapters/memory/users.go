package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

type userRepo Store

func (r *userRepo) copyLocked(u *repository.User) *repository.User {
	s := (*Store)(r)
	out := *u
	out.LastActivity = cloneTime(u.LastActivity)
	out.Roles = s.assignedLocked(repository.EntityUser, u.Name)
	out.Groups = s.groupsOfLocked(u.Name)
	return &out
}

func (r *userRepo) Create(_ context.Context, u *repository.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Name]; ok {
		return repository.ErrConflict
	}
	cp := *u
	cp.Roles, cp.Groups = nil, nil
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.users[u.Name] = &cp
	u.CreatedAt = cp.CreatedAt
	return nil
}

func (r *userRepo) Get(_ context.Context, name string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.copyLocked(u), nil
}

func (r *userRepo) List(_ context.Context, f repository.ListUsersFilter) ([]repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.users))
	if len(f.Names) > 0 {
		for _, n := range f.Names {
			if _, ok := r.users[n]; ok {
				names = append(names, n)
			}
		}
	} else {
		for n := range r.users {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	if f.Offset > 0 {
		if f.Offset >= len(names) {
			return []repository.User{}, nil
		}
		names = names[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(names) {
		names = names[:f.Limit]
	}

	out := make([]repository.User, 0, len(names))
	for _, n := range names {
		out = append(out, *r.copyLocked(r.users[n]))
	}
	return out, nil
}

func (r *userRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func (r *userRepo) Update(_ context.Context, u *repository.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[u.Name]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Admin = u.Admin
	cur.AuthState = u.AuthState
	return nil
}

func (r *userRepo) TouchActivity(_ context.Context, name string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[name]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.LastActivity == nil || t.After(*cur.LastActivity) {
		cur.LastActivity = &t
	}
	return nil
}

func (r *userRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[name]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, name)
	for k, srv := range r.servers {
		if srv.User == name {
			delete(r.servers, k)
		}
	}
	for k := range r.assignments {
		if k.kind == repository.EntityUser && k.name == name {
			delete(r.assignments, k)
		}
	}
	for _, g := range r.groups {
		g.Members = removeAll(g.Members, name)
	}
	return nil
}

func removeAll(in []string, drop ...string) []string {
	out := in[:0]
	for _, v := range in {
		keep := true
		for _, d := range drop {
			if v == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, v)
		}
	}
	return out
}
