package memory

import (
	"context"
	"sort"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── Roles ───

type roleRepo Store

func (r *roleRepo) Upsert(_ context.Context, role *repository.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *role
	cp.Scopes = cloneStrings(role.Scopes)
	r.roles[role.Name] = &cp
	return nil
}

func (r *roleRepo) Get(_ context.Context, name string) (*repository.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *role
	cp.Scopes = cloneStrings(role.Scopes)
	return &cp, nil
}

func (r *roleRepo) List(_ context.Context) ([]repository.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]repository.Role, 0, len(r.roles))
	for _, role := range r.roles {
		cp := *role
		cp.Scopes = cloneStrings(role.Scopes)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roleRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[name]; !ok {
		return repository.ErrNotFound
	}
	delete(r.roles, name)
	for _, set := range r.assignments {
		delete(set, name)
	}
	return nil
}

func (r *roleRepo) Assigned(_ context.Context, kind repository.EntityKind, name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return (*Store)(r).assignedLocked(kind, name), nil
}

func (r *roleRepo) SetAssignments(_ context.Context, kind repository.EntityKind, name string, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if _, ok := r.roles[role]; !ok {
			return repository.ErrNotFound
		}
		set[role] = struct{}{}
	}
	r.assignments[assignKey{kind: kind, name: name}] = set
	return nil
}

// ─── Groups ───

type groupRepo Store

func copyGroup(s *Store, g *repository.Group) repository.Group {
	return repository.Group{
		Name:    g.Name,
		Members: cloneStrings(g.Members),
		Roles:   s.assignedLocked(repository.EntityGroup, g.Name),
	}
}

func (r *groupRepo) Create(_ context.Context, g *repository.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.Name]; ok {
		return repository.ErrConflict
	}
	for _, m := range g.Members {
		if _, ok := r.users[m]; !ok {
			return repository.ErrNotFound
		}
	}
	r.groups[g.Name] = &repository.Group{Name: g.Name, Members: cloneStrings(g.Members)}
	return nil
}

func (r *groupRepo) Get(_ context.Context, name string) (*repository.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyGroup((*Store)(r), g)
	return &out, nil
}

func (r *groupRepo) List(_ context.Context, offset, limit int) ([]repository.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.groups))
	for n := range r.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	if offset > 0 {
		if offset >= len(names) {
			return []repository.Group{}, nil
		}
		names = names[offset:]
	}
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}
	out := make([]repository.Group, 0, len(names))
	for _, n := range names {
		out = append(out, copyGroup((*Store)(r), r.groups[n]))
	}
	return out, nil
}

func (r *groupRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[name]; !ok {
		return repository.ErrNotFound
	}
	delete(r.groups, name)
	delete(r.assignments, assignKey{kind: repository.EntityGroup, name: name})
	return nil
}

func (r *groupRepo) AddMembers(_ context.Context, group string, users []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[group]
	if !ok {
		return repository.ErrNotFound
	}
	for _, u := range users {
		if _, ok := r.users[u]; !ok {
			return repository.ErrNotFound
		}
	}
	for _, u := range users {
		found := false
		for _, m := range g.Members {
			if m == u {
				found = true
				break
			}
		}
		if !found {
			g.Members = append(g.Members, u)
		}
	}
	sort.Strings(g.Members)
	return nil
}

func (r *groupRepo) RemoveMembers(_ context.Context, group string, users []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[group]
	if !ok {
		return repository.ErrNotFound
	}
	g.Members = removeAll(g.Members, users...)
	return nil
}

func (r *groupRepo) GroupsOf(_ context.Context, user string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return (*Store)(r).groupsOfLocked(user), nil
}
