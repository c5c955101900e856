package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

type tokenRepo Store

func copyToken(t *repository.APIToken) *repository.APIToken {
	out := *t
	out.Scopes = cloneStrings(t.Scopes)
	out.ExpiresAt = cloneTime(t.ExpiresAt)
	out.LastActivity = cloneTime(t.LastActivity)
	return &out
}

func (r *tokenRepo) Create(_ context.Context, t *repository.APIToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.tokenHashes[t.TokenHash]; ok {
		return repository.ErrConflict
	}
	r.tokens[t.ID] = copyToken(t)
	r.tokenHashes[t.TokenHash] = t.ID
	return nil
}

func (r *tokenRepo) GetByHash(_ context.Context, hash string) (*repository.APIToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tokenHashes[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyToken(r.tokens[id]), nil
}

func (r *tokenRepo) GetByID(_ context.Context, id string) (*repository.APIToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyToken(t), nil
}

func (r *tokenRepo) ListByOwner(_ context.Context, kind repository.OwnerKind, owner string) ([]repository.APIToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.APIToken
	for _, t := range r.tokens {
		if t.OwnerKind == kind && t.Owner == owner {
			out = append(out, *copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *tokenRepo) deleteLocked(id string) {
	if t, ok := r.tokens[id]; ok {
		delete(r.tokenHashes, t.TokenHash)
		delete(r.tokens, id)
	}
}

func (r *tokenRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[id]; !ok {
		return repository.ErrNotFound
	}
	r.deleteLocked(id)
	return nil
}

func (r *tokenRepo) deleteWhere(match func(*repository.APIToken) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tokens {
		if match(t) {
			r.deleteLocked(id)
			n++
		}
	}
	return n
}

func (r *tokenRepo) DeleteBySession(_ context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	return r.deleteWhere(func(t *repository.APIToken) bool { return t.SessionID == sessionID }), nil
}

func (r *tokenRepo) DeleteByOwner(_ context.Context, kind repository.OwnerKind, owner string) (int, error) {
	return r.deleteWhere(func(t *repository.APIToken) bool { return t.OwnerKind == kind && t.Owner == owner }), nil
}

func (r *tokenRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	return r.deleteWhere(func(t *repository.APIToken) bool { return t.Expired(now) }), nil
}

func (r *tokenRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.LastActivity = &at
	return nil
}
