package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	"github.com/dropDatabas3/spawnhub/internal/store"
)

// Permissions resuelve los scopes *actuales* de un usuario o service a
// partir de sus roles y grupos. Es el lookup en vivo contra el que se
// intersectan los scopes de cada token.
//
// El resultado se cachea scopeTTL; el hub invalida la entrada de un dueño
// en cada cambio de roles o grupos que hace él mismo, así que el TTL solo
// acota cambios hechos por fuera del proceso.
type Permissions struct {
	st       store.Store
	resolver *scopes.Resolver
	cache    *gocache.Cache
	flight   singleflight.Group
}

// NewPermissions crea el lookup de permisos. ttl <= 0 deshabilita el cache.
func NewPermissions(st store.Store, resolver *scopes.Resolver, ttl time.Duration) *Permissions {
	p := &Permissions{st: st, resolver: resolver}
	if ttl > 0 {
		p.cache = gocache.New(ttl, 2*ttl)
	}
	return p
}

// Resolver expone el resolver compartido.
func (p *Permissions) Resolver() *scopes.Resolver {
	return p.resolver
}

func principalKey(pr scopes.Principal) string {
	return string(pr.Kind) + ":" + pr.Name
}

// Current retorna los scopes actuales del principal. El Set devuelto es
// compartido: no mutarlo. Retorna ErrOwnerNotFound si ya no existe.
func (p *Permissions) Current(ctx context.Context, pr scopes.Principal) (scopes.Set, error) {
	// Server se ignora: los permisos son del usuario dueño.
	owner := scopes.Principal{Kind: pr.Kind, Name: pr.Name}
	key := principalKey(owner)

	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			return v.(scopes.Set), nil
		}
	}

	v, err, _ := p.flight.Do(key, func() (any, error) {
		set, err := p.load(ctx, owner)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			p.cache.SetDefault(key, set)
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(scopes.Set), nil
}

func (p *Permissions) load(ctx context.Context, pr scopes.Principal) (scopes.Set, error) {
	var roleNames []string
	switch pr.Kind {
	case repository.OwnerUser:
		u, err := p.st.Users().Get(ctx, pr.Name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrOwnerNotFound
			}
			return nil, err
		}
		roleNames = append(roleNames, u.Roles...)
		for _, g := range u.Groups {
			grp, err := p.st.Groups().Get(ctx, g)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return nil, err
			}
			roleNames = append(roleNames, grp.Roles...)
		}
	case repository.OwnerService:
		svc, err := p.st.Services().Get(ctx, pr.Name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrOwnerNotFound
			}
			return nil, err
		}
		roleNames = svc.Roles
	default:
		return nil, fmt.Errorf("unknown owner kind %q", pr.Kind)
	}

	roles, err := p.roles(ctx, roleNames)
	if err != nil {
		return nil, err
	}
	return p.resolver.Resolve(roles, pr)
}

// roles carga las definiciones de roles por nombre. Roles borrados se ignoran.
func (p *Permissions) roles(ctx context.Context, names []string) ([]repository.Role, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]repository.Role, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		r, err := p.st.Roles().Get(ctx, n)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Invalidate descarta los permisos cacheados de un principal.
func (p *Permissions) Invalidate(pr scopes.Principal) {
	key := principalKey(scopes.Principal{Kind: pr.Kind, Name: pr.Name})
	p.flight.Forget(key)
	if p.cache != nil {
		p.cache.Delete(key)
	}
}

// InvalidateAll descarta todo (ej: cambió un grupo o un rol).
func (p *Permissions) InvalidateAll() {
	if p.cache != nil {
		p.cache.Flush()
	}
}

// MemberOf retorna una función de membresía que consulta el store y
// memoriza los resultados durante la vida de ctx (una request).
func (p *Permissions) MemberOf(ctx context.Context) scopes.MemberOf {
	memo := make(map[string][]string)
	return func(user, group string) bool {
		groups, ok := memo[user]
		if !ok {
			var err error
			groups, err = p.st.Groups().GroupsOf(ctx, user)
			if err != nil {
				groups = nil
			}
			memo[user] = groups
		}
		for _, g := range groups {
			if g == group {
				return true
			}
		}
		return false
	}
}
