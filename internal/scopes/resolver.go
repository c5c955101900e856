package scopes

import (
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// Principal es la entidad para la que se resuelven scopes. Los
// placeholders !user / !server / !service se ligan a sus campos.
type Principal struct {
	Kind repository.OwnerKind
	Name string

	// Server es "user/name" cuando el principal actúa como un server concreto.
	Server string
}

// UserPrincipal crea un principal de usuario.
func UserPrincipal(name string) Principal {
	return Principal{Kind: repository.OwnerUser, Name: name}
}

// ServicePrincipal crea un principal de service.
func ServicePrincipal(name string) Principal {
	return Principal{Kind: repository.OwnerService, Name: name}
}

// Options configura el Resolver.
type Options struct {
	// SelfAccess habilita la expansión completa del metascope self.
	// Deshabilitado, self solo concede identidad.
	SelfAccess bool

	// CacheTTL vida de las expansiones memorizadas. 0 = 30m.
	CacheTTL time.Duration
}

// Resolver expande roles a scopes y memoriza la expansión por conjunto de roles.
// Es seguro para uso concurrente.
type Resolver struct {
	selfAccess bool
	memo       *gocache.Cache
}

// NewResolver crea un Resolver.
func NewResolver(opts Options) *Resolver {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Resolver{
		selfAccess: opts.SelfAccess,
		memo:       gocache.New(ttl, 2*ttl),
	}
}

// Resolve computa los scopes efectivos de un conjunto de roles para el principal.
// Los roles con scopes inválidos devuelven error; inherit se ignora aquí
// (solo tiene sentido al emitir tokens, ver ResolveRequested).
func (r *Resolver) Resolve(roles []repository.Role, p Principal) (Set, error) {
	var raw []string
	for _, role := range roles {
		raw = append(raw, role.Scopes...)
	}
	unbound, err := r.expand(raw, p.Kind)
	if err != nil {
		return nil, err
	}
	return bind(unbound, p, nil), nil
}

// ResolveRequested expande scopes pedidos explícitamente (ej: al emitir un
// token). inherit se reemplaza por owner, que debe estar ya resuelto.
func (r *Resolver) ResolveRequested(raw []string, p Principal, owner Set) (Set, error) {
	unbound, err := r.expand(raw, p.Kind)
	if err != nil {
		return nil, err
	}
	return bind(unbound, p, owner), nil
}

// expand parsea y expande scopes sin ligar placeholders.
func (r *Resolver) expand(raw []string, kind repository.OwnerKind) (Set, error) {
	key := memoKey(raw, kind)
	if v, ok := r.memo.Get(key); ok {
		return v.(Set), nil
	}

	parsed, err := ParseAll(raw)
	if err != nil {
		return nil, err
	}

	var concrete []Scope
	for _, sc := range parsed {
		if sc.Name == MetaSelf {
			concrete = append(concrete, r.selfExpansion(kind)...)
			continue
		}
		concrete = append(concrete, sc)
	}

	set := Expand(concrete...)
	r.memo.SetDefault(key, set)
	return set, nil
}

func (r *Resolver) selfExpansion(kind repository.OwnerKind) []Scope {
	if kind == repository.OwnerService {
		return []Scope{{Name: "read:services", Filter: Filter{Kind: FilterService}}}
	}
	names := selfScopes
	if !r.selfAccess {
		names = selfIdentityScopes
	}
	out := make([]Scope, 0, len(names))
	for _, n := range names {
		out = append(out, Scope{Name: n, Filter: Filter{Kind: FilterUser}})
	}
	return out
}

// Invalidate descarta todas las expansiones memorizadas (ej: al cambiar un rol).
func (r *Resolver) Invalidate() {
	r.memo.Flush()
}

func memoKey(raw []string, kind repository.OwnerKind) string {
	uniq := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		uniq[strings.TrimSpace(s)] = struct{}{}
	}
	keys := make([]string, 0, len(uniq))
	for s := range uniq {
		keys = append(keys, s)
	}
	sort.Strings(keys)
	return string(kind) + "|" + strings.Join(keys, "\x00")
}

// bind liga los placeholders al principal. Los que no se pueden ligar
// (ej: !server sin server) se descartan. inherit se reemplaza por owner.
func bind(in Set, p Principal, owner Set) Set {
	out := make(Set, len(in))
	for sc := range in {
		if sc.Name == MetaInherit {
			for o := range owner {
				out[o] = struct{}{}
			}
			continue
		}
		if sc.Filter.Bound() {
			out[sc] = struct{}{}
			continue
		}
		var value string
		switch sc.Filter.Kind {
		case FilterUser:
			if p.Kind == repository.OwnerUser {
				value = p.Name
			}
		case FilterServer:
			value = p.Server
		case FilterService:
			if p.Kind == repository.OwnerService {
				value = p.Name
			}
		}
		if value == "" {
			continue
		}
		sc.Filter.Value = value
		out[sc] = struct{}{}
	}
	return out.Normalize()
}
