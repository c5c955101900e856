// Package memory implementa un adapter de store en memoria.
// Se usa en desarrollo y en tests; el estado no sobrevive al proceso.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(_ context.Context, _ store.AdapterConfig) (store.Store, error) {
	return New(), nil
}

// Store guarda todo en mapas protegidos por un único RWMutex.
type Store struct {
	mu sync.RWMutex

	users       map[string]*repository.User
	servers     map[string]*repository.Server // key: user/name
	tokens      map[string]*repository.APIToken
	tokenHashes map[string]string // hash -> id
	roles       map[string]*repository.Role
	assignments map[assignKey]map[string]struct{}
	groups      map[string]*repository.Group
	services    map[string]*repository.Service
	clients     map[string]*repository.OAuthClient
}

type assignKey struct {
	kind repository.EntityKind
	name string
}

// New crea un store vacío.
func New() *Store {
	return &Store{
		users:       make(map[string]*repository.User),
		servers:     make(map[string]*repository.Server),
		tokens:      make(map[string]*repository.APIToken),
		tokenHashes: make(map[string]string),
		roles:       make(map[string]*repository.Role),
		assignments: make(map[assignKey]map[string]struct{}),
		groups:      make(map[string]*repository.Group),
		services:    make(map[string]*repository.Service),
		clients:     make(map[string]*repository.OAuthClient),
	}
}

func (s *Store) Name() string                 { return "memory" }
func (s *Store) Ping(_ context.Context) error { return nil }
func (s *Store) Close() error                 { return nil }

// ─── Repositorios ───

func (s *Store) Users() repository.UserRepository               { return (*userRepo)(s) }
func (s *Store) Servers() repository.ServerRepository           { return (*serverRepo)(s) }
func (s *Store) Tokens() repository.TokenRepository             { return (*tokenRepo)(s) }
func (s *Store) Roles() repository.RoleRepository               { return (*roleRepo)(s) }
func (s *Store) Groups() repository.GroupRepository             { return (*groupRepo)(s) }
func (s *Store) Services() repository.ServiceRepository         { return (*serviceRepo)(s) }
func (s *Store) OAuthClients() repository.OAuthClientRepository { return (*clientRepo)(s) }

// ─── helpers ───

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// assignedLocked retorna los roles de la entidad. Requiere s.mu tomado.
func (s *Store) assignedLocked(kind repository.EntityKind, name string) []string {
	var out []string
	for k, set := range s.assignments {
		if k.kind == kind && k.name == name {
			out = append(out, sortedKeys(set)...)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) groupsOfLocked(user string) []string {
	var out []string
	for name, g := range s.groups {
		for _, m := range g.Members {
			if m == user {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
