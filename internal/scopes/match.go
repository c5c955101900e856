package scopes

import (
	"sort"
	"strings"
)

// MemberOf reporta si user pertenece a group. nil equivale a "nunca".
type MemberOf func(user, group string) bool

func (m MemberOf) check(user, group string) bool {
	return m != nil && user != "" && m(user, group)
}

// Resource es el objetivo de una request, derivado del path.
type Resource struct {
	Kind    FilterKind // FilterNone = recurso global del hub
	User    string
	Server  string // nombre del server dentro de User ("" = default)
	Group   string
	Service string
}

// UserResource crea el recurso de un usuario.
func UserResource(user string) Resource {
	return Resource{Kind: FilterUser, User: user}
}

// ServerResource crea el recurso de un server.
func ServerResource(user, server string) Resource {
	return Resource{Kind: FilterServer, User: user, Server: server}
}

// GroupResource crea el recurso de un grupo.
func GroupResource(group string) Resource {
	return Resource{Kind: FilterGroup, Group: group}
}

// ServiceResource crea el recurso de un service.
func ServiceResource(service string) Resource {
	return Resource{Kind: FilterService, Service: service}
}

func (r Resource) String() string {
	switch r.Kind {
	case FilterUser:
		return "user:" + r.User
	case FilterServer:
		return "server:" + r.User + "/" + r.Server
	case FilterGroup:
		return "group:" + r.Group
	case FilterService:
		return "service:" + r.Service
	default:
		return "hub"
	}
}

// Allows indica si el conjunto concede required sobre el recurso.
func Allows(set Set, required string, res Resource, memberOf MemberOf) bool {
	if set.HasUnfiltered(required) {
		return true
	}
	for sc := range set {
		if sc.Name == required && filterMatches(sc.Filter, res, memberOf) {
			return true
		}
	}
	return false
}

func filterMatches(f Filter, res Resource, memberOf MemberOf) bool {
	switch f.Kind {
	case FilterUser:
		return res.User != "" && res.User == f.Value
	case FilterServer:
		return res.Kind == FilterServer && res.User+"/"+res.Server == f.Value
	case FilterGroup:
		if res.Kind == FilterGroup {
			return res.Group == f.Value
		}
		return memberOf.check(res.User, f.Value)
	case FilterService:
		return res.Kind == FilterService && res.Service == f.Value
	}
	return false
}

// Intersect retorna los permisos presentes en ambos conjuntos, intersectando
// filtros: "servers" ∩ "servers!user=alice" = "servers!user=alice".
func Intersect(a, b Set, memberOf MemberOf) Set {
	out := make(Set)
	for _, name := range a.Names() {
		fa := filtersFor(a, name)
		fb := filtersFor(b, name)
		if len(fb) == 0 {
			continue
		}
		switch {
		case hasNone(fa):
			addAll(out, name, fb)
		case hasNone(fb):
			addAll(out, name, fa)
		default:
			for _, x := range fa {
				for _, y := range fb {
					if f, ok := intersectFilter(x, y, memberOf); ok {
						out[Scope{Name: name, Filter: f}] = struct{}{}
					}
				}
			}
		}
	}
	return out.Normalize()
}

// Covers indica si available concede sc (mismo permiso, filtro igual o más amplio).
func Covers(available Set, sc Scope, memberOf MemberOf) bool {
	if available.HasUnfiltered(sc.Name) {
		return true
	}
	if sc.Filter.Kind == FilterNone {
		return false
	}
	for _, f := range filtersFor(available, sc.Name) {
		if got, ok := intersectFilter(f, sc.Filter, memberOf); ok && got == sc.Filter {
			return true
		}
	}
	return false
}

// Missing retorna los scopes de requested no cubiertos por available.
func Missing(requested, available Set, memberOf MemberOf) []string {
	var out []string
	for sc := range requested {
		if !Covers(available, sc, memberOf) {
			out = append(out, sc.String())
		}
	}
	sort.Strings(out)
	return out
}

func filtersFor(s Set, name string) []Filter {
	var out []Filter
	for sc := range s {
		if sc.Name == name {
			out = append(out, sc.Filter)
		}
	}
	return out
}

func hasNone(fs []Filter) bool {
	for _, f := range fs {
		if f.Kind == FilterNone {
			return true
		}
	}
	return false
}

func addAll(out Set, name string, fs []Filter) {
	for _, f := range fs {
		out[Scope{Name: name, Filter: f}] = struct{}{}
	}
}

// intersectFilter retorna el filtro más estrecho contenido en ambos.
func intersectFilter(x, y Filter, memberOf MemberOf) (Filter, bool) {
	if x == y {
		return x, true
	}
	if rank(x.Kind) > rank(y.Kind) {
		x, y = y, x
	}
	// x es el más amplio: group > user > server
	switch {
	case x.Kind == FilterUser && y.Kind == FilterServer:
		if serverOwner(y.Value) == x.Value {
			return y, true
		}
	case x.Kind == FilterGroup && y.Kind == FilterUser:
		if memberOf.check(y.Value, x.Value) {
			return y, true
		}
	case x.Kind == FilterGroup && y.Kind == FilterServer:
		if memberOf.check(serverOwner(y.Value), x.Value) {
			return y, true
		}
	}
	return Filter{}, false
}

func rank(k FilterKind) int {
	switch k {
	case FilterGroup:
		return 0
	case FilterUser:
		return 1
	case FilterServer:
		return 2
	default:
		return 3
	}
}

func serverOwner(key string) string {
	user, _, _ := strings.Cut(key, "/")
	return user
}
