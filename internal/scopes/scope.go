// Package scopes resuelve roles a conjuntos de scopes y evalúa permisos.
//
// Un scope es un nombre de permiso (ej: "delete:servers") opcionalmente
// acotado por un filtro a un recurso concreto (ej: "!user=alice"). Los scopes
// se parsean una sola vez al resolver roles y se comparan como valores.
package scopes

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FilterKind es el tipo de recurso que acota un scope.
type FilterKind string

const (
	FilterNone    FilterKind = ""
	FilterUser    FilterKind = "user"
	FilterServer  FilterKind = "server"
	FilterGroup   FilterKind = "group"
	FilterService FilterKind = "service"
)

// Filter acota un scope. Value vacío con Kind != FilterNone es un
// placeholder ("!user") que se liga al principal al resolver.
type Filter struct {
	Kind  FilterKind
	Value string
}

// Bound indica si el filtro ya tiene valor concreto.
func (f Filter) Bound() bool {
	return f.Kind == FilterNone || f.Value != ""
}

func (f Filter) String() string {
	switch {
	case f.Kind == FilterNone:
		return ""
	case f.Value == "":
		return "!" + string(f.Kind)
	default:
		return "!" + string(f.Kind) + "=" + f.Value
	}
}

// Scope es un permiso parseado.
type Scope struct {
	Name   string
	Filter Filter
}

func (s Scope) String() string {
	return s.Name + s.Filter.String()
}

// Unfiltered retorna el scope sin filtro.
func (s Scope) Unfiltered() Scope {
	return Scope{Name: s.Name}
}

var (
	// ErrUnknownScope el nombre no está definido.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrBadFilter el filtro está malformado.
	ErrBadFilter = errors.New("invalid scope filter")
)

// Parse convierte "name[!kind[=value]]" en un Scope.
func Parse(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	name, filter, hasFilter := strings.Cut(raw, "!")
	if !Defined(name) {
		return Scope{}, fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}
	if !hasFilter {
		return Scope{Name: name}, nil
	}
	if name == MetaSelf || name == MetaInherit {
		return Scope{}, fmt.Errorf("%w: metascope %q cannot be filtered", ErrBadFilter, name)
	}

	kind, value, _ := strings.Cut(filter, "=")
	f := Filter{Kind: FilterKind(kind), Value: value}
	switch f.Kind {
	case FilterUser, FilterGroup, FilterService:
		if strings.Contains(value, "/") {
			return Scope{}, fmt.Errorf("%w: %q", ErrBadFilter, raw)
		}
	case FilterServer:
		if value != "" && !strings.Contains(value, "/") {
			return Scope{}, fmt.Errorf("%w: server filter must be user/name: %q", ErrBadFilter, raw)
		}
	default:
		return Scope{}, fmt.Errorf("%w: %q", ErrBadFilter, raw)
	}
	return Scope{Name: name, Filter: f}, nil
}

// MustParse es Parse que entra en pánico; solo para literales conocidos.
func MustParse(raw string) Scope {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseAll parsea una lista completa, fallando en el primer error.
func ParseAll(raw []string) ([]Scope, error) {
	out := make([]Scope, 0, len(raw))
	for _, r := range raw {
		s, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ─── Set ───

// Set es un conjunto de scopes ya expandidos.
type Set map[Scope]struct{}

// NewSet construye un Set a partir de scopes.
func NewSet(scopes ...Scope) Set {
	s := make(Set, len(scopes))
	for _, sc := range scopes {
		s[sc] = struct{}{}
	}
	return s
}

// FromStrings parsea scopes ya resueltos (ej: los guardados en un token).
// Entradas inválidas se descartan.
func FromStrings(raw []string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		if sc, err := Parse(r); err == nil {
			s[sc] = struct{}{}
		}
	}
	return s
}

// Add agrega scopes al conjunto.
func (s Set) Add(scopes ...Scope) {
	for _, sc := range scopes {
		s[sc] = struct{}{}
	}
}

// Has indica si el scope exacto está en el conjunto.
func (s Set) Has(sc Scope) bool {
	_, ok := s[sc]
	return ok
}

// HasUnfiltered indica si el nombre está presente sin filtro.
func (s Set) HasUnfiltered(name string) bool {
	return s.Has(Scope{Name: name})
}

// Names retorna los nombres presentes (con o sin filtro), ordenados.
func (s Set) Names() []string {
	seen := make(map[string]struct{}, len(s))
	for sc := range s {
		seen[sc.Name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Normalize elimina entradas filtradas redundantes con una sin filtro.
func (s Set) Normalize() Set {
	out := make(Set, len(s))
	for sc := range s {
		if sc.Filter.Kind != FilterNone && s.HasUnfiltered(sc.Name) {
			continue
		}
		out[sc] = struct{}{}
	}
	return out
}

// Strings retorna el conjunto serializado y ordenado.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc.String())
	}
	sort.Strings(out)
	return out
}

// Clone copia el conjunto.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for sc := range s {
		out[sc] = struct{}{}
	}
	return out
}
