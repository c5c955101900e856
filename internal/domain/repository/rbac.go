package repository

import "context"

// Role es un conjunto nombrado de scopes.
type Role struct {
	Name        string
	Description string
	Scopes      []string
}

// Group es un conjunto nombrado de usuarios. Los roles del grupo
// aplican a todos sus miembros.
type Group struct {
	Name    string
	Roles   []string
	Members []string
}

// RoleRepository define operaciones sobre roles y sus asignaciones.
type RoleRepository interface {
	// Upsert crea o reemplaza un rol.
	Upsert(ctx context.Context, r *Role) error
	Get(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Delete(ctx context.Context, name string) error

	// Assigned retorna los nombres de roles asignados a la entidad.
	Assigned(ctx context.Context, kind EntityKind, name string) ([]string, error)

	// SetAssignments reemplaza los roles asignados a la entidad.
	// Retorna ErrNotFound si algún rol no existe.
	SetAssignments(ctx context.Context, kind EntityKind, name string, roles []string) error
}

// EntityKind identifica a quién se le asigna un rol.
type EntityKind string

const (
	EntityUser    EntityKind = "user"
	EntityGroup   EntityKind = "group"
	EntityService EntityKind = "service"
)

// GroupRepository define operaciones sobre grupos.
type GroupRepository interface {
	// Create retorna ErrConflict si el grupo ya existe.
	Create(ctx context.Context, g *Group) error
	Get(ctx context.Context, name string) (*Group, error)
	List(ctx context.Context, offset, limit int) ([]Group, error)
	Delete(ctx context.Context, name string) error

	AddMembers(ctx context.Context, group string, users []string) error
	RemoveMembers(ctx context.Context, group string, users []string) error

	// GroupsOf retorna los grupos a los que pertenece el usuario.
	GroupsOf(ctx context.Context, user string) ([]string, error)
}
