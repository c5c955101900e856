package repository

import (
	"context"
	"time"
)

// User es una identidad del hub. Roles y Groups se resuelven al leer.
type User struct {
	Name         string
	Admin        bool
	Roles        []string
	Groups       []string
	CreatedAt    time.Time
	LastActivity *time.Time // nil hasta que el usuario se ve por primera vez

	// AuthState es el blob opaco devuelto por el Authenticator,
	// ya cifrado con secretbox. Nunca se expone por la API.
	AuthState string
}

// ListUsersFilter filtra y pagina el listado de usuarios.
type ListUsersFilter struct {
	Offset int
	Limit  int
	Names  []string // si no está vacío, solo estos usuarios
}

// UserRepository define operaciones sobre usuarios.
type UserRepository interface {
	// Create crea un usuario. Retorna ErrConflict si ya existe.
	Create(ctx context.Context, u *User) error

	// Get busca un usuario por nombre. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, name string) (*User, error)

	// List retorna usuarios ordenados por nombre.
	List(ctx context.Context, filter ListUsersFilter) ([]User, error)

	// Count retorna el total de usuarios.
	Count(ctx context.Context) (int, error)

	// Update persiste admin y auth_state.
	Update(ctx context.Context, u *User) error

	// TouchActivity actualiza last_activity si t es posterior al valor actual.
	TouchActivity(ctx context.Context, name string, t time.Time) error

	// Delete elimina el usuario junto con sus asignaciones y membresías.
	Delete(ctx context.Context, name string) error
}
