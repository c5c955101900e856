// Package auth define el contrato con los Authenticators y dos
// implementaciones de desarrollo. Los proveedores reales (LDAP, OAuth, SSO)
// se enchufan implementando Authenticator.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/dropDatabas3/spawnhub/internal/security/password"
	"github.com/dropDatabas3/spawnhub/internal/validation"
)

// ErrRejected credenciales inválidas. No distingue usuario inexistente de
// password incorrecta.
var ErrRejected = errors.New("authentication rejected")

// Credentials es lo que envía el login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Result es una autenticación exitosa.
type Result struct {
	Name string

	// Groups, si no es nil, reemplaza las membresías del usuario.
	Groups []string

	// Admin, si no es nil, fija el flag admin.
	Admin *bool

	// AuthState es un blob opaco que se persiste cifrado.
	AuthState map[string]any
}

// Authenticator valida credenciales.
type Authenticator interface {
	Authenticate(ctx context.Context, c Credentials) (*Result, error)
}

// NormalizeUsername pasa a minúsculas y recorta espacios.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidUsername indica si el nombre es aceptable como identidad del hub.
func ValidUsername(name string) bool {
	return validation.ValidUsername(name)
}

// ─── Dummy ───

// Dummy acepta cualquier usuario. Si Password no es vacío, exige esa
// password compartida.
type Dummy struct {
	Password string
}

func (d *Dummy) Authenticate(_ context.Context, c Credentials) (*Result, error) {
	name := NormalizeUsername(c.Username)
	if !ValidUsername(name) {
		return nil, ErrRejected
	}
	if d.Password != "" && subtle.ConstantTimeCompare([]byte(d.Password), []byte(c.Password)) != 1 {
		return nil, ErrRejected
	}
	return &Result{Name: name}, nil
}

// ─── Static ───

// StaticUser es un usuario declarado en la configuración.
type StaticUser struct {
	PasswordHash string   // argon2id PHC
	Groups       []string // nil = no tocar membresías
	Admin        bool
}

// Static autentica contra una lista fija de usuarios con password argon2id.
type Static struct {
	Users map[string]StaticUser
}

func (s *Static) Authenticate(_ context.Context, c Credentials) (*Result, error) {
	name := NormalizeUsername(c.Username)
	u, ok := s.Users[name]
	if !ok || u.PasswordHash == "" || !password.Verify(c.Password, u.PasswordHash) {
		return nil, ErrRejected
	}
	admin := u.Admin
	return &Result{
		Name:      name,
		Groups:    u.Groups,
		Admin:     &admin,
		AuthState: map[string]any{"authenticator": "static"},
	}, nil
}

var (
	_ Authenticator = (*Dummy)(nil)
	_ Authenticator = (*Static)(nil)
)
