// Package tokens emite, valida y revoca los tokens de API del hub.
//
// Solo se persiste el hash del secreto; el secreto se devuelve una única vez
// al emitir. Los scopes se resuelven al emitir y en cada validación se
// intersectan con los permisos actuales del dueño. Un token con inherit
// sigue los permisos vigentes del dueño.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/scopes"
	tok "github.com/dropDatabas3/spawnhub/internal/security/token"
	"github.com/dropDatabas3/spawnhub/internal/store"
)

// touchInterval evita escribir last_activity en cada request.
const touchInterval = 5 * time.Minute

const minSecretLen = 32

// Store es el token store del hub.
type Store struct {
	st    store.Store
	perms *Permissions
	now   func() time.Time
}

// New crea el token store.
func New(st store.Store, perms *Permissions) *Store {
	return &Store{st: st, perms: perms, now: time.Now}
}

// SetClock reemplaza el reloj (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// IssueRequest describe un token a emitir.
type IssueRequest struct {
	Owner scopes.Principal

	// Scopes y Roles pedidos. Si ambos están vacíos se usa el rol "token"
	// (todos los permisos del dueño).
	Scopes []string
	Roles  []string

	// ExpiresIn 0 = sin vencimiento.
	ExpiresIn time.Duration

	Note      string
	SessionID string
	ClientID  string

	// Secret fija el secreto en vez de generarlo (api_token de un service
	// declarado en la config). Debe tener al menos 32 caracteres.
	Secret string

	// Trusted saltea el chequeo de subconjunto. Solo para tokens que emite el
	// propio hub (ej: el token de un server); la intersección al validar aplica igual.
	Trusted bool
}

// Issued es el resultado de Issue. Secret no se puede recuperar después.
type Issued struct {
	Token  *repository.APIToken
	Secret string
}

// Issue emite un token nuevo cuyos scopes son un subconjunto de los
// permisos actuales del dueño.
func (s *Store) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	log := logger.From(ctx).With(logger.Layer("tokens"), logger.Op("Issue"))

	ownerScopes, err := s.perms.Current(ctx, req.Owner)
	if err != nil {
		return nil, err
	}

	raw, err := s.requested(ctx, req)
	if err != nil {
		return nil, err
	}
	granted, err := s.perms.Resolver().ResolveRequested(raw, req.Owner, ownerScopes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	if !req.Trusted {
		if missing := scopes.Missing(granted, ownerScopes, s.perms.MemberOf(ctx)); len(missing) > 0 {
			return nil, &ScopesNotHeldError{Owner: req.Owner.Name, Missing: missing}
		}
	}

	secret := req.Secret
	if secret == "" {
		if secret, err = tok.NewSecret(); err != nil {
			return nil, err
		}
	} else if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}

	// inherit ya quedó expandido a los permisos del dueño en este momento;
	// si el dueño gana roles después, el token no los ve.
	stored := granted.Strings()

	now := s.now().UTC()
	t := &repository.APIToken{
		ID:        "t_" + uuid.NewString(),
		Prefix:    tok.Prefix(secret),
		TokenHash: tok.SHA256Base64URL(secret),
		OwnerKind: req.Owner.Kind,
		Owner:     req.Owner.Name,
		Scopes:    stored,
		SessionID: req.SessionID,
		ClientID:  req.ClientID,
		Note:      req.Note,
		CreatedAt: now,
	}
	if req.ExpiresIn > 0 {
		exp := now.Add(req.ExpiresIn)
		t.ExpiresAt = &exp
	}

	if err := s.st.Tokens().Create(ctx, t); err != nil {
		return nil, err
	}

	log.Debug("token issued", logger.TokenID(t.ID), logger.String("owner", t.Owner), logger.Int("scopes", len(t.Scopes)))
	return &Issued{Token: t, Secret: secret}, nil
}

func (s *Store) requested(ctx context.Context, req IssueRequest) ([]string, error) {
	if len(req.Scopes) == 0 && len(req.Roles) == 0 {
		return []string{scopes.MetaInherit}, nil
	}
	raw := append([]string(nil), req.Scopes...)
	for _, name := range req.Roles {
		r, err := s.st.Roles().Get(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
			}
			return nil, err
		}
		raw = append(raw, r.Scopes...)
	}
	return raw, nil
}

// Validated es un token válido con sus permisos efectivos para esta request.
type Validated struct {
	Token     *repository.APIToken
	Principal scopes.Principal
	Granted   scopes.Set
	Effective scopes.Set
}

// Validate busca el token por hash y computa los scopes efectivos como la
// intersección entre lo concedido y los permisos actuales del dueño.
func (s *Store) Validate(ctx context.Context, secret string) (*Validated, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}
	t, err := s.st.Tokens().GetByHash(ctx, tok.SHA256Base64URL(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	now := s.now()
	if t.Expired(now) {
		_ = s.st.Tokens().Delete(ctx, t.ID)
		return nil, ErrInvalidToken
	}

	pr := scopes.Principal{Kind: t.OwnerKind, Name: t.Owner}
	current, err := s.perms.Current(ctx, pr)
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			// revocación por borrado del dueño
			_, _ = s.st.Tokens().DeleteByOwner(ctx, t.OwnerKind, t.Owner)
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	granted := scopes.FromStrings(t.Scopes)
	effective := scopes.Intersect(granted, current, s.perms.MemberOf(ctx))

	if t.LastActivity == nil || now.Sub(*t.LastActivity) > touchInterval {
		if err := s.st.Tokens().Touch(ctx, t.ID, now.UTC()); err != nil {
			logger.From(ctx).Debug("token touch failed", logger.TokenID(t.ID), logger.Err(err))
		}
	}

	return &Validated{Token: t, Principal: pr, Granted: granted, Effective: effective}, nil
}

// Get retorna un token por ID.
func (s *Store) Get(ctx context.Context, id string) (*repository.APIToken, error) {
	return s.st.Tokens().GetByID(ctx, id)
}

// List retorna los tokens del dueño.
func (s *Store) List(ctx context.Context, owner scopes.Principal) ([]repository.APIToken, error) {
	return s.st.Tokens().ListByOwner(ctx, owner.Kind, owner.Name)
}

// Revoke revoca un token por ID.
func (s *Store) Revoke(ctx context.Context, id string) error {
	return s.st.Tokens().Delete(ctx, id)
}

// RevokeSession revoca todos los tokens emitidos en una sesión de login.
func (s *Store) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return s.st.Tokens().DeleteBySession(ctx, sessionID)
}

// RevokeOwner revoca todos los tokens del dueño.
func (s *Store) RevokeOwner(ctx context.Context, owner scopes.Principal) (int, error) {
	return s.st.Tokens().DeleteByOwner(ctx, owner.Kind, owner.Name)
}

// PurgeExpired borra tokens vencidos.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	return s.st.Tokens().DeleteExpired(ctx, s.now())
}

// Permissions expone el lookup de permisos en vivo.
func (s *Store) Permissions() *Permissions {
	return s.perms
}
