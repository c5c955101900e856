package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── OAuthClientRepository ───

type clientRepo struct{ pool *pgxpool.Pool }

func (r *clientRepo) Upsert(ctx context.Context, c *repository.OAuthClient) error {
	const query = `
		INSERT INTO oauth_clients (client_id, secret_hash, redirect_uri, description, allowed_scopes, no_confirm, owner_user)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO UPDATE SET
			secret_hash = EXCLUDED.secret_hash,
			redirect_uri = EXCLUDED.redirect_uri,
			description = EXCLUDED.description,
			allowed_scopes = EXCLUDED.allowed_scopes,
			no_confirm = EXCLUDED.no_confirm,
			owner_user = EXCLUDED.owner_user`
	_, err := r.pool.Exec(ctx, query, c.ClientID, c.SecretHash, c.RedirectURI, c.Description,
		nonNil(c.AllowedScopes), c.NoConfirm, c.OwnerUser)
	return mapErr(err)
}

func (r *clientRepo) Get(ctx context.Context, clientID string) (*repository.OAuthClient, error) {
	var c repository.OAuthClient
	err := r.pool.QueryRow(ctx, `
		SELECT client_id, secret_hash, redirect_uri, description, allowed_scopes, no_confirm, owner_user, created_at
		FROM oauth_clients WHERE client_id = $1`, clientID).
		Scan(&c.ClientID, &c.SecretHash, &c.RedirectURI, &c.Description, &c.AllowedScopes, &c.NoConfirm, &c.OwnerUser, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *clientRepo) Delete(ctx context.Context, clientID string) error {
	return mustAffect(r.pool.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID))
}

// ─── ServiceRepository ───

type serviceRepo struct{ pool *pgxpool.Pool }

const serviceColumns = `s.name, s.url, s.oauth_client_id, s.created_at,
	COALESCE((SELECT array_agg(ra.role_name ORDER BY ra.role_name) FROM role_assignments ra
	          WHERE ra.entity_kind = 'service' AND ra.entity_name = s.name), '{}')`

func scanService(row scanner) (*repository.Service, error) {
	var s repository.Service
	if err := row.Scan(&s.Name, &s.URL, &s.OAuthClientID, &s.CreatedAt, &s.Roles); err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *serviceRepo) Upsert(ctx context.Context, s *repository.Service) error {
	const query = `
		INSERT INTO services (name, url, oauth_client_id) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET url = EXCLUDED.url, oauth_client_id = EXCLUDED.oauth_client_id`
	_, err := r.pool.Exec(ctx, query, s.Name, s.URL, s.OAuthClientID)
	return mapErr(err)
}

func (r *serviceRepo) Get(ctx context.Context, name string) (*repository.Service, error) {
	return scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.name = $1`, name))
}

func (r *serviceRepo) List(ctx context.Context) ([]repository.Service, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services s ORDER BY s.name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *serviceRepo) Delete(ctx context.Context, name string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE entity_kind = 'service' AND entity_name = $1`, name); err != nil {
		return mapErr(err)
	}
	if err := mustAffect(tx.Exec(ctx, `DELETE FROM services WHERE name = $1`, name)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
