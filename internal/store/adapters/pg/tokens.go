package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── TokenRepository ───

type tokenRepo struct{ pool *pgxpool.Pool }

const tokenColumns = `id, prefix, token_hash, owner_kind, owner, scopes, expires_at,
	session_id, client_id, note, created_at, last_activity`

func scanToken(row scanner) (*repository.APIToken, error) {
	var t repository.APIToken
	var kind string
	err := row.Scan(&t.ID, &t.Prefix, &t.TokenHash, &kind, &t.Owner, &t.Scopes, &t.ExpiresAt,
		&t.SessionID, &t.ClientID, &t.Note, &t.CreatedAt, &t.LastActivity)
	if err != nil {
		return nil, mapErr(err)
	}
	t.OwnerKind = repository.OwnerKind(kind)
	return &t, nil
}

func (r *tokenRepo) Create(ctx context.Context, t *repository.APIToken) error {
	const query = `
		INSERT INTO api_tokens (id, prefix, token_hash, owner_kind, owner, scopes, expires_at,
			session_id, client_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, t.ID, t.Prefix, t.TokenHash, string(t.OwnerKind), t.Owner,
		nonNil(t.Scopes), t.ExpiresAt, t.SessionID, t.ClientID, t.Note, t.CreatedAt)
	return mapErr(err)
}

func (r *tokenRepo) GetByHash(ctx context.Context, hash string) (*repository.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE token_hash = $1`
	return scanToken(r.pool.QueryRow(ctx, query, hash))
}

func (r *tokenRepo) GetByID(ctx context.Context, id string) (*repository.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens WHERE id = $1`
	return scanToken(r.pool.QueryRow(ctx, query, id))
}

func (r *tokenRepo) ListByOwner(ctx context.Context, kind repository.OwnerKind, owner string) ([]repository.APIToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM api_tokens
		WHERE owner_kind = $1 AND owner = $2 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, string(kind), owner)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *tokenRepo) Delete(ctx context.Context, id string) error {
	return mustAffect(r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE id = $1`, id))
}

func (r *tokenRepo) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE session_id = $1`, sessionID)
	return int(tag.RowsAffected()), mapErr(err)
}

func (r *tokenRepo) DeleteByOwner(ctx context.Context, kind repository.OwnerKind, owner string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE owner_kind = $1 AND owner = $2`, string(kind), owner)
	return int(tag.RowsAffected()), mapErr(err)
}

func (r *tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	return int(tag.RowsAffected()), mapErr(err)
}

func (r *tokenRepo) Touch(ctx context.Context, id string, t time.Time) error {
	return mustAffect(r.pool.Exec(ctx, `UPDATE api_tokens SET last_activity = $2 WHERE id = $1`, id, t))
}
