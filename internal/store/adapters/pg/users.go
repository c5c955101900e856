package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── UserRepository ───

type userRepo struct{ pool *pgxpool.Pool }

const userColumns = `
	u.name, u.admin, u.auth_state, u.created_at, u.last_activity,
	COALESCE((SELECT array_agg(ra.role_name ORDER BY ra.role_name) FROM role_assignments ra
	          WHERE ra.entity_kind = 'user' AND ra.entity_name = u.name), '{}'),
	COALESCE((SELECT array_agg(gm.group_name ORDER BY gm.group_name) FROM group_members gm
	          WHERE gm.user_name = u.name), '{}')`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*repository.User, error) {
	var u repository.User
	err := row.Scan(&u.Name, &u.Admin, &u.AuthState, &u.CreatedAt, &u.LastActivity, &u.Roles, &u.Groups)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	const query = `
		INSERT INTO users (name, admin, auth_state, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		RETURNING created_at`
	var created *time.Time
	if !u.CreatedAt.IsZero() {
		created = &u.CreatedAt
	}
	return mapErr(r.pool.QueryRow(ctx, query, u.Name, u.Admin, u.AuthState, created).Scan(&u.CreatedAt))
}

func (r *userRepo) Get(ctx context.Context, name string) (*repository.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.name = $1`
	return scanUser(r.pool.QueryRow(ctx, query, name))
}

func (r *userRepo) List(ctx context.Context, f repository.ListUsersFilter) ([]repository.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u
		WHERE (cardinality($1::text[]) = 0 OR u.name = ANY($1))
		ORDER BY u.name OFFSET $2`
	args := []any{nonNil(f.Names), f.Offset}
	if f.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, f.Limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, mapErr(err)
}

func (r *userRepo) Update(ctx context.Context, u *repository.User) error {
	const query = `UPDATE users SET admin = $2, auth_state = $3 WHERE name = $1`
	return mustAffect(r.pool.Exec(ctx, query, u.Name, u.Admin, u.AuthState))
}

func (r *userRepo) TouchActivity(ctx context.Context, name string, t time.Time) error {
	const query = `
		UPDATE users SET last_activity = GREATEST(COALESCE(last_activity, $2), $2)
		WHERE name = $1`
	return mustAffect(r.pool.Exec(ctx, query, name, t))
}

func (r *userRepo) Delete(ctx context.Context, name string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE entity_kind = 'user' AND entity_name = $1`, name); err != nil {
		return mapErr(err)
	}
	// servers y group_members caen por ON DELETE CASCADE
	if err := mustAffect(tx.Exec(ctx, `DELETE FROM users WHERE name = $1`, name)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
