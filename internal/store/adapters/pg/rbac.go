package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── RoleRepository ───

type roleRepo struct{ pool *pgxpool.Pool }

func (r *roleRepo) Upsert(ctx context.Context, role *repository.Role) error {
	const query = `
		INSERT INTO roles (name, description, scopes) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, scopes = EXCLUDED.scopes`
	_, err := r.pool.Exec(ctx, query, role.Name, role.Description, nonNil(role.Scopes))
	return mapErr(err)
}

func (r *roleRepo) Get(ctx context.Context, name string) (*repository.Role, error) {
	var role repository.Role
	err := r.pool.QueryRow(ctx, `SELECT name, description, scopes FROM roles WHERE name = $1`, name).
		Scan(&role.Name, &role.Description, &role.Scopes)
	if err != nil {
		return nil, mapErr(err)
	}
	return &role, nil
}

func (r *roleRepo) List(ctx context.Context) ([]repository.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, description, scopes FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.Role
	for rows.Next() {
		var role repository.Role
		if err := rows.Scan(&role.Name, &role.Description, &role.Scopes); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *roleRepo) Delete(ctx context.Context, name string) error {
	return mustAffect(r.pool.Exec(ctx, `DELETE FROM roles WHERE name = $1`, name))
}

func (r *roleRepo) Assigned(ctx context.Context, kind repository.EntityKind, name string) ([]string, error) {
	var roles []string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(array_agg(role_name ORDER BY role_name), '{}')
		FROM role_assignments WHERE entity_kind = $1 AND entity_name = $2`, string(kind), name).Scan(&roles)
	return roles, mapErr(err)
}

func (r *roleRepo) SetAssignments(ctx context.Context, kind repository.EntityKind, name string, roles []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE entity_kind = $1 AND entity_name = $2`, string(kind), name); err != nil {
		return mapErr(err)
	}
	for _, role := range roles {
		_, err := tx.Exec(ctx, `
			INSERT INTO role_assignments (role_name, entity_kind, entity_name) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, role, string(kind), name)
		if err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit(ctx)
}

// ─── GroupRepository ───

type groupRepo struct{ pool *pgxpool.Pool }

const groupColumns = `g.name,
	COALESCE((SELECT array_agg(ra.role_name ORDER BY ra.role_name) FROM role_assignments ra
	          WHERE ra.entity_kind = 'group' AND ra.entity_name = g.name), '{}'),
	COALESCE((SELECT array_agg(gm.user_name ORDER BY gm.user_name) FROM group_members gm
	          WHERE gm.group_name = g.name), '{}')`

func scanGroup(row scanner) (*repository.Group, error) {
	var g repository.Group
	if err := row.Scan(&g.Name, &g.Roles, &g.Members); err != nil {
		return nil, mapErr(err)
	}
	return &g, nil
}

func (r *groupRepo) Create(ctx context.Context, g *repository.Group) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO groups (name) VALUES ($1)`, g.Name); err != nil {
		return mapErr(err)
	}
	for _, m := range g.Members {
		if _, err := tx.Exec(ctx, `INSERT INTO group_members (group_name, user_name) VALUES ($1, $2)`, g.Name, m); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit(ctx)
}

func (r *groupRepo) Get(ctx context.Context, name string) (*repository.Group, error) {
	return scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups g WHERE g.name = $1`, name))
}

func (r *groupRepo) List(ctx context.Context, offset, limit int) ([]repository.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g ORDER BY g.name OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []repository.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (r *groupRepo) Delete(ctx context.Context, name string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE entity_kind = 'group' AND entity_name = $1`, name); err != nil {
		return mapErr(err)
	}
	if err := mustAffect(tx.Exec(ctx, `DELETE FROM groups WHERE name = $1`, name)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *groupRepo) AddMembers(ctx context.Context, group string, users []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range users {
		_, err := tx.Exec(ctx, `
			INSERT INTO group_members (group_name, user_name) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, group, u)
		if err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit(ctx)
}

func (r *groupRepo) RemoveMembers(ctx context.Context, group string, users []string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE name = $1)`, group).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM group_members WHERE group_name = $1 AND user_name = ANY($2)`, group, nonNil(users))
	return mapErr(err)
}

func (r *groupRepo) GroupsOf(ctx context.Context, user string) ([]string, error) {
	var out []string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(array_agg(group_name ORDER BY group_name), '{}')
		FROM group_members WHERE user_name = $1`, user).Scan(&out)
	return out, mapErr(err)
}
