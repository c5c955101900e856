// Package pg implementa el adapter PostgreSQL del store usando pgxpool.
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/store"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MinIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MinIdleConns)
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	// Verificar conexión
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	return &Conn{pool: pool}, nil
}

// Conn es una conexión activa a PostgreSQL.
type Conn struct {
	pool *pgxpool.Pool
}

func (c *Conn) Name() string { return "postgres" }

func (c *Conn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Conn) Close() error {
	c.pool.Close()
	return nil
}

// ─── Repositorios ───

func (c *Conn) Users() repository.UserRepository               { return &userRepo{pool: c.pool} }
func (c *Conn) Servers() repository.ServerRepository           { return &serverRepo{pool: c.pool} }
func (c *Conn) Tokens() repository.TokenRepository             { return &tokenRepo{pool: c.pool} }
func (c *Conn) Roles() repository.RoleRepository               { return &roleRepo{pool: c.pool} }
func (c *Conn) Groups() repository.GroupRepository             { return &groupRepo{pool: c.pool} }
func (c *Conn) Services() repository.ServiceRepository         { return &serviceRepo{pool: c.pool} }
func (c *Conn) OAuthClients() repository.OAuthClientRepository { return &clientRepo{pool: c.pool} }

// MigrationExecutor implementa store.MigratableStore.
func (c *Conn) MigrationExecutor() store.Executor {
	return &poolExecutor{pool: c.pool}
}

// poolExecutor adapta pgxpool.Pool a store.Executor.
type poolExecutor struct {
	pool *pgxpool.Pool
}

func (e *poolExecutor) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := e.pool.Exec(ctx, sql, args...)
	return err
}

func (e *poolExecutor) QueryVersions(ctx context.Context) ([]int, error) {
	rows, err := e.pool.Query(ctx, `SELECT version FROM _migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// mapErr traduce errores de pgx a los errores del dominio.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

// mustAffect retorna ErrNotFound si el comando no tocó filas.
func mustAffect(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
