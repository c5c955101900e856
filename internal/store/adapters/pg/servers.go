package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// ─── ServerRepository ───

type serverRepo struct{ pool *pgxpool.Pool }

const serverColumns = `user_name, name, state, address, user_options, backend_state,
	started_at, last_activity, message, token_id, oauth_client_id`

func scanServer(row scanner) (*repository.Server, error) {
	var s repository.Server
	var state string
	err := row.Scan(&s.User, &s.Name, &state, &s.Address, &s.UserOptions, &s.BackendState,
		&s.StartedAt, &s.LastActivity, &s.Message, &s.TokenID, &s.OAuthClientID)
	if err != nil {
		return nil, mapErr(err)
	}
	s.State = repository.ServerState(state)
	return &s, nil
}

func (r *serverRepo) Create(ctx context.Context, s *repository.Server) error {
	const query = `
		INSERT INTO servers (` + serverColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, s.User, s.Name, string(s.State), s.Address,
		nonNilMap(s.UserOptions), nonNilMap(s.BackendState), s.StartedAt, s.LastActivity,
		s.Message, s.TokenID, s.OAuthClientID)
	return mapErr(err)
}

func (r *serverRepo) Get(ctx context.Context, user, name string) (*repository.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE user_name = $1 AND name = $2`
	return scanServer(r.pool.QueryRow(ctx, query, user, name))
}

func (r *serverRepo) list(ctx context.Context, query string, args ...any) ([]repository.Server, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *serverRepo) ListByUser(ctx context.Context, user string) ([]repository.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE user_name = $1 ORDER BY name`
	return r.list(ctx, query, user)
}

func (r *serverRepo) ListByState(ctx context.Context, states ...repository.ServerState) ([]repository.Server, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	query := `SELECT ` + serverColumns + ` FROM servers
		WHERE cardinality($1::text[]) = 0 OR state = ANY($1)
		ORDER BY user_name, name`
	return r.list(ctx, query, names)
}

func (r *serverRepo) Save(ctx context.Context, s *repository.Server) error {
	const query = `
		UPDATE servers SET state = $3, address = $4, user_options = $5, backend_state = $6,
			started_at = $7, last_activity = $8, message = $9, token_id = $10, oauth_client_id = $11
		WHERE user_name = $1 AND name = $2`
	return mustAffect(r.pool.Exec(ctx, query, s.User, s.Name, string(s.State), s.Address,
		nonNilMap(s.UserOptions), nonNilMap(s.BackendState), s.StartedAt, s.LastActivity,
		s.Message, s.TokenID, s.OAuthClientID))
}

func (r *serverRepo) Delete(ctx context.Context, user, name string) error {
	return mustAffect(r.pool.Exec(ctx, `DELETE FROM servers WHERE user_name = $1 AND name = $2`, user, name))
}
