package helpers

import (
	"net/http"
	"strconv"

	httperrors "github.com/dropDatabas3/spawnhub/internal/http/errors"
)

// MaxLimit acota el tamaño de página de los listados.
const MaxLimit = 200

// Page son los parámetros offset/limit de un listado.
type Page struct {
	Offset int
	Limit  int
}

// ReadPage lee offset y limit de la query. limit ausente = MaxLimit.
func ReadPage(r *http.Request) (Page, error) {
	p := Page{Limit: MaxLimit}
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, httperrors.ErrInvalidParameter.WithDetail("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, httperrors.ErrInvalidParameter.WithDetail("limit must be a positive integer")
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = n
	}
	return p, nil
}

// QueryBool interpreta ?x=1|true.
func QueryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
