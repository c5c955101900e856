package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/spawnhub/internal/hub"
)

func TestFromError_Taxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad name", hub.ErrValidation), http.StatusBadRequest},
		{hub.ErrPermission, http.StatusForbidden},
		{hub.ErrNotFound, http.StatusNotFound},
		{hub.ErrNotRunning, http.StatusFailedDependency},
		{hub.ErrConflict, http.StatusConflict},
		{hub.ErrAlreadyRunning, http.StatusBadRequest},
		{hub.ErrTooManyPending, http.StatusTooManyRequests},
		{hub.ErrActiveLimit, http.StatusTooManyRequests},
		{hub.ErrBackendFatal, http.StatusServiceUnavailable},
		{hub.ErrProxyUnavailable, http.StatusServiceUnavailable},
		{stderrors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, FromError(c.err).HTTPStatus, c.err.Error())
	}
}

func TestWriteError_NeverLeaksCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, stderrors.New("dial tcp 10.0.0.5:5432: secret internals"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.5")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	require.NotEmpty(t, body["message"])
	require.EqualValues(t, http.StatusInternalServerError, body["status"])
}

func TestWriteError_SpawnMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &hub.SpawnError{User: "alice", Message: "Image not found.", Err: stderrors.New("boom")})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Image not found.", body["detail"])
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestValidationDetail(t *testing.T) {
	appErr := FromError(fmt.Errorf("%w: invalid server name %q", hub.ErrValidation, "a/b"))
	require.Equal(t, `invalid server name "a/b"`, appErr.Detail)
}
