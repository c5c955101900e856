package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTBackend habla con la API REST del proxy:
//
//	POST   /api/routes/<prefix>  {"target": "...", ...data}
//	DELETE /api/routes/<prefix>
//	GET    /api/routes           {"<prefix>": {"target": "...", ...data}}
//
// La autenticación usa un secreto propio del proxy, distinto de los tokens de usuario.
type RESTBackend struct {
	apiURL    string
	authToken string
	client    *http.Client
}

// NewRESTBackend crea el cliente. timeout acota cada llamada individual.
func NewRESTBackend(apiURL, authToken string, timeout time.Duration) *RESTBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTBackend{
		apiURL:    strings.TrimRight(apiURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

func (b *RESTBackend) routeURL(prefix string) string {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return b.apiURL + "/api/routes" + prefix
}

func (b *RESTBackend) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+b.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, url, err)
	}
	return resp, nil
}

// checkStatus traduce el status HTTP. 5xx se trata como proxy no disponible.
func checkStatus(resp *http.Response, allowed ...int) error {
	for _, code := range allowed {
		if resp.StatusCode == code {
			return nil
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
}

func (b *RESTBackend) AddRoute(ctx context.Context, prefix, target string, data map[string]any) error {
	body := make(map[string]any, len(data)+1)
	for k, v := range data {
		body[k] = v
	}
	body["target"] = target

	resp, err := b.do(ctx, http.MethodPost, b.routeURL(prefix), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusCreated, http.StatusOK, http.StatusNoContent)
}

func (b *RESTBackend) DeleteRoute(ctx context.Context, prefix string) error {
	resp, err := b.do(ctx, http.MethodDelete, b.routeURL(prefix), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusNoContent, http.StatusOK, http.StatusNotFound)
}

func (b *RESTBackend) GetRoutes(ctx context.Context) (map[string]Route, error) {
	resp, err := b.do(ctx, http.MethodGet, b.apiURL+"/api/routes", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var raw map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}

	out := make(map[string]Route, len(raw))
	for prefix, entry := range raw {
		target, _ := entry["target"].(string)
		data := make(map[string]any, len(entry))
		for k, v := range entry {
			if k == "target" || k == "last_activity" {
				continue
			}
			data[k] = v
		}
		out[prefix] = Route{Prefix: prefix, Target: target, Data: data}
	}
	return out, nil
}
