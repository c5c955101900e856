package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	Token     string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
	Out       io.Writer
}

func (c *client) do(method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/hub/api" + path
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "token "+c.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

// call ejecuta el request y falla si el status no es 2xx.
func (c *client) call(op, method, path string, payload any) error {
	status, body, err := c.do(method, path, payload)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("%s fallo: status=%d body=%s", op, status, strings.TrimSpace(string(body)))
	}
	c.print(status, body)
	return nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(c.Out, string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Fprintln(c.Out, string(body))
	} else {
		fmt.Fprintf(c.Out, "status=%d\n", status)
	}
}

func serverPath(user, server string) string {
	if server == "" {
		return "/users/" + url.PathEscape(user) + "/server"
	}
	return "/users/" + url.PathEscape(user) + "/servers/" + url.PathEscape(server)
}

func main() {
	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}, Out: os.Stdout}
	if err := newRootCmd(cl).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// newRootCmd arma el árbol de comandos sobre cl; los flags pisan las envs.
func newRootCmd(cl *client) *cobra.Command {
	var (
		baseURL = envOr("SPAWNHUB_URL", "http://localhost:8081")
		token   = envOr("SPAWNHUB_API_TOKEN", "")
		out     = envOr("SPAWNHUB_OUT", "text")
	)

	root := &cobra.Command{
		Use:           "spawnhubctl",
		Short:         "CLI para la REST API de spawnhub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("falta token (flag --token o env SPAWNHUB_API_TOKEN)")
			}
			cl.BaseURL, cl.Token, cl.OutFormat = baseURL, token, out
			return nil
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base del hub (env SPAWNHUB_URL)")
	root.PersistentFlags().StringVar(&token, "token", token, "API token (env SPAWNHUB_API_TOKEN)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	// users
	usersCmd := &cobra.Command{Use: "users", Short: "Operaciones sobre usuarios"}
	var listState string
	var listLimit int
	usersListCmd := &cobra.Command{
		Use:   "list",
		Short: "Listar usuarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if listState != "" {
				q.Set("state", listState)
			}
			if listLimit > 0 {
				q.Set("limit", fmt.Sprint(listLimit))
			}
			path := "/users"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return cl.call("users list", http.MethodGet, path, nil)
		},
	}
	usersListCmd.Flags().StringVar(&listState, "state", "", "Filtro: active|ready|inactive")
	usersListCmd.Flags().IntVar(&listLimit, "limit", 0, "Máximo de resultados")

	var addAdmin bool
	usersAddCmd := &cobra.Command{
		Use:   "add NAME...",
		Short: "Crear usuarios",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("users add", http.MethodPost, "/users", map[string]any{"usernames": args, "admin": addAdmin})
		},
	}
	usersAddCmd.Flags().BoolVar(&addAdmin, "admin", false, "Crear como admin")

	usersDeleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Borrar un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("users delete", http.MethodDelete, "/users/"+url.PathEscape(args[0]), nil)
		},
	}
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersDeleteCmd)

	// servers
	serversCmd := &cobra.Command{Use: "servers", Short: "Start/stop de servers"}
	var serverName string
	var removeServer bool
	serversStartCmd := &cobra.Command{
		Use:   "start USER",
		Short: "Iniciar el server de un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("servers start", http.MethodPost, serverPath(args[0], serverName), nil)
		},
	}
	serversStopCmd := &cobra.Command{
		Use:   "stop USER",
		Short: "Detener el server de un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any
			if removeServer {
				payload = map[string]any{"remove": true}
			}
			return cl.call("servers stop", http.MethodDelete, serverPath(args[0], serverName), payload)
		},
	}
	for _, c := range []*cobra.Command{serversStartCmd, serversStopCmd} {
		c.Flags().StringVar(&serverName, "name", "", "Nombre del server (vacío = default)")
	}
	serversStopCmd.Flags().BoolVar(&removeServer, "remove", false, "Borrar el named server además de detenerlo")
	serversCmd.AddCommand(serversStartCmd, serversStopCmd)

	// tokens
	tokensCmd := &cobra.Command{Use: "tokens", Short: "API tokens"}
	var tokNote string
	var tokExpires time.Duration
	var tokScopes []string
	tokensCreateCmd := &cobra.Command{
		Use:   "create USER",
		Short: "Emitir un token para un usuario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"note": tokNote}
			if tokExpires > 0 {
				payload["expires_in"] = int64(tokExpires.Seconds())
			}
			if len(tokScopes) > 0 {
				payload["scopes"] = tokScopes
			}
			return cl.call("tokens create", http.MethodPost, "/users/"+url.PathEscape(args[0])+"/tokens", payload)
		},
	}
	tokensCreateCmd.Flags().StringVar(&tokNote, "note", "", "Nota descriptiva")
	tokensCreateCmd.Flags().DurationVar(&tokExpires, "expires-in", 0, "Vida del token (ej. 24h); 0 = no expira")
	tokensCreateCmd.Flags().StringSliceVar(&tokScopes, "scope", nil, "Scopes pedidos (repetible)")
	tokensCmd.AddCommand(tokensCreateCmd)

	// proxy
	proxyCmd := &cobra.Command{Use: "proxy", Short: "Tabla de rutas del proxy"}
	proxyRoutesCmd := &cobra.Command{
		Use:   "routes",
		Short: "Mostrar las rutas actuales",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("proxy routes", http.MethodGet, "/proxy", nil)
		},
	}
	proxySyncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Forzar check_routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("proxy sync", http.MethodPost, "/proxy", nil)
		},
	}
	proxyCmd.AddCommand(proxyRoutesCmd, proxySyncCmd)

	// whoami
	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Identidad y scopes del token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("whoami", http.MethodGet, "/user", nil)
		},
	}

	root.AddCommand(usersCmd, serversCmd, tokensCmd, proxyCmd, whoamiCmd)
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
