package spawner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
	"github.com/dropDatabas3/spawnhub/internal/metrics"
	"github.com/dropDatabas3/spawnhub/internal/observability/logger"
	"github.com/dropDatabas3/spawnhub/internal/proxy"
)

// Config son los parámetros del ciclo de vida.
type Config struct {
	BaseURL   string // base de los prefijos de ruta
	HubAPIURL string // URL de la API del hub que ven los servers

	StartTimeout time.Duration
	StopTimeout  time.Duration

	ConcurrentSpawnLimit    int // 0 = sin límite
	ActiveServerLimit       int // 0 = sin límite
	ConsecutiveFailureLimit int // 0 = nunca deshabilitar

	PollConcurrency int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "/"
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 60 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = 8
	}
	return c
}

// Routes es la parte del proxy que el spawner necesita. *proxy.Synchronizer la implementa.
type Routes interface {
	AddRoute(ctx context.Context, prefix, target string, data map[string]any) error
	DeleteRoute(ctx context.Context, prefix string) error
}

// Credential es la credencial que recibe un server al lanzarse.
type Credential struct {
	Token    string
	TokenID  string
	ClientID string
}

// Credentials emite y revoca las credenciales de cada server.
type Credentials interface {
	Issue(ctx context.Context, srv *repository.Server) (*Credential, error)
	Revoke(ctx context.Context, srv *repository.Server) error
}

// Deps contiene las dependencias del Manager.
type Deps struct {
	Backend     Backend
	Servers     repository.ServerRepository
	Routes      Routes
	Credentials Credentials // opcional
}

// Manager es la máquina de estados de todos los servers del hub.
type Manager struct {
	cfg   Config
	deps  Deps
	locks *serverLocks
	sem   *semaphore.Weighted // nil = sin límite

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]*Spawn
	spawned  chan struct{} // se cierra y se reemplaza cada vez que se registra un spawn
	held     map[string]bool
	active   int
	failures int
	disabled bool
	hooks    []func(Transition)

	now func() time.Time
}

// New crea el Manager. Llamar Recover antes de aceptar requests.
func New(cfg Config, deps Deps) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		locks:    newServerLocks(),
		baseCtx:  ctx,
		shutdown: cancel,
		pending:  make(map[string]*Spawn),
		spawned:  make(chan struct{}),
		held:     make(map[string]bool),
		now:      time.Now,
	}
	if cfg.ConcurrentSpawnLimit > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.ConcurrentSpawnLimit))
	}
	return m
}

// OnTransition registra un hook que se invoca en cada cambio de estado,
// después de persistido. Registrar antes de usar el Manager.
func (m *Manager) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Spawn es el handle de un spawn en curso.
type Spawn struct {
	Key      string
	Progress *Stream

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newSpawn(key string, cancel context.CancelFunc) *Spawn {
	return &Spawn{Key: key, Progress: NewStream(), cancel: cancel, done: make(chan struct{})}
}

// Done se cierra cuando el spawn termina (Running o Failed).
func (s *Spawn) Done() <-chan struct{} { return s.done }

// Err es el resultado del spawn. Válido después de Done.
func (s *Spawn) Err() error {
	<-s.done
	return s.err
}

// Wait espera el fin del spawn o de ctx.
func (s *Spawn) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func serverKey(user, name string) string { return user + "/" + name }

// scoped agrega el server al logger del contexto. Se llama una vez por
// operación; las funciones internas usan logger.From(ctx) tal cual.
func scoped(ctx context.Context, key string) context.Context {
	return logger.Scoped(ctx, logger.Component("spawner"), logger.ServerKey(key))
}

// lockForStart toma el lock del server, salvo que haya un spawn en curso:
// en ese caso retorna ErrPending sin esperar a que termine.
func (m *Manager) lockForStart(ctx context.Context, key string) error {
	for {
		m.mu.Lock()
		pending, wake := m.pending[key] != nil, m.spawned
		m.mu.Unlock()
		if pending {
			return ErrPending
		}
		acquired, err := m.locks.LockOrWake(ctx, key, wake)
		if err != nil || acquired {
			return err
		}
	}
}

// Start lanza el server (user, name). Valida precondiciones y límites, persiste
// Spawning y retorna enseguida: el backend corre en background y el resultado
// se observa con el Spawn devuelto. opts nil reutiliza las opciones anteriores.
func (m *Manager) Start(ctx context.Context, user, name string, opts map[string]any) (*Spawn, error) {
	key := serverKey(user, name)
	ctx = scoped(ctx, key)
	log := logger.From(ctx)

	if err := m.lockForStart(ctx, key); err != nil {
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			m.locks.Unlock(key)
		}
	}()

	isNew := false
	srv, err := m.deps.Servers.Get(ctx, user, name)
	switch {
	case repository.IsNotFound(err):
		srv = &repository.Server{User: user, Name: name, State: repository.ServerStopped}
		isNew = true
	case err != nil:
		return nil, fmt.Errorf("load server: %w", err)
	}
	switch srv.State {
	case repository.ServerRunning:
		return nil, ErrAlreadyRunning
	case repository.ServerSpawning, repository.ServerStopping:
		return nil, ErrPending
	}

	// límites antes de cualquier escritura: un rechazo no deja nada a medias
	if err := m.reserve(key); err != nil {
		metrics.SpawnDuration.WithLabelValues(throttleStatus(err)).Observe(0)
		log.Warn("spawn rejected", logger.Err(err))
		return nil, err
	}

	from := srv.State
	now := m.now()
	if opts != nil {
		srv.UserOptions = opts
	}
	srv.State = repository.ServerSpawning
	srv.Address = ""
	srv.Message = ""
	srv.StartedAt = &now
	if isNew {
		err = m.deps.Servers.Create(ctx, srv)
	} else {
		err = m.deps.Servers.Save(ctx, srv)
	}
	if err != nil {
		m.unreserve(key)
		return nil, fmt.Errorf("persist spawning: %w", err)
	}
	m.emit(ctx, srv, from)

	spawnCtx, cancel := context.WithTimeout(m.baseCtx, m.cfg.StartTimeout)
	sp := newSpawn(key, cancel)
	m.mu.Lock()
	m.pending[key] = sp
	close(m.spawned)
	m.spawned = make(chan struct{})
	m.mu.Unlock()

	handedOff = true
	m.wg.Add(1)
	go m.runSpawn(logger.ToContext(spawnCtx, log), srv, sp)
	return sp, nil
}

func throttleStatus(err error) string {
	if errors.Is(err, ErrActiveLimit) {
		return "too-many-users"
	}
	return "throttled"
}

// reserve toma un slot de spawn concurrente y uno de server activo para key.
// El slot activo se libera una sola vez, cuando el server deja de estar
// Spawning/Running/Stopping (release).
func (m *Manager) reserve(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrSpawnsDisabled
	}
	if m.cfg.ActiveServerLimit > 0 && m.active >= m.cfg.ActiveServerLimit {
		return ErrActiveLimit
	}
	if m.sem != nil && !m.sem.TryAcquire(1) {
		return ErrTooManyPending
	}
	m.held[key] = true
	m.active++
	metrics.ActiveServers.Set(float64(m.active))
	return nil
}

func (m *Manager) unreserve(key string) {
	if m.sem != nil {
		m.sem.Release(1)
	}
	m.release(key)
}

// release devuelve el slot activo de key, si lo tiene.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held[key] {
		return
	}
	delete(m.held, key)
	m.active--
	metrics.ActiveServers.Set(float64(m.active))
}

// runSpawn ejecuta el spawn con el lock del server tomado por Start.
func (m *Manager) runSpawn(ctx context.Context, srv *repository.Server, sp *Spawn) {
	defer m.wg.Done()
	key := srv.Key()
	log := logger.From(ctx)
	started := time.Now()
	metrics.PendingSpawns.Inc()

	// las escrituras al store no dependen de start_timeout
	dbCtx := context.WithoutCancel(ctx)

	err := m.spawn(ctx, dbCtx, srv, sp)
	if err == nil {
		err = m.setState(dbCtx, srv, repository.ServerRunning)
	}

	status := "success"
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			status = "timeout"
			err = fmt.Errorf("%w: server did not start within %s: %v", ErrBackendTimeout, m.cfg.StartTimeout, err)
		case errors.Is(ctx.Err(), context.Canceled):
			status = "cancelled"
		default:
			status = "failure"
		}
		m.failSpawn(dbCtx, srv, err, status != "cancelled")
		sp.Progress.Publish(Event{Progress: 100, Failed: true, Message: srv.Message})
	} else {
		m.mu.Lock()
		m.failures = 0
		m.mu.Unlock()
		log.Info("server ready", logger.Target(srv.Address), logger.Duration(time.Since(started)))
		sp.Progress.Publish(Event{
			Progress: 100,
			Ready:    true,
			Message:  "Server ready at " + m.prefix(srv),
			URL:      m.prefix(srv) + "/",
		})
	}
	metrics.SpawnDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	metrics.PendingSpawns.Dec()

	sp.cancel()
	sp.Progress.Close()
	if m.sem != nil {
		m.sem.Release(1)
	}
	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
	m.locks.Unlock(key)

	sp.err = err
	close(sp.done)
}

// spawn: credenciales -> backend -> persistir address -> ruta en el proxy.
// El server no pasa a Running hasta que la ruta existe.
func (m *Manager) spawn(ctx, dbCtx context.Context, srv *repository.Server, sp *Spawn) error {
	sp.Progress.Publish(Event{Progress: 0, Message: "Server requested"})

	env := m.env(srv)
	if m.deps.Credentials != nil {
		cred, err := m.deps.Credentials.Issue(ctx, srv)
		if err != nil {
			return fmt.Errorf("issue server credentials: %w", err)
		}
		env["SPAWNHUB_API_TOKEN"] = cred.Token
		env["SPAWNHUB_CLIENT_ID"] = cred.ClientID
		srv.TokenID = cred.TokenID
		srv.OAuthClientID = cred.ClientID
	}

	res, err := m.deps.Backend.Start(ctx, StartRequest{
		User:       srv.User,
		ServerName: srv.Name,
		Options:    srv.UserOptions,
		Env:        env,
		State:      srv.BackendState,
		Progress: func(msg string, p int) {
			sp.Progress.Publish(Event{Progress: clampPercent(p), Message: msg})
		},
	})
	if err != nil {
		return err
	}
	if res == nil || res.Address == "" {
		return errors.New("backend returned no address")
	}
	srv.Address = res.Address
	srv.BackendState = res.State

	// address commiteada antes de notificar al proxy
	if err := m.deps.Servers.Save(dbCtx, srv); err != nil {
		return fmt.Errorf("persist address: %w", err)
	}
	sp.Progress.Publish(Event{Progress: 90, Message: "Server started, registering route"})

	data := map[string]any{proxy.DataUser: srv.User, proxy.DataServer: srv.Name}
	if err := m.deps.Routes.AddRoute(ctx, m.prefix(srv), srv.Address, data); err != nil {
		return fmt.Errorf("add route: %w", err)
	}
	return nil
}

// failSpawn limpia un spawn fallido (ruta, proceso, credenciales) y lo deja en Failed.
func (m *Manager) failSpawn(ctx context.Context, srv *repository.Server, cause error, count bool) {
	log := logger.From(ctx)
	log.Error("spawn failed", logger.Err(cause))

	cleanCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
	defer cancel()
	if srv.Address != "" {
		if err := m.deps.Routes.DeleteRoute(cleanCtx, m.prefix(srv)); err != nil {
			log.Warn("delete route after failed spawn", logger.Err(err))
		}
	}
	if err := m.deps.Backend.Stop(cleanCtx, ref(srv)); err != nil {
		log.Warn("stop after failed spawn", logger.Err(err))
	}
	m.revoke(ctx, srv)

	msg := UserMessage(cause)
	if msg == "" {
		msg = genericFailure
	}
	if errors.Is(cause, ErrBackendTimeout) && UserMessage(cause) == "" {
		msg = fmt.Sprintf("Server did not start within %s.", m.cfg.StartTimeout)
	}
	if !count {
		msg = "Spawn cancelled."
	}
	srv.Message = msg
	srv.Address = ""
	if err := m.setState(ctx, srv, repository.ServerFailed); err != nil {
		log.Error("persist failed state", logger.Err(err))
	}
	if count {
		m.recordFailure(ctx)
	}
}

func (m *Manager) recordFailure(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	limit := m.cfg.ConsecutiveFailureLimit
	if limit > 0 && m.failures >= limit && !m.disabled {
		m.disabled = true
		metrics.SpawnsDisabled.Set(1)
		logger.From(ctx).Error("consecutive spawn failure limit reached, refusing new spawns",
			logger.Count(m.failures), logger.Int("limit", limit))
	}
}

// Disabled indica si el hub dejó de aceptar spawns.
func (m *Manager) Disabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// ResetFailures rehabilita los spawns tras la intervención de un operador.
func (m *Manager) ResetFailures(ctx context.Context) {
	m.mu.Lock()
	m.failures = 0
	m.disabled = false
	m.mu.Unlock()
	metrics.SpawnsDisabled.Set(0)
	logger.From(ctx).Info("spawn failure counter reset")
}

// Active retorna cuántos servers ocupan un slot.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Pending retorna el spawn en curso del server, o nil.
func (m *Manager) Pending(user, name string) *Spawn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[serverKey(user, name)]
}

// Stop detiene el server. Un spawn en curso se cancela primero. Los errores
// del backend se loguean: el server termina en Stopped igual.
func (m *Manager) Stop(ctx context.Context, user, name string) error {
	key := serverKey(user, name)
	ctx = scoped(ctx, key)
	m.mu.Lock()
	if sp := m.pending[key]; sp != nil {
		sp.cancel()
	}
	m.mu.Unlock()

	if err := m.locks.Lock(ctx, key); err != nil {
		return err
	}
	defer m.locks.Unlock(key)

	srv, err := m.deps.Servers.Get(ctx, user, name)
	if err != nil {
		return err
	}
	if srv.State == repository.ServerStopped {
		return nil
	}
	return m.stopLocked(context.WithoutCancel(ctx), srv)
}

// stopLocked: Stopping -> borrar ruta -> stop del backend -> Stopped.
func (m *Manager) stopLocked(ctx context.Context, srv *repository.Server) error {
	log := logger.From(ctx)
	started := time.Now()

	if srv.State != repository.ServerStopping {
		if err := m.setState(ctx, srv, repository.ServerStopping); err != nil {
			return err
		}
	}

	// la ruta se va antes que el proceso
	if err := m.deps.Routes.DeleteRoute(ctx, m.prefix(srv)); err != nil {
		log.Error("delete route failed, check_routes will retry", logger.Err(err))
	}

	stopCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
	err := m.deps.Backend.Stop(stopCtx, ref(srv))
	cancel()
	status := "success"
	if err != nil {
		status = "failure"
		log.Warn("backend stop failed", logger.Err(err))
	}
	m.revoke(ctx, srv)

	srv.Address = ""
	srv.BackendState = nil
	if err := m.setState(ctx, srv, repository.ServerStopped); err != nil {
		return err
	}
	metrics.StopDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	return nil
}

// Poll consulta al backend si el server sigue vivo. Si el proceso terminó,
// el server pasa a Stopped y su ruta se elimina. Retorna true si sigue corriendo.
func (m *Manager) Poll(ctx context.Context, user, name string) (bool, error) {
	key := serverKey(user, name)
	ctx = scoped(ctx, key)
	if err := m.locks.Lock(ctx, key); err != nil {
		return false, err
	}
	defer m.locks.Unlock(key)

	srv, err := m.deps.Servers.Get(ctx, user, name)
	if err != nil {
		return false, err
	}
	if srv.State != repository.ServerRunning {
		return false, nil
	}
	return m.pollLocked(ctx, srv)
}

func (m *Manager) pollLocked(ctx context.Context, srv *repository.Server) (bool, error) {
	log := logger.From(ctx)

	st, err := m.deps.Backend.Poll(ctx, ref(srv))
	if err != nil {
		// un poll fallido no prueba que el server murió
		metrics.PollResults.WithLabelValues("error").Inc()
		log.Warn("poll failed", logger.Err(err))
		return true, err
	}
	if st.Running {
		metrics.PollResults.WithLabelValues("running").Inc()
		return true, nil
	}
	metrics.PollResults.WithLabelValues("stopped").Inc()
	log.Warn("server exited", logger.Int("exit_code", st.ExitCode))

	ctx = context.WithoutCancel(ctx)
	if err := m.deps.Routes.DeleteRoute(ctx, m.prefix(srv)); err != nil {
		log.Error("delete route of exited server failed, check_routes will retry", logger.Err(err))
	}
	m.revoke(ctx, srv)

	srv.Address = ""
	srv.BackendState = nil
	if st.ExitCode != 0 {
		srv.Message = fmt.Sprintf("Server exited with code %d.", st.ExitCode)
	}
	return false, m.setState(ctx, srv, repository.ServerStopped)
}

// PollAll consulta todos los servers en Running. Los que tienen una operación
// en curso se saltean. Retorna cuántos servers se detectaron detenidos.
func (m *Manager) PollAll(ctx context.Context) (int, error) {
	running, err := m.deps.Servers.ListByState(ctx, repository.ServerRunning)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	stopped := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PollConcurrency)
	for i := range running {
		key := running[i].Key()
		user, name := running[i].User, running[i].Name
		g.Go(func() error {
			if !m.locks.TryLock(key) {
				return nil
			}
			defer m.locks.Unlock(key)
			srv, err := m.deps.Servers.Get(gctx, user, name)
			if err != nil || srv.State != repository.ServerRunning {
				return nil
			}
			alive, _ := m.pollLocked(scoped(gctx, key), srv)
			if !alive {
				mu.Lock()
				stopped++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return stopped, err
}

// StopIdle detiene los servers en Running sin actividad desde hace más de
// idle, o (si maxAge > 0) lanzados hace más de maxAge. Retorna sus claves.
func (m *Manager) StopIdle(ctx context.Context, idle, maxAge time.Duration) ([]string, error) {
	running, err := m.deps.Servers.ListByState(ctx, repository.ServerRunning)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var culled []string
	for i := range running {
		srv := &running[i]
		if !cullable(srv, now, idle, maxAge) {
			continue
		}
		key := srv.Key()
		if !m.locks.TryLock(key) {
			continue
		}
		// releer con el lock tomado
		sctx := scoped(ctx, key)
		cur, err := m.deps.Servers.Get(sctx, srv.User, srv.Name)
		if err == nil && cur.State == repository.ServerRunning && cullable(cur, now, idle, maxAge) {
			logger.From(sctx).Info("culling idle server")
			if err = m.stopLocked(sctx, cur); err == nil {
				culled = append(culled, key)
				metrics.CulledServers.Inc()
			}
		}
		m.locks.Unlock(key)
		if err != nil && !repository.IsNotFound(err) {
			logger.From(sctx).Warn("cull failed", logger.Err(err))
		}
	}
	return culled, nil
}

func cullable(srv *repository.Server, now time.Time, idle, maxAge time.Duration) bool {
	if maxAge > 0 && srv.StartedAt != nil && now.Sub(*srv.StartedAt) > maxAge {
		return true
	}
	if idle <= 0 {
		return false
	}
	last := srv.LastActivity
	if last == nil {
		last = srv.StartedAt
	}
	return last != nil && now.Sub(*last) > idle
}

// TouchActivity registra actividad reportada por el server. Toma el lock del
// server para no pisar una transición; durante un spawn no hace nada.
func (m *Manager) TouchActivity(ctx context.Context, user, name string, t time.Time) error {
	key := serverKey(user, name)
	if m.Pending(user, name) != nil {
		return nil
	}
	if err := m.locks.Lock(ctx, key); err != nil {
		return err
	}
	defer m.locks.Unlock(key)

	srv, err := m.deps.Servers.Get(ctx, user, name)
	if err != nil {
		return err
	}
	if srv.LastActivity != nil && !t.After(*srv.LastActivity) {
		return nil
	}
	t = t.UTC()
	srv.LastActivity = &t
	return m.deps.Servers.Save(ctx, srv)
}

// Recover normaliza el estado persistido tras un restart del hub: un spawn
// interrumpido queda Failed, un stop interrumpido queda Stopped, y los
// servers Running se asumen vivos hasta el próximo poll.
func (m *Manager) Recover(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Component("spawner"), logger.Op("recover"))
	list, err := m.deps.Servers.ListByState(ctx,
		repository.ServerSpawning, repository.ServerStopping, repository.ServerRunning)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	held := make(map[string]bool)
	for i := range list {
		srv := &list[i]
		sctx := scoped(ctx, srv.Key())
		switch srv.State {
		case repository.ServerSpawning:
			stopCtx, cancel := context.WithTimeout(sctx, m.cfg.StopTimeout)
			if err := m.deps.Backend.Stop(stopCtx, ref(srv)); err != nil {
				logger.From(sctx).Warn("stop interrupted spawn", logger.Err(err))
			}
			cancel()
			srv.Address = ""
			srv.Message = "Hub restarted during spawn."
			if err := m.setState(sctx, srv, repository.ServerFailed); err != nil {
				return err
			}
		case repository.ServerStopping:
			srv.Address = ""
			srv.BackendState = nil
			if err := m.setState(sctx, srv, repository.ServerStopped); err != nil {
				return err
			}
		case repository.ServerRunning:
			held[srv.Key()] = true
		}
	}
	running := len(held)

	m.mu.Lock()
	m.held = held
	m.active = running
	m.mu.Unlock()
	metrics.ActiveServers.Set(float64(running))
	log.Info("spawner state recovered", logger.Int("running", running))
	return nil
}

// DesiredRoutes arma la tabla de rutas que debería tener el proxy.
func (m *Manager) DesiredRoutes(ctx context.Context) (map[string]proxy.Route, error) {
	running, err := m.deps.Servers.ListByState(ctx, repository.ServerRunning)
	if err != nil {
		return nil, err
	}
	out := make(map[string]proxy.Route, len(running))
	for i := range running {
		srv := &running[i]
		if srv.Address == "" {
			continue
		}
		r := m.route(srv)
		out[r.Prefix] = r
	}
	return out, nil
}

func (m *Manager) route(srv *repository.Server) proxy.Route {
	return proxy.Route{
		Prefix: m.prefix(srv),
		Target: srv.Address,
		Data:   map[string]any{proxy.DataHub: true, proxy.DataUser: srv.User, proxy.DataServer: srv.Name},
	}
}

// GuardRoute implementa proxy.Guard: una corrección de check_routes sobre la
// ruta de un server corre con el lock del server y contra su estado actual.
// Si el server tiene una operación en curso la corrección se saltea.
func (m *Manager) GuardRoute(ctx context.Context, r proxy.Route, fix func(want *proxy.Route) error) (bool, error) {
	user, _ := r.Data[proxy.DataUser].(string)
	if user == "" {
		return false, nil
	}
	name, _ := r.Data[proxy.DataServer].(string)
	key := serverKey(user, name)
	if !m.locks.TryLock(key) {
		logger.From(ctx).Debug("server busy, route fix postponed", logger.ServerKey(key))
		return true, nil
	}
	defer m.locks.Unlock(key)

	srv, err := m.deps.Servers.Get(ctx, user, name)
	switch {
	case repository.IsNotFound(err):
		return true, fix(nil)
	case err != nil:
		return true, err
	case srv.State != repository.ServerRunning || srv.Address == "":
		return true, fix(nil)
	}
	want := m.route(srv)
	return true, fix(&want)
}

// Close cancela los spawns en curso y espera a que terminen.
func (m *Manager) Close(ctx context.Context) error {
	m.shutdown()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prefix retorna el prefijo de ruta del server.
func (m *Manager) Prefix(user, name string) string {
	return proxy.RoutePrefix(m.cfg.BaseURL, user, name)
}

func (m *Manager) prefix(srv *repository.Server) string {
	return proxy.RoutePrefix(m.cfg.BaseURL, srv.User, srv.Name)
}

// setState persiste la transición y notifica. Si la escritura falla el
// server conserva el estado anterior.
func (m *Manager) setState(ctx context.Context, srv *repository.Server, to repository.ServerState) error {
	from := srv.State
	if err := checkTransition(from, to); err != nil {
		return err
	}
	srv.State = to
	if err := m.deps.Servers.Save(ctx, srv); err != nil {
		srv.State = from
		return fmt.Errorf("persist %s: %w", to, err)
	}
	m.emit(ctx, srv, from)
	return nil
}

func (m *Manager) emit(ctx context.Context, srv *repository.Server, from repository.ServerState) {
	logger.From(ctx).Info("server state changed", logger.Transition(string(from), string(srv.State)))

	if !srv.State.Active() {
		m.release(srv.Key())
	}

	t := Transition{User: srv.User, ServerName: srv.Name, From: from, To: srv.State, At: m.now()}
	m.mu.Lock()
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()
	for _, h := range hooks {
		h(t)
	}
}

func (m *Manager) revoke(ctx context.Context, srv *repository.Server) {
	if m.deps.Credentials == nil {
		return
	}
	if err := m.deps.Credentials.Revoke(ctx, srv); err != nil {
		logger.From(ctx).Warn("revoke server credentials", logger.Err(err))
	}
	srv.TokenID = ""
}

// env arma las variables de entorno del server. El token se agrega aparte.
func (m *Manager) env(srv *repository.Server) map[string]string {
	api := strings.TrimRight(m.cfg.HubAPIURL, "/")
	return map[string]string{
		"SPAWNHUB_API_URL":      api,
		"SPAWNHUB_USER":         srv.User,
		"SPAWNHUB_SERVER_NAME":  srv.Name,
		"SPAWNHUB_BASE_URL":     m.prefix(srv) + "/",
		"SPAWNHUB_ACTIVITY_URL": api + "/users/" + url.PathEscape(srv.User) + "/activity",
	}
}

func ref(srv *repository.Server) ServerRef {
	return ServerRef{User: srv.User, ServerName: srv.Name, Address: srv.Address, State: srv.BackendState}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 99:
		return 99
	}
	return p
}

// EnvKeys lista las variables que un backend puede esperar, ordenadas.
func EnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
