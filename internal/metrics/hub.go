package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del núcleo del hub (spawner y proxy). Viven en un paquete aparte
// para evitar ciclos de import entre spawner, proxy y http.

var (
	SpawnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spawnhub_server_spawn_duration_seconds",
		Help:    "Duración de spawns de servers por resultado",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 30, 60, 120, 300, 600},
	}, []string{"status"}) // status: success|failure|timeout|cancelled|throttled|too-many-users

	StopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spawnhub_server_stop_duration_seconds",
		Help:    "Duración de stops de servers",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"}) // status: success|failure

	PollResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spawnhub_server_poll_total",
		Help: "Resultados de poll de servers",
	}, []string{"status"}) // status: running|stopped|error

	PendingSpawns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spawnhub_pending_spawns",
		Help: "Spawns en curso",
	})

	ActiveServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spawnhub_active_servers",
		Help: "Servers ocupando un slot (pendientes o corriendo)",
	})

	SpawnsDisabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spawnhub_spawns_disabled",
		Help: "1 si el hub dejó de aceptar spawns por fallas consecutivas",
	})

	ProxyOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spawnhub_proxy_ops_total",
		Help: "Llamadas a la API del proxy por operación y resultado",
	}, []string{"op", "result"}) // result: ok|retry|error

	ProxyOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spawnhub_proxy_op_duration_seconds",
		Help:    "Duración de operaciones contra el proxy, incluyendo reintentos",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	RouteChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spawnhub_check_routes_changes_total",
		Help: "Rutas corregidas por check_routes",
	}, []string{"action"}) // action: added|updated|removed

	CulledServers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spawnhub_culled_servers_total",
		Help: "Servers detenidos por inactividad",
	})
)

// Register registra las métricas del hub en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		SpawnDuration, StopDuration, PollResults, PendingSpawns, ActiveServers,
		SpawnsDisabled, ProxyOps, ProxyOpDuration, RouteChanges, CulledServers,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
