package proxy

import (
	"context"
	"sync"
)

// MemoryBackend es un proxy en memoria. Sirve para desarrollo (sin proxy
// externo) y como doble de test, con inyección de fallas.
type MemoryBackend struct {
	mu     sync.Mutex
	routes map[string]Route
	down   bool
	fails  int // próximas llamadas que fallan con ErrUnavailable
	calls  map[string]int
}

// NewMemoryBackend crea un backend vacío.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{routes: make(map[string]Route), calls: make(map[string]int)}
}

// SetDown simula que el proxy está caído (true) o disponible (false).
func (m *MemoryBackend) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

// FailNext hace fallar las próximas n llamadas.
func (m *MemoryBackend) FailNext(n int) {
	m.mu.Lock()
	m.fails = n
	m.mu.Unlock()
}

// Calls retorna cuántas veces se invocó op ("add", "delete", "get").
func (m *MemoryBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryBackend) enter(op string) error {
	m.calls[op]++
	if m.down {
		return ErrUnavailable
	}
	if m.fails > 0 {
		m.fails--
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryBackend) AddRoute(_ context.Context, prefix, target string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("add"); err != nil {
		return err
	}
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	m.routes[prefix] = Route{Prefix: prefix, Target: target, Data: cp}
	return nil
}

func (m *MemoryBackend) DeleteRoute(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete"); err != nil {
		return err
	}
	delete(m.routes, prefix)
	return nil
}

func (m *MemoryBackend) GetRoutes(_ context.Context) (map[string]Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get"); err != nil {
		return nil, err
	}
	out := make(map[string]Route, len(m.routes))
	for k, v := range m.routes {
		out[k] = v
	}
	return out, nil
}
