package spawner

import (
	"context"
	"sync"
)

// Event es un evento de avance de un spawn.
type Event struct {
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Ready    bool   `json:"ready,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Stream es un flujo de eventos con un productor y N consumidores.
// Publish nunca bloquea; cada suscriptor recibe el historial completo
// y luego los eventos nuevos, a su propio ritmo.
type Stream struct {
	mu      sync.Mutex
	history []Event
	changed chan struct{} // se cierra y reemplaza en cada Publish/Close
	closed  bool
}

// NewStream crea un stream vacío.
func NewStream() *Stream {
	return &Stream{changed: make(chan struct{})}
}

// Publish agrega un evento. Ignorado si el stream ya cerró.
func (s *Stream) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.history = append(s.history, e)
	close(s.changed)
	s.changed = make(chan struct{})
}

// Close marca el fin del stream.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.changed)
}

// History retorna una copia de los eventos publicados.
func (s *Stream) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.history...)
}

// Subscribe retorna un canal con el historial y los eventos siguientes.
// El canal se cierra cuando el stream cierra (tras entregar todo) o cuando
// ctx termina.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		next := 0
		for {
			s.mu.Lock()
			pending := s.history[next:]
			wait := s.changed
			done := s.closed
			s.mu.Unlock()

			for _, e := range pending {
				select {
				case out <- e:
					next++
				case <-ctx.Done():
					return
				}
			}
			if done && len(pending) == 0 {
				return
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
