package spawner

import (
	"context"
	"sync"
)

// serverLocks es un mutex por server ("user/name"), adquirible con contexto.
type serverLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newServerLocks() *serverLocks {
	return &serverLocks{locks: make(map[string]chan struct{})}
}

func (l *serverLocks) get(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Lock bloquea hasta obtener el lock o hasta que ctx termine.
func (l *serverLocks) Lock(ctx context.Context, key string) error {
	select {
	case l.get(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LockOrWake espera el lock como Lock, pero vuelve con acquired=false si
// wake se cierra antes.
func (l *serverLocks) LockOrWake(ctx context.Context, key string, wake <-chan struct{}) (acquired bool, err error) {
	select {
	case l.get(key) <- struct{}{}:
		return true, nil
	case <-wake:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// TryLock no bloquea. Lo usan los loops de fondo para saltear servers ocupados.
func (l *serverLocks) TryLock(key string) bool {
	select {
	case l.get(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *serverLocks) Unlock(key string) {
	<-l.get(key)
}
