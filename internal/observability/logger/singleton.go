package logger

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance atomic.Pointer[zap.Logger]
)

// Init fija el logger global. Sólo la primera llamada cuenta; las siguientes
// se ignoran para que main y los tests no se pisen.
func Init(cfg Config) {
	once.Do(func() {
		instance.Store(New(cfg, os.Stderr))
	})
}

// L devuelve el logger global. Sin Init previo arranca uno de consola en info.
func L() *zap.Logger {
	if l := instance.Load(); l != nil {
		return l
	}
	Init(Config{})
	return instance.Load()
}

// Sync vacía los buffers del logger global; stderr devuelve EINVAL en
// algunas plataformas y se ignora.
func Sync() error {
	l := instance.Load()
	if l == nil {
		return nil
	}
	if err := l.Sync(); err != nil && !isStdSyncErr(err) {
		return err
	}
	return nil
}

func isStdSyncErr(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF)
}
