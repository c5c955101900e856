// Package logger envuelve zap para el hub.
//
// Hay un logger global (Init/L) con los campos "service" y "version", y
// loggers derivados que viajan en el context.Context: el middleware de
// logging agrega request_id/method/path, el de auth agrega user/token_id y
// el spawner agrega component/server antes de cada transición.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Version: cfg.App.Version})
//	defer func() { _ = logger.Sync() }()
//
//	ctx = logger.Scoped(ctx, logger.Component("proxy"))
//	logger.From(ctx).Info("routes synced", logger.Int("added", n))
//
// fields.go define las claves; usarlas en vez de zap.String("...") mantiene
// los nombres estables para quien consulta los logs.
package logger
