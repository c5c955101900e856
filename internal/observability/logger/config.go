package logger

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultService es el valor del campo "service" cuando Config no trae uno.
const DefaultService = "spawnhub"

// Config del logger del hub. cmd/spawnhub la arma desde app_env, log.level y
// la versión del binario.
type Config struct {
	// Env "prod"/"production" emite JSON; cualquier otro valor, consola.
	Env string
	// Level mínimo: debug, info, warn, error. Inválido o vacío => info.
	Level string
	// ServiceName va en cada línea como "service".
	ServiceName string
	// Version va en cada línea como "version" si no está vacía.
	Version string
}

func (c Config) jsonOutput() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "prod", "production":
		return true
	}
	return false
}

// New construye un logger que escribe en out. Init lo usa con stderr; los
// tests pasan un buffer.
func New(cfg Config, out io.Writer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.jsonOutput() {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(enc)
		// en consola el stacktrace sólo estorba salvo en panics
		opts = []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel)}
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), ParseLevel(cfg.Level))

	service := cfg.ServiceName
	if service == "" {
		service = DefaultService
	}
	fields := []zap.Field{zap.String("service", service)}
	if cfg.Version != "" {
		fields = append(fields, zap.String("version", cfg.Version))
	}
	return zap.New(core, opts...).With(fields...)
}

// ParseLevel acepta los nombres de zap más "warning"; cualquier otro valor es info.
func ParseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
