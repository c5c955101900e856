package proxy

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig acota los reintentos contra el proxy.
type RetryConfig struct {
	MaxAttempts  int           // intentos totales, incluido el primero
	InitialDelay time.Duration // primer espera
	MaxDelay     time.Duration // tope de cada espera
}

// DefaultRetry es la política por defecto.
var DefaultRetry = RetryConfig{MaxAttempts: 8, InitialDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultRetry.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetry.MaxDelay
	}
	if c.InitialDelay > c.MaxDelay {
		c.InitialDelay = c.MaxDelay
	}
	return c
}

// newBackOff arma la política exponencial: duplica desde InitialDelay,
// cada espera acotada a MaxDelay, a lo sumo MaxAttempts-1 reintentos.
func (c RetryConfig) newBackOff() backoff.BackOff {
	c = c.normalized()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.1
	exp.MaxInterval = c.MaxDelay
	exp.MaxElapsedTime = 0 // el límite lo pone MaxAttempts
	exp.Reset()
	return backoff.WithMaxRetries(&clampedBackOff{next: exp, max: c.MaxDelay}, uint64(c.MaxAttempts-1))
}

// clampedBackOff satura cualquier espera fuera de rango en max. El jitter
// puede superar MaxInterval, y una política mal configurada puede
// desbordar a negativo; ninguno de los dos llega al caller.
type clampedBackOff struct {
	next backoff.BackOff
	max  time.Duration
}

func (c *clampedBackOff) NextBackOff() time.Duration {
	d := c.next.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	return clampDelay(d, c.max)
}

func (c *clampedBackOff) Reset() { c.next.Reset() }

func clampDelay(d, max time.Duration) time.Duration {
	if d < 0 || d > max {
		return max
	}
	return d
}
