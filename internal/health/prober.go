package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
)

// Checker is the liveness call the prober makes. *api.Client satisfies it.
type Checker interface {
	Health(ctx context.Context) error
}

// Result is the resolved connection health plus the reason for an error.
type Result struct {
	Health    constants.Health
	Err       error
	CheckedAt time.Time
}

// Message returns a user-facing description of the result.
func (r Result) Message() string {
	switch r.Health {
	case constants.HealthConnected:
		return "connected to processing server"
	case constants.HealthError:
		if r.Err != nil {
			return "cannot reach processing server: " + r.Err.Error()
		}
		return "cannot reach processing server"
	default:
		return "checking connection..."
	}
}

// Prober performs the one-shot startup connectivity check. Health starts as checking,
// resolves once, and never changes afterwards.
type Prober struct {
	checker Checker
	timeout time.Duration
	logger  *slog.Logger

	once   sync.Once
	mu     sync.RWMutex
	result Result
}

func NewProber(checker Checker, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		checker: checker,
		timeout: timeout,
		logger:  logger,
		result:  Result{Health: constants.HealthChecking},
	}
}

// Probe issues the liveness request the first time it is called; later calls return
// the resolved result without touching the network.
func (p *Prober) Probe(ctx context.Context) Result {
	p.once.Do(func() {
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		err := p.checker.Health(cctx)
		r := Result{Health: constants.HealthConnected, CheckedAt: time.Now()}
		if err != nil {
			r.Health = constants.HealthError
			r.Err = err
			p.logger.Warn("health.probe.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		} else {
			p.logger.Info("health.probe.ok", "elapsed_ms", time.Since(start).Milliseconds())
		}

		p.mu.Lock()
		p.result = r
		p.mu.Unlock()
	})
	return p.Result()
}

// Result returns the current value without probing.
func (p *Prober) Result() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.result
}

// Current satisfies monitor.HealthSource.
func (p *Prober) Current() constants.Health {
	return p.Result().Health
}

// Static is a fixed health value, for callers that skip the probe.
type Static constants.Health

func (s Static) Current() constants.Health {
	return constants.Health(s)
}
