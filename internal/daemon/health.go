package daemon

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/common"
	"github.com/joseph-ayodele/batchwatch/internal/monitor"
)

// ServiceName is the health-check service name for the job monitor.
const ServiceName = "batchwatch.Monitor"

// ViewSource is what the reporter follows. *monitor.Monitor satisfies it.
type ViewSource interface {
	View() monitor.View
	Changed() <-chan struct{}
}

// HealthReporter mirrors the monitor onto a gRPC health server.
type HealthReporter struct {
	hs     *health.Server
	src    ViewSource
	logger *slog.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(hs *health.Server, src ViewSource, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthReporter{hs: hs, src: src, logger: logger, last: healthpb.HealthCheckResponse_UNKNOWN}
}

// StatusFor is SERVING while the processing server is reachable and the last job did
// not trip the connection breaker.
func StatusFor(v monitor.View) healthpb.HealthCheckResponse_ServingStatus {
	if v.Connection != constants.HealthConnected {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if v.State == constants.StateErrored && v.ErrorCode == common.CodeCircuitOpen {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Sync publishes the current status once.
func (r *HealthReporter) Sync() healthpb.HealthCheckResponse_ServingStatus {
	v := r.src.View()
	st := StatusFor(v)
	if st != r.last {
		r.hs.SetServingStatus("", st)
		r.hs.SetServingStatus(ServiceName, st)
		r.logger.Info("daemon.health.changed",
			"status", st.String(),
			"connection", string(v.Connection),
			"state", string(v.State),
		)
		r.last = st
	}
	return st
}

// Run keeps the health server in sync until ctx ends, then marks everything NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) {
	for {
		ch := r.src.Changed()
		r.Sync()
		select {
		case <-ctx.Done():
			r.hs.Shutdown()
			return
		case <-ch:
		}
	}
}
