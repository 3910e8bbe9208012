package lifecycle

import (
	"context"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Number of cleanup sweep runs",
	})
	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "sweeper",
		Name:      "deployments_expired_total",
		Help:      "Deployments transitioned to deleted by the sweep",
	})
	sweepOrphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "sweeper",
		Name:      "orphan_namespaces_removed_total",
		Help:      "Orphaned storage namespaces reclaimed",
	})
)

// Sweeper periodically runs the cleanup and orphan sweeps.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper wraps the lifecycle service in a background ticker.
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger.With("component", "sweeper")}
}

// Run blocks until the context is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	sweepRunsTotal.Inc()
	expired, err := s.svc.Sweep(ctx)
	if err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
	} else {
		sweepExpiredTotal.Add(float64(expired))
	}
	orphans, err := s.svc.SweepOrphans(ctx)
	if err != nil {
		s.logger.Error("orphan sweep failed", "error", err)
	} else {
		sweepOrphansTotal.Add(float64(orphans))
	}
}
