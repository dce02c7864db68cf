package control

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mrm/emergencystop/internal/metrics"
)

// Publisher receives the outputs of every tick. Implementations must not block.
type Publisher interface {
	PublishControlCommand(cmd ControlCommand)
	PublishStatus(status StatusReport)
}

// Scheduler drives an Operator at the configured update rate.
type Scheduler struct {
	op     *Operator
	pub    Publisher
	period time.Duration
	now    func() time.Time
	logger *slog.Logger

	ticks atomic.Int64
}

// NewScheduler creates a scheduler ticking at op.Params().Period().
func NewScheduler(op *Operator, pub Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		op:     op,
		pub:    pub,
		period: op.Params().Period(),
		now:    time.Now,
		logger: logger,
	}
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		"component", "scheduler",
		"period_ms", s.period.Milliseconds(),
	)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "component", "scheduler", "ticks", s.ticks.Load())
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step runs a single tick: advance the operator, publish the command, then
// publish the status.
func (s *Scheduler) Step() {
	cmd, status := s.op.Tick(s.now())
	s.pub.PublishControlCommand(cmd)
	s.pub.PublishStatus(status)

	s.ticks.Add(1)
	metrics.IncTicks(string(status.State))
	metrics.SetCommand(cmd.Longitudinal.Speed, cmd.Longitudinal.Acceleration, cmd.Longitudinal.Jerk)
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() int64 {
	return s.ticks.Load()
}
