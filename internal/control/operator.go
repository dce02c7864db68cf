// Package control implements the MRM emergency stop operator: the takeover
// state machine, the jerk-limited deceleration ramp and the periodic
// scheduler that publishes the resulting command.
//
// The operator keeps two command buffers apart. lastObserved is the most recent
// command heard from the driving stack and is only written while AVAILABLE.
// prev is what the operator itself commanded on the previous tick and feeds the
// ramp while OPERATING.
package control

import (
	"log/slog"
	"sync"
	"time"
)

// Operator is the takeover state machine plus the buffers the ramp runs on.
// Safe for concurrent use: the inbound feed, takeover requests and the ticker
// all arrive on different goroutines.
type Operator struct {
	mu sync.Mutex

	params Params
	logger *slog.Logger
	rec    Recorder

	state         OperatorState
	lastObserved  ControlCommand
	observed      bool
	prev          ControlCommand
	frozenLateral Lateral
}

// NewOperator creates an operator in the AVAILABLE state that reports to the
// service's Prometheus metrics.
func NewOperator(params Params, logger *slog.Logger) *Operator {
	return NewOperatorWithRecorder(params, logger, PrometheusRecorder)
}

// NewOperatorWithRecorder creates an operator in the AVAILABLE state that
// reports to rec.
func NewOperatorWithRecorder(params Params, logger *slog.Logger, rec Recorder) *Operator {
	rec.SetOperatorState(StateAvailable)
	return &Operator{
		params: params,
		logger: logger,
		rec:    rec,
		state:  StateAvailable,
	}
}

// Params returns the parameters the operator was built with.
func (o *Operator) Params() Params {
	return o.params
}

// State returns the current takeover state.
func (o *Operator) State() OperatorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnControlCommand handles one command from the upstream driving feed.
// While OPERATING the command is dropped so the frozen reference is not
// overwritten mid-stop. Reports whether the command was stored.
func (o *Operator) OnControlCommand(cmd ControlCommand) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateOperating {
		o.rec.IncInboundCommands("ignored")
		return false
	}
	o.lastObserved = cmd
	o.observed = true
	o.rec.IncInboundCommands("stored")
	return true
}

// Operate handles a takeover request. activate=true starts the emergency
// stop, false releases control back to the driving stack. Both always
// succeed, including when the operator is already in the requested state.
func (o *Operator) Operate(activate bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !activate {
		if o.state != StateAvailable {
			o.logger.Info("emergency stop released", "component", "operator")
		}
		o.state = StateAvailable
		o.rec.IncOperateRequests("release")
		o.rec.SetOperatorState(o.state)
		return true
	}

	if o.observed {
		o.frozenLateral = o.lastObserved.Lateral
	} else {
		o.frozenLateral = Lateral{}
	}

	if o.state != StateOperating {
		o.prev = o.lastObserved
		o.prev.Lateral = o.frozenLateral
		o.logger.Info("emergency stop engaged",
			"component", "operator",
			"observed", o.observed,
			"speed", o.lastObserved.Longitudinal.Speed,
			"acceleration", o.lastObserved.Longitudinal.Acceleration,
			"steering_tire_angle", o.frozenLateral.SteeringTireAngle,
		)
	}
	o.state = StateOperating
	o.rec.IncOperateRequests("engage")
	o.rec.SetOperatorState(o.state)
	return true
}

// Tick advances the operator by one control period and returns the command
// and status to publish. While OPERATING the ramp runs on the operator's own
// previous output; while AVAILABLE the last observed upstream command is
// returned unchanged.
func (o *Operator) Tick(now time.Time) (ControlCommand, StatusReport) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var cmd ControlCommand
	if o.state == StateOperating {
		cmd = CalcTargetAcceleration(o.prev, o.observed, o.frozenLateral, now, o.params)
		o.prev = cmd
	} else {
		cmd = o.lastObserved
	}

	return cmd, StatusReport{Stamp: now, State: o.state}
}
