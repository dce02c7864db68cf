package control

import "github.com/mrm/emergencystop/internal/metrics"

// Recorder receives the operator's state changes and request counts.
type Recorder interface {
	SetOperatorState(state OperatorState)
	IncOperateRequests(action string)
	IncInboundCommands(outcome string)
}

// PrometheusRecorder reports to the process-wide collectors in package metrics.
var PrometheusRecorder Recorder = promRecorder{}

// DiscardRecorder drops everything. Offline runs use it so they never touch
// the live service's metrics.
var DiscardRecorder Recorder = discardRecorder{}

type promRecorder struct{}

func (promRecorder) SetOperatorState(state OperatorState) { metrics.SetOperatorState(string(state)) }
func (promRecorder) IncOperateRequests(action string)     { metrics.IncOperateRequests(action) }
func (promRecorder) IncInboundCommands(outcome string)    { metrics.IncInboundCommands(outcome) }

type discardRecorder struct{}

func (discardRecorder) SetOperatorState(OperatorState) {}
func (discardRecorder) IncOperateRequests(string)      {}
func (discardRecorder) IncInboundCommands(string)      {}
