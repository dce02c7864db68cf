// Package sim replays the emergency stop operator offline over a fixed
// timestep. Upstream commands and takeover requests are scripted in a
// Scenario; each tick's published command is recorded in the Log.
//
// The simulation drives the same control.Operator the service runs, so the
// trajectory it prints is the one the vehicle would be commanded.
package sim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/mrm/emergencystop/internal/control"
)

// epoch anchors simulation seconds to wall-clock stamps.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const maxSteps = 1_000_000

// maxSimSeconds bounds simulation time; stamps at or past it overflow time.Duration.
var maxSimSeconds = time.Duration(math.MaxInt64).Seconds()

// Run executes the scenario and returns the log.
func Run(sc Scenario) (Log, error) {
	params, err := resolveParams(sc.Params)
	if err != nil {
		return Log{}, err
	}

	dt := sc.Meta.TimeStep
	if dt == 0 {
		dt = params.Period().Seconds()
	}
	if dt < 0 || math.IsNaN(dt) {
		return Log{}, fmt.Errorf("time_step must be positive, got %g", sc.Meta.TimeStep)
	}
	if sc.Meta.RunTime < 0 {
		return Log{}, fmt.Errorf("run_time must be >= 0, got %g", sc.Meta.RunTime)
	}
	if sc.Meta.RunTime >= maxSimSeconds {
		return Log{}, fmt.Errorf("run_time must be < %g, got %g", maxSimSeconds, sc.Meta.RunTime)
	}
	for i, u := range sc.Upstream {
		if u.Speed < 0 {
			return Log{}, fmt.Errorf("upstream[%d]: speed must be >= 0, got %g", i, u.Speed)
		}
		if math.Abs(u.At) >= maxSimSeconds {
			return Log{}, fmt.Errorf("upstream[%d]: |at| must be < %g, got %g", i, maxSimSeconds, u.At)
		}
	}
	for i, o := range sc.Operate {
		if math.Abs(o.At) >= maxSimSeconds {
			return Log{}, fmt.Errorf("operate[%d]: |at| must be < %g, got %g", i, maxSimSeconds, o.At)
		}
	}

	// Bound the tick count before converting, an oversized float has no int value.
	n := math.Floor(sc.Meta.RunTime/dt+1e-9) + 1
	if !(n <= maxSteps) {
		return Log{}, fmt.Errorf("run_time/time_step yields %g ticks, limit is %d", n, maxSteps)
	}
	steps := int(n)

	upstream := append([]UpstreamEvent(nil), sc.Upstream...)
	sort.SliceStable(upstream, func(i, j int) bool { return upstream[i].At < upstream[j].At })
	operate := append([]OperateEvent(nil), sc.Operate...)
	sort.SliceStable(operate, func(i, j int) bool { return operate[i].At < operate[j].At })

	op := control.NewOperatorWithRecorder(params, slog.New(slog.DiscardHandler), control.DiscardRecorder)

	out := Log{
		Meta: sc.Meta,
		Params: ParamsInput{
			UpdateRate:         params.UpdateRate,
			TargetAcceleration: params.TargetAcceleration,
			TargetJerk:         params.TargetJerk,
		},
	}
	out.Meta.TimeStep = dt

	var ui, oi int
	for i := 0; i < steps; i++ {
		t := float64(i) * dt
		now := stampAt(t)

		// Events due by this tick are delivered before it, feed first.
		for ; ui < len(upstream) && upstream[ui].At <= t; ui++ {
			op.OnControlCommand(upstream[ui].command())
		}
		for ; oi < len(operate) && operate[oi].At <= t; oi++ {
			op.Operate(operate[oi].Operate)
		}

		cmd, status := op.Tick(now)
		row := LogRow{
			Timestamp:                t,
			State:                    status.State,
			Speed:                    cmd.Longitudinal.Speed,
			Acceleration:             cmd.Longitudinal.Acceleration,
			Jerk:                     cmd.Longitudinal.Jerk,
			SteeringTireAngle:        cmd.Lateral.SteeringTireAngle,
			SteeringTireRotationRate: cmd.Lateral.SteeringTireRotationRate,
		}
		out.Output = append(out.Output, row)
		summarize(&out.Summary, row, dt)
	}
	return out, nil
}

func summarize(s *Summary, row LogRow, dt float64) {
	if row.State != control.StateOperating {
		return
	}
	t := row.Timestamp
	if !s.Engaged {
		s.Engaged = true
		s.EngagedAt = &t
	}
	if s.StoppedAt == nil {
		s.StopDistance += row.Speed * dt
		if row.Speed == 0 {
			s.StoppedAt = &t
		}
	}
	if s.SettledAt == nil && row.Jerk == 0 {
		s.SettledAt = &t
	}
}

func resolveParams(in ParamsInput) (control.Params, error) {
	p := control.DefaultParams()
	if in.UpdateRate != 0 {
		p.UpdateRate = in.UpdateRate
	}
	if in.TargetAcceleration != 0 {
		p.TargetAcceleration = in.TargetAcceleration
	}
	if in.TargetJerk != 0 {
		p.TargetJerk = in.TargetJerk
	}
	if err := p.Validate(); err != nil {
		return control.Params{}, fmt.Errorf("invalid params: %w", err)
	}
	return p, nil
}

func (u UpstreamEvent) command() control.ControlCommand {
	stamp := stampAt(u.At)
	return control.ControlCommand{
		Stamp: stamp,
		Longitudinal: control.Longitudinal{
			Stamp:        stamp,
			Speed:        u.Speed,
			Acceleration: u.Acceleration,
		},
		Lateral: control.Lateral{
			Stamp:                    stamp,
			SteeringTireAngle:        u.SteeringTireAngle,
			SteeringTireRotationRate: u.SteeringTireRotationRate,
		},
	}
}

func stampAt(seconds float64) time.Time {
	return epoch.Add(time.Duration(math.Round(seconds * float64(time.Second))))
}

// RunJSON accepts a JSON-encoded Scenario, runs it, and returns the
// JSON-encoded Log.
func RunJSON(jsonInput string) (string, error) {
	var sc Scenario
	if err := json.Unmarshal([]byte(jsonInput), &sc); err != nil {
		return "", fmt.Errorf("invalid input JSON: %w", err)
	}

	simLog, err := Run(sc)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(simLog)
	if err != nil {
		return "", fmt.Errorf("marshaling output: %w", err)
	}
	return string(out), nil
}
