package control

import (
	"errors"
	"fmt"
	"time"
)

// OperatorState is the takeover state of the emergency stop operator.
type OperatorState string

const (
	StateAvailable OperatorState = "AVAILABLE"
	StateOperating OperatorState = "OPERATING"
)

// Longitudinal is the speed-axis part of a control command.
type Longitudinal struct {
	Stamp        time.Time `json:"stamp"`
	Speed        float64   `json:"speed"`        // m/s, never negative
	Acceleration float64   `json:"acceleration"` // m/s²
	Jerk         float64   `json:"jerk"`         // m/s³
}

// Lateral is the steering part of a control command.
type Lateral struct {
	Stamp                    time.Time `json:"stamp"`
	SteeringTireAngle        float64   `json:"steering_tire_angle"`         // rad
	SteeringTireRotationRate float64   `json:"steering_tire_rotation_rate"` // rad/s
}

// ControlCommand is an Ackermann control command. The same shape is used for
// the inbound driving feed and the outbound MRM command.
type ControlCommand struct {
	Stamp        time.Time    `json:"stamp"`
	Longitudinal Longitudinal `json:"longitudinal"`
	Lateral      Lateral      `json:"lateral"`
}

// StatusReport is published every tick alongside the control command.
type StatusReport struct {
	Stamp time.Time     `json:"stamp"`
	State OperatorState `json:"state"`
}

// Params holds the operator parameters. Read once at startup.
type Params struct {
	UpdateRate           int     // ticks per second (default: 30)
	TargetAcceleration   float64 // terminal deceleration, negative (default: -2.5)
	TargetJerk           float64 // ramp jerk, negative (default: -1.5)
	SteeringHandlingType int     // accepted but not used by the ramp
}

// DefaultParams returns the stock parameter set.
func DefaultParams() Params {
	return Params{
		UpdateRate:         30,
		TargetAcceleration: -2.5,
		TargetJerk:         -1.5,
	}
}

// Validate rejects parameter sets the ramp cannot run with.
func (p Params) Validate() error {
	var errs []error
	if p.UpdateRate < 1 {
		errs = append(errs, fmt.Errorf("update rate must be >= 1, got %d", p.UpdateRate))
	}
	if p.TargetAcceleration >= 0 {
		errs = append(errs, fmt.Errorf("target acceleration must be negative, got %g", p.TargetAcceleration))
	}
	if p.TargetJerk >= 0 {
		errs = append(errs, fmt.Errorf("target jerk must be negative, got %g", p.TargetJerk))
	}
	return errors.Join(errs...)
}

// Period returns the tick interval derived from UpdateRate.
func (p Params) Period() time.Duration {
	return time.Second / time.Duration(p.UpdateRate)
}
