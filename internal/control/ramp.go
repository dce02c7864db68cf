package control

import (
	"math"
	"time"
)

// CalcTargetAcceleration returns the next emergency stop command from the
// previously issued one.
//
// Speed integrates under the previous acceleration and is floored at zero.
// Acceleration ramps down at p.TargetJerk and is clamped at
// p.TargetAcceleration. Jerk reports zero once the previous acceleration sits
// exactly on the clamp bound. The lateral command is passed through.
//
// When no upstream command has ever been observed there is nothing to ramp
// from, so the result is a standstill command holding the target deceleration
// with the given lateral command.
func CalcTargetAcceleration(prev ControlCommand, observed bool, lateral Lateral, now time.Time, p Params) ControlCommand {
	if !observed {
		lateral.Stamp = now
		return ControlCommand{
			Stamp: now,
			Longitudinal: Longitudinal{
				Stamp:        now,
				Speed:        0,
				Acceleration: p.TargetAcceleration,
				Jerk:         0,
			},
			Lateral: lateral,
		}
	}

	// Elapsed real time, not the nominal period, so scheduling jitter is absorbed.
	dt := math.Max(now.Sub(prev.Stamp).Seconds(), 0)

	cmd := prev
	cmd.Stamp = now
	cmd.Longitudinal.Stamp = now
	cmd.Lateral.Stamp = now
	cmd.Longitudinal.Speed = math.Max(prev.Longitudinal.Speed+prev.Longitudinal.Acceleration*dt, 0)
	cmd.Longitudinal.Acceleration = math.Max(prev.Longitudinal.Acceleration+p.TargetJerk*dt, p.TargetAcceleration)

	// Exact comparison: math.Max returns the bound itself once clamped.
	if prev.Longitudinal.Acceleration == p.TargetAcceleration {
		cmd.Longitudinal.Jerk = 0
	} else {
		cmd.Longitudinal.Jerk = p.TargetJerk
	}
	return cmd
}
