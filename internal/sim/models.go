package sim

import "github.com/mrm/emergencystop/internal/control"

// Meta holds the identity and timing parameters for a simulation run.
type Meta struct {
	SimulationID string  `json:"simulation_id"`
	RunTime      float64 `json:"run_time"`            // seconds
	TimeStep     float64 `json:"time_step,omitempty"` // seconds; defaults to 1/update_rate
}

// ParamsInput overrides the operator defaults. Zero fields keep the default.
type ParamsInput struct {
	UpdateRate         int     `json:"update_rate,omitempty"`
	TargetAcceleration float64 `json:"target_acceleration,omitempty"`
	TargetJerk         float64 `json:"target_jerk,omitempty"`
}

// UpstreamEvent is a driving command arriving on the inbound feed at time At.
type UpstreamEvent struct {
	At                       float64 `json:"at"` // seconds
	Speed                    float64 `json:"speed"`
	Acceleration             float64 `json:"acceleration"`
	SteeringTireAngle        float64 `json:"steering_tire_angle"`
	SteeringTireRotationRate float64 `json:"steering_tire_rotation_rate"`
}

// OperateEvent is a takeover request arriving at time At.
type OperateEvent struct {
	At      float64 `json:"at"` // seconds
	Operate bool    `json:"operate"`
}

// Scenario is the JSON-serialisable input to a simulation.
type Scenario struct {
	Meta     Meta            `json:"simulation_meta"`
	Params   ParamsInput     `json:"params"`
	Upstream []UpstreamEvent `json:"upstream"`
	Operate  []OperateEvent  `json:"operate"`
}

// LogRow is the published output of a single tick.
type LogRow struct {
	Timestamp                float64               `json:"timestamp"` // seconds
	State                    control.OperatorState `json:"state"`
	Speed                    float64               `json:"speed"`
	Acceleration             float64               `json:"acceleration"`
	Jerk                     float64               `json:"jerk"`
	SteeringTireAngle        float64               `json:"steering_tire_angle"`
	SteeringTireRotationRate float64               `json:"steering_tire_rotation_rate"`
}

// Summary describes the stop once the run is complete.
type Summary struct {
	Engaged      bool     `json:"engaged"`
	EngagedAt    *float64 `json:"engaged_at,omitempty"` // seconds
	StoppedAt    *float64 `json:"stopped_at,omitempty"` // first OPERATING tick at zero speed
	SettledAt    *float64 `json:"settled_at,omitempty"` // first OPERATING tick with zero jerk
	StopDistance float64  `json:"stop_distance"`        // metres travelled while OPERATING
}

// Log is the complete output of a simulation run.
type Log struct {
	Meta    Meta        `json:"simulation_meta"`
	Params  ParamsInput `json:"params"`
	Summary Summary     `json:"summary"`
	Output  []LogRow    `json:"output"`
}
