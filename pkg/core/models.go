package core

import (
	"time"
)

// Action is a velocity command in robot frame: linear-x, linear-y, angular-z
type Action [3]float64

// ZeroAction is the action issued before any inference has happened
var ZeroAction = Action{0, 0, 0}

// Twist converts the action into a velocity command
func (a Action) Twist() Twist {
	return Twist{
		LinearX:  a[0],
		LinearY:  a[1],
		AngularZ: a[2],
	}
}

// Twist is the published control command
type Twist struct {
	LinearX  float64 `json:"linear_x"`
	LinearY  float64 `json:"linear_y"`
	AngularZ float64 `json:"angular_z"`
}

// ClockTime is a simulated clock stamp
type ClockTime struct {
	Secs  int64
	Nsecs int64
}

// Duration returns the stamp as time since simulation start
func (c ClockTime) Duration() time.Duration {
	return time.Duration(c.Secs)*time.Second + time.Duration(c.Nsecs)
}

// ClockFromDuration splits d into a clock stamp
func ClockFromDuration(d time.Duration) ClockTime {
	return ClockTime{
		Secs:  int64(d / time.Second),
		Nsecs: int64(d % time.Second),
	}
}

// Observation is the bundle sent along with an inference request
type Observation struct {
	LaserScan        []float32
	GoalInRobotFrame [3]float64 // rho, theta, heading
	LastAction       Action
}

// DistanceMap is a grid where each cell holds the distance to the nearest obstacle
type DistanceMap struct {
	Width      int       `yaml:"width" json:"width"`
	Height     int       `yaml:"height" json:"height"`
	Resolution float64   `yaml:"resolution" json:"resolution"` // meters per cell
	OriginX    float64   `yaml:"origin_x" json:"origin_x"`
	OriginY    float64   `yaml:"origin_y" json:"origin_y"`
	Data       []float32 `yaml:"data" json:"data"` // row-major, Width*Height cells
}

// Valid reports whether the map is well-formed
func (m *DistanceMap) Valid() bool {
	if m == nil {
		return false
	}
	if m.Width <= 0 || m.Height <= 0 || m.Resolution <= 0 {
		return false
	}
	return len(m.Data) == m.Width*m.Height
}

// Termination reasons reported in StepInfo.DoneReason
const (
	DoneStepLimit   = "STEP_LIMIT"
	DoneCollision   = "COLLISION"
	DoneGoalReached = "GOAL_REACHED"
)

// DoneReasons lists the known termination reasons in report order
var DoneReasons = []string{DoneStepLimit, DoneCollision, DoneGoalReached}

// StepInfo is the per-instance side channel of a batched step
type StepInfo struct {
	EpisodeLength int
	DoneReason    string
}

// StepResult is the outcome of one batched step
type StepResult struct {
	Obs     Batch
	Rewards []float64
	Dones   []bool
	Infos   []StepInfo
	At      time.Time
}

// VelocityCommand is a Twist addressed to a robot's command topic
type VelocityCommand struct {
	Topic string
	Twist Twist
}
