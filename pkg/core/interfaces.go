package core

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// LastActionKey is the observation key holding each instance's recent actions
const LastActionKey = "LAST_ACTION"

// Batch maps an observation key to one matrix per environment instance.
// For LastActionKey each matrix is window x 3, oldest action first.
type Batch map[string][]*mat.Dense

// VecEnv is a simulation running several environment instances in lockstep
type VecEnv interface {
	// NumEnvs returns the number of parallel instances
	NumEnvs() int
	// Reset resets every instance and returns the initial observations
	Reset(ctx context.Context) (Batch, error)
	// StepAsync sends one action per instance
	StepAsync(actions []Action) error
	// StepWait blocks until the step started by StepAsync finishes
	StepWait(ctx context.Context) (StepResult, error)
}

// DistanceMapService fetches the current distance map
type DistanceMapService interface {
	GetDistanceMap(ctx context.Context) (*DistanceMap, error)
}

// PolicyService answers inference requests
type PolicyService interface {
	GetAction(ctx context.Context, obs Observation) (Action, error)
}

// ObservationSource returns the latest observation bundle
type ObservationSource interface {
	GetObservations(ctx context.Context) (Observation, error)
}
