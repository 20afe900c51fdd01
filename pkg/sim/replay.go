package sim

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/navrl/pkg/core"
)

// ErrReplayDone is returned by StepWait once every recorded step was played
var ErrReplayDone = errors.New("replay finished")

// RecordedStep is one batched step of a recorded rollout
type RecordedStep struct {
	Rewards     []float64      `yaml:"rewards"`
	Dones       []bool         `yaml:"dones"`
	Infos       []RecordedInfo `yaml:"infos"`
	LastActions [][3]float64   `yaml:"last_actions"` // newest action per instance, optional
}

type RecordedInfo struct {
	EpisodeLength int    `yaml:"episode_length"`
	DoneReason    string `yaml:"done_reason"`
}

// Replay plays a recorded rollout back as a VecEnv, so statistics can be
// computed offline from a log of a training run.
type Replay struct {
	NumInstances int            `yaml:"num_envs"`
	Steps        []RecordedStep `yaml:"steps"`

	mu      sync.Mutex
	next    int
	pending bool
}

// LoadReplay reads a rollout recording from a YAML file
func LoadReplay(path string) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading replay")
	}
	return ParseReplay(data)
}

// ParseReplay decodes and validates a rollout recording
func ParseReplay(data []byte) (*Replay, error) {
	r := &Replay{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, errors.Wrap(err, "parsing replay")
	}
	if r.NumInstances <= 0 {
		return nil, errors.Errorf("replay num_envs must be positive, got %d", r.NumInstances)
	}

	n := r.NumInstances
	for i, st := range r.Steps {
		if len(st.Rewards) != n || len(st.Dones) != n {
			return nil, errors.Errorf("step %d: %d rewards and %d dones for %d envs", i, len(st.Rewards), len(st.Dones), n)
		}
		if len(st.Infos) != 0 && len(st.Infos) != n {
			return nil, errors.Errorf("step %d: %d infos for %d envs", i, len(st.Infos), n)
		}
		if len(st.LastActions) != 0 && len(st.LastActions) != n {
			return nil, errors.Errorf("step %d: %d last actions for %d envs", i, len(st.LastActions), n)
		}
	}
	return r, nil
}

func (r *Replay) NumEnvs() int {
	return r.NumInstances
}

// Reset rewinds the recording
func (r *Replay) Reset(_ context.Context) (core.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.pending = false
	return core.Batch{}, nil
}

// StepAsync accepts one action per instance. Recorded outcomes do not depend
// on them.
func (r *Replay) StepAsync(actions []core.Action) error {
	if len(actions) != r.NumInstances {
		return errors.Errorf("got %d actions for %d envs", len(actions), r.NumInstances)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = true
	return nil
}

func (r *Replay) StepWait(_ context.Context) (core.StepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pending {
		return core.StepResult{}, errors.New("StepWait called without StepAsync")
	}
	if r.next >= len(r.Steps) {
		return core.StepResult{}, ErrReplayDone
	}
	r.pending = false
	st := r.Steps[r.next]
	r.next++

	res := core.StepResult{
		Obs:     core.Batch{},
		Rewards: append([]float64(nil), st.Rewards...),
		Dones:   append([]bool(nil), st.Dones...),
		Infos:   make([]core.StepInfo, r.NumInstances),
		At:      time.Now(),
	}
	for i, info := range st.Infos {
		res.Infos[i] = core.StepInfo{EpisodeLength: info.EpisodeLength, DoneReason: info.DoneReason}
	}
	if len(st.LastActions) > 0 {
		windows := make([]*mat.Dense, len(st.LastActions))
		for i, a := range st.LastActions {
			windows[i] = mat.NewDense(1, 3, []float64{a[0], a[1], a[2]})
		}
		res.Obs[core.LastActionKey] = windows
	}
	return res, nil
}
