package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/core"
)

const sampleReplay = `
num_envs: 2
steps:
  - rewards: [0.5, 1.0]
    dones: [false, false]
    last_actions:
      - [0.2, 0.0, 0.1]
      - [0.4, 0.0, -0.1]
  - rewards: [1.5, -2.0]
    dones: [true, false]
    infos:
      - {episode_length: 2, done_reason: GOAL_REACHED}
      - {}
`

func TestReplay(t *testing.T) {
	ctx := context.Background()
	zero := []core.Action{core.ZeroAction, core.ZeroAction}

	t.Run("plays recorded steps", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rollout.yaml")
		if err := os.WriteFile(path, []byte(sampleReplay), 0o644); err != nil {
			t.Fatalf("Failed to write replay: %v", err)
		}
		r, err := LoadReplay(path)
		if err != nil {
			t.Fatalf("LoadReplay: %v", err)
		}
		if r.NumEnvs() != 2 {
			t.Fatalf("NumEnvs() = %d, want 2", r.NumEnvs())
		}

		if _, err := r.StepWait(ctx); err == nil {
			t.Error("expected error for StepWait before StepAsync")
		}

		_ = r.StepAsync(zero)
		first, err := r.StepWait(ctx)
		if err != nil {
			t.Fatalf("StepWait: %v", err)
		}
		windows := first.Obs[core.LastActionKey]
		if len(windows) != 2 || windows[1].At(0, 0) != 0.4 {
			t.Errorf("last action windows = %v", windows)
		}

		_ = r.StepAsync(zero)
		second, err := r.StepWait(ctx)
		if err != nil {
			t.Fatalf("StepWait: %v", err)
		}
		if !second.Dones[0] || second.Infos[0].DoneReason != core.DoneGoalReached || second.Infos[0].EpisodeLength != 2 {
			t.Errorf("second step = %+v", second)
		}
		if _, ok := second.Obs[core.LastActionKey]; ok {
			t.Error("unexpected last action windows")
		}

		_ = r.StepAsync(zero)
		if _, err := r.StepWait(ctx); errors.Cause(err) != ErrReplayDone {
			t.Errorf("StepWait at end = %v, want ErrReplayDone", err)
		}

		if _, err := r.Reset(ctx); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		_ = r.StepAsync(zero)
		if res, err := r.StepWait(ctx); err != nil || res.Rewards[0] != 0.5 {
			t.Errorf("after Reset = (%v, %v), want first step", res.Rewards, err)
		}
	})

	t.Run("rejects inconsistent recordings", func(t *testing.T) {
		for name, doc := range map[string]string{
			"no envs":        "steps: []",
			"short rewards":  "num_envs: 2\nsteps:\n  - {rewards: [1], dones: [false, false]}",
			"extra actions":  "num_envs: 1\nsteps:\n  - {rewards: [1], dones: [false], last_actions: [[0,0,0],[0,0,0]]}",
			"malformed yaml": "num_envs: [",
		} {
			if _, err := ParseReplay([]byte(doc)); err == nil {
				t.Errorf("%s: expected error", name)
			}
		}
	})

	t.Run("action count must match", func(t *testing.T) {
		r, err := ParseReplay([]byte(sampleReplay))
		if err != nil {
			t.Fatalf("ParseReplay: %v", err)
		}
		if err := r.StepAsync([]core.Action{core.ZeroAction}); err == nil {
			t.Error("expected error for one action on two envs")
		}
	})
}
