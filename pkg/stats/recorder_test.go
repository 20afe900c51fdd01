package stats

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/mat"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/params"
)

// scriptedEnv replays a fixed sequence of step results
type scriptedEnv struct {
	n     int
	steps []core.StepResult
	next  int
}

func (e *scriptedEnv) NumEnvs() int { return e.n }

func (e *scriptedEnv) Reset(_ context.Context) (core.Batch, error) { return core.Batch{}, nil }

func (e *scriptedEnv) StepAsync(_ []core.Action) error { return nil }

func (e *scriptedEnv) StepWait(_ context.Context) (core.StepResult, error) {
	res := e.steps[e.next%len(e.steps)]
	e.next++
	return res, nil
}

func step(rewards []float64, dones []bool, infos []core.StepInfo) core.StepResult {
	return core.StepResult{Rewards: rewards, Dones: dones, Infos: infos}
}

func testStore(t *testing.T) *params.MemoryStore {
	t.Helper()
	s := params.NewMemoryStore()
	_ = s.Set(ParamLinearRange, []any{0.0, 1.0})
	_ = s.Set(ParamAngularRange, []any{-1.0, 1.0})
	return s
}

func runSteps(t *testing.T, r *Recorder, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := r.StepWait(context.Background()); err != nil {
			t.Fatalf("StepWait #%d: %v", i+1, err)
		}
	}
}

// pending returns the episode returns and lengths since the last report
func pending(r *Recorder) (returns, lengths []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.episodeReturns, r.episodeLengths
}

func cumulativeReward(r *Recorder, i int) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cumRewards[i]
}

func TestNewRecorder(t *testing.T) {
	env := &scriptedEnv{n: 1}

	t.Run("after_x_eps must be positive", func(t *testing.T) {
		if _, err := NewRecorder(env, testStore(t), WithAfterXEps(0)); err == nil {
			t.Error("expected error for after_x_eps = 0")
		}
	})

	t.Run("ranges are required", func(t *testing.T) {
		if _, err := NewRecorder(env, params.NewMemoryStore()); err == nil {
			t.Error("expected error without action ranges")
		}
	})

	t.Run("translation range defaults to zero", func(t *testing.T) {
		r, err := NewRecorder(env, testStore(t))
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}
		if r.actionMin.AtVec(1) != 0 || r.actionMax.AtVec(1) != 0 {
			t.Errorf("translation range = [%v, %v], want [0, 0]", r.actionMin.AtVec(1), r.actionMax.AtVec(1))
		}
	})
}

func TestStepWait(t *testing.T) {
	t.Run("no finished episodes", func(t *testing.T) {
		env := &scriptedEnv{n: 2, steps: []core.StepResult{
			step([]float64{1, 1}, []bool{false, false}, nil),
		}}
		var out bytes.Buffer
		r, err := NewRecorder(env, testStore(t), WithVerbose(true), WithOutput(&out), WithLogger(golog.NewTestLogger(t)))
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}

		runSteps(t, r, 5)
		r.PrintStats()

		returns, lengths := pending(r)
		if len(returns) != 0 || len(lengths) != 0 {
			t.Errorf("Pending() = (%v, %v), want empty", returns, lengths)
		}
		if out.Len() != 0 {
			t.Errorf("unexpected output: %q", out.String())
		}
		if r.Summary() != nil {
			t.Error("Summary() should be nil before any report")
		}
		if steps, eps := r.Counts(); steps != 5 || eps != 0 {
			t.Errorf("Counts() = (%d, %d), want (5, 0)", steps, eps)
		}
	})

	t.Run("done resets only that instance", func(t *testing.T) {
		env := &scriptedEnv{n: 2, steps: []core.StepResult{
			step([]float64{1, 2}, []bool{false, false}, nil),
			step([]float64{1, 2}, []bool{true, false}, []core.StepInfo{{EpisodeLength: 2, DoneReason: core.DoneCollision}, {}}),
			step([]float64{1, 2}, []bool{false, false}, nil),
		}}
		r, err := NewRecorder(env, testStore(t), WithLogger(golog.NewTestLogger(t)))
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}

		runSteps(t, r, 2)
		if got := cumulativeReward(r, 0); got != 0 {
			t.Errorf("env 0 return after done = %v, want 0", got)
		}
		if got := cumulativeReward(r, 1); got != 4 {
			t.Errorf("env 1 return = %v, want 4", got)
		}

		runSteps(t, r, 1)
		if got := cumulativeReward(r, 0); got != 1 {
			t.Errorf("env 0 return on next step = %v, want 1", got)
		}
		if got := cumulativeReward(r, 1); got != 6 {
			t.Errorf("env 1 return = %v, want 6", got)
		}

		returns, lengths := pending(r)
		if len(returns) != 1 || returns[0] != 2 || lengths[0] != 2 {
			t.Errorf("Pending() = (%v, %v), want ([2], [2])", returns, lengths)
		}
	})

	t.Run("reports after every second episode", func(t *testing.T) {
		idle := step([]float64{0.5, 0.5}, []bool{false, false}, nil)
		env := &scriptedEnv{n: 2, steps: []core.StepResult{
			idle,
			idle,
			step([]float64{0.5, 0.5}, []bool{true, false}, []core.StepInfo{{EpisodeLength: 3, DoneReason: core.DoneGoalReached}, {}}),
			idle,
			idle,
			idle,
			step([]float64{0.5, 0.5}, []bool{false, true}, []core.StepInfo{{}, {EpisodeLength: 7, DoneReason: core.DoneCollision}}),
		}}
		var out bytes.Buffer
		r, err := NewRecorder(env, testStore(t),
			WithVerbose(true),
			WithAfterXEps(2),
			WithOutput(&out),
			WithLogger(golog.NewTestLogger(t)),
		)
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}

		runSteps(t, r, 6)
		if out.Len() != 0 {
			t.Fatalf("report printed after first episode: %q", out.String())
		}

		runSteps(t, r, 1)
		report := out.String()
		for _, want := range []string{
			strings.Repeat("-", 40),
			"Episode 2 / Step 7:",
			"Average episode return: 2.500 pts",
			"Mean episode length: 5.0 steps",
			"Done reasons: {STEP_LIMIT: 0, COLLISION: 1, GOAL_REACHED: 1}",
		} {
			if !strings.Contains(report, want) {
				t.Errorf("report missing %q:\n%s", want, report)
			}
		}

		s := r.Summary()
		if s == nil {
			t.Fatal("Summary() is nil after report")
		}
		if s.Episodes != 2 || s.Steps != 7 {
			t.Errorf("Summary episodes/steps = %d/%d, want 2/7", s.Episodes, s.Steps)
		}

		returns, _ := pending(r)
		if len(returns) != 0 {
			t.Errorf("accumulators not reset after report: %v", returns)
		}
		if steps, eps := r.Counts(); steps != 7 || eps != 2 {
			t.Errorf("Counts() = (%d, %d), want (7, 2)", steps, eps)
		}
	})

	t.Run("average action is de-normalized", func(t *testing.T) {
		windows := []*mat.Dense{
			mat.NewDense(2, 3, []float64{9, 9, 9, 1, 0, 0.5}),
			mat.NewDense(2, 3, []float64{9, 9, 9, 0, 0, -0.5}),
		}
		res := step([]float64{1, 1}, []bool{true, true}, []core.StepInfo{
			{EpisodeLength: 1, DoneReason: core.DoneStepLimit},
			{EpisodeLength: 1, DoneReason: core.DoneStepLimit},
		})
		res.Obs = core.Batch{core.LastActionKey: windows}
		env := &scriptedEnv{n: 2, steps: []core.StepResult{res}}

		var out bytes.Buffer
		r, err := NewRecorder(env, testStore(t), WithVerbose(true), WithAfterXEps(2), WithOutput(&out))
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}
		runSteps(t, r, 1)

		if !strings.Contains(out.String(), "Average actions: [0.75 0.00 0.00] (linear, transversal, angular)") {
			t.Errorf("unexpected report:\n%s", out.String())
		}
	})

	t.Run("average action spans all steps", func(t *testing.T) {
		res := step([]float64{1}, []bool{true}, []core.StepInfo{{EpisodeLength: 1, DoneReason: core.DoneGoalReached}})
		res.Obs = core.Batch{core.LastActionKey: []*mat.Dense{mat.NewDense(1, 3, []float64{1, 0, 0.4})}}
		env := &scriptedEnv{n: 1, steps: []core.StepResult{res}}

		var out bytes.Buffer
		r, err := NewRecorder(env, testStore(t),
			WithVerbose(true),
			WithAfterXEps(1),
			WithActionNormalized(false),
			WithOutput(&out),
		)
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}

		runSteps(t, r, 1)
		if !strings.Contains(out.String(), "Average actions: [1.00 0.00 0.40]") {
			t.Fatalf("first report:\n%s", out.String())
		}

		out.Reset()
		runSteps(t, r, 1)
		if !strings.Contains(out.String(), "Episode 2 / Step 2:") ||
			!strings.Contains(out.String(), "Average actions: [0.50 0.00 0.20]") {
			t.Errorf("second report:\n%s", out.String())
		}
		if s := r.Summary(); s == nil || s.AverageAction != [3]float64{0.5, 0, 0.2} {
			t.Errorf("Summary() = %+v", s)
		}
	})

	t.Run("mismatched batch", func(t *testing.T) {
		env := &scriptedEnv{n: 2, steps: []core.StepResult{step([]float64{1}, []bool{false}, nil)}}
		r, err := NewRecorder(env, testStore(t))
		if err != nil {
			t.Fatalf("NewRecorder: %v", err)
		}
		if _, err := r.StepWait(context.Background()); err == nil {
			t.Error("expected error for short reward slice")
		}
	})
}

func TestScaling(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		low := mat.NewVecDense(3, []float64{-0.5, -1, 0})
		high := mat.NewVecDense(3, []float64{2, 1, 3.5})

		for _, v := range []float64{-1, -0.25, 0, 0.6, 1} {
			norm := mat.NewVecDense(3, []float64{v, v, v})
			back := MaxAbsScaling(ReverseMaxAbsScaling(norm, low, high), low, high)
			for i := 0; i < 3; i++ {
				if math.Abs(back.AtVec(i)-v) > 1e-9 {
					t.Errorf("axis %d: round trip of %v = %v", i, v, back.AtVec(i))
				}
			}
		}
	})

	t.Run("zero range stays finite", func(t *testing.T) {
		low := mat.NewVecDense(1, []float64{0.3})
		high := mat.NewVecDense(1, []float64{0.3})
		out := ReverseMaxAbsScaling(mat.NewVecDense(1, []float64{0.5}), low, high)
		got := out.AtVec(0)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("got %v, want finite", got)
		}
		if math.Abs(got-0.3) > 1e-9 {
			t.Errorf("got %v, want ~0.3", got)
		}
	})
}
