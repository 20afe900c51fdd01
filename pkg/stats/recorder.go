package stats

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/params"
)

const (
	ParamLinearRange      = "/actions/continuous/linear_range"
	ParamAngularRange     = "/actions/continuous/angular_range"
	ParamTranslationRange = "/actions/continuous/translation_range"

	DefaultAfterXEps = 100
)

// Summary is one printed statistics report
type Summary struct {
	Episodes        int
	Steps           int
	AverageAction   [3]float64 // linear, transversal, angular
	AverageStepTime time.Duration
	AverageReturn   float64
	MeanLength      float64
	DoneReasons     map[string]int
}

// Recorder wraps a VecEnv and aggregates per-episode statistics across all
// of its instances.
type Recorder struct {
	venv       core.VecEnv
	verbose    bool
	afterXEps  int
	normalized bool
	out        io.Writer
	logger     golog.Logger

	actionMin *mat.VecDense
	actionMax *mat.VecDense

	mu          sync.Mutex
	numSteps    int
	numEpisodes int

	// reset after every report
	stepTimes      []float64
	cumRewards     []float64
	episodeReturns []float64
	episodeLengths []float64
	doneReasons    map[string]int
	actions        *mat.VecDense
	last           *Summary
}

type RecorderParams struct {
	Verbose          bool
	AfterXEps        int
	ActionNormalized bool
	Output           io.Writer
	Logger           golog.Logger
}

type RecorderOption func(*RecorderParams)

// WithVerbose enables printing a report every AfterXEps episodes
func WithVerbose(v bool) RecorderOption {
	return func(p *RecorderParams) {
		p.Verbose = v
	}
}

func WithAfterXEps(n int) RecorderOption {
	return func(p *RecorderParams) {
		p.AfterXEps = n
	}
}

// WithActionNormalized tells the recorder actions are scaled to [-1, 1]
func WithActionNormalized(n bool) RecorderOption {
	return func(p *RecorderParams) {
		p.ActionNormalized = n
	}
}

func WithOutput(w io.Writer) RecorderOption {
	return func(p *RecorderParams) {
		p.Output = w
	}
}

func WithLogger(l golog.Logger) RecorderOption {
	return func(p *RecorderParams) {
		p.Logger = l
	}
}

func NewRecorder(venv core.VecEnv, store params.Store, opts ...RecorderOption) (*Recorder, error) {
	p := &RecorderParams{
		AfterXEps:        DefaultAfterXEps,
		ActionNormalized: true,
		Output:           os.Stdout,
		Logger:           golog.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if venv == nil {
		return nil, errors.New("recorder needs an environment")
	}
	if p.AfterXEps <= 0 {
		return nil, errors.Errorf("after_x_eps must be positive, got %d", p.AfterXEps)
	}

	linear, err := params.GetFloatPair(store, ParamLinearRange)
	if err != nil {
		return nil, errors.Wrap(err, "reading linear action range")
	}
	angular, err := params.GetFloatPair(store, ParamAngularRange)
	if err != nil {
		return nil, errors.Wrap(err, "reading angular action range")
	}
	translation, err := params.GetFloatPair(store, ParamTranslationRange)
	if err != nil {
		if errors.Cause(err) != params.ErrNotFound {
			return nil, errors.Wrap(err, "reading translation action range")
		}
		translation = [2]float64{0, 0}
	}

	r := &Recorder{
		venv:       venv,
		verbose:    p.Verbose,
		afterXEps:  p.AfterXEps,
		normalized: p.ActionNormalized,
		out:        p.Output,
		logger:     p.Logger,
		actionMin:  mat.NewVecDense(3, []float64{linear[0], translation[0], angular[0]}),
		actionMax:  mat.NewVecDense(3, []float64{linear[1], translation[1], angular[1]}),
	}
	r.ResetStats()
	return r, nil
}

// ResetStats clears the accumulators. Total step and episode counts are kept.
func (r *Recorder) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetStats()
}

func (r *Recorder) resetStats() {
	r.stepTimes = nil
	r.cumRewards = make([]float64, r.venv.NumEnvs())
	r.episodeReturns = nil
	r.episodeLengths = nil
	r.doneReasons = make(map[string]int, len(core.DoneReasons))
	for _, reason := range core.DoneReasons {
		r.doneReasons[reason] = 0
	}
	r.actions = mat.NewVecDense(3, nil)
}

func (r *Recorder) NumEnvs() int {
	return r.venv.NumEnvs()
}

func (r *Recorder) Reset(ctx context.Context) (core.Batch, error) {
	return r.venv.Reset(ctx)
}

func (r *Recorder) StepAsync(actions []core.Action) error {
	return r.venv.StepAsync(actions)
}

// StepWait finishes the pending step and folds its outcome into the statistics
func (r *Recorder) StepWait(ctx context.Context) (core.StepResult, error) {
	start := time.Now()
	res, err := r.venv.StepWait(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return res, err
	}

	n := r.venv.NumEnvs()
	if len(res.Rewards) != n || len(res.Dones) != n {
		return res, errors.Errorf("step returned %d rewards and %d dones for %d envs", len(res.Rewards), len(res.Dones), n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stepTimes = append(r.stepTimes, elapsed.Seconds())
	r.actions.AddVec(r.actions, meanLastAction(res.Obs))

	for i, reward := range res.Rewards {
		r.cumRewards[i] += reward
	}

	for i, done := range res.Dones {
		if !done {
			continue
		}
		r.episodeReturns = append(r.episodeReturns, r.cumRewards[i])
		r.cumRewards[i] = 0

		var info core.StepInfo
		if i < len(res.Infos) {
			info = res.Infos[i]
		} else {
			r.logger.Warnw("missing step info for finished episode", "env", i)
		}
		r.episodeLengths = append(r.episodeLengths, float64(info.EpisodeLength))
		if _, known := r.doneReasons[info.DoneReason]; !known {
			r.logger.Debugw("unknown done reason", "reason", info.DoneReason, "env", i)
		}
		r.doneReasons[info.DoneReason]++

		r.numEpisodes++
	}

	r.numSteps++

	if r.verbose && r.numEpisodes%r.afterXEps == 0 && r.numEpisodes > 0 {
		r.printStats()
		r.resetStats()
	}

	return res, nil
}

// meanLastAction averages the newest action of every instance, or returns
// zeros when the observation carries no action window.
func meanLastAction(obs core.Batch) *mat.VecDense {
	mean := mat.NewVecDense(3, nil)
	windows := obs[core.LastActionKey]
	if len(windows) == 0 {
		return mean
	}

	last := mat.NewDense(len(windows), 3, nil)
	for i, w := range windows {
		rows, cols := w.Dims()
		if rows == 0 || cols != 3 {
			continue
		}
		last.SetRow(i, w.RawRowView(rows-1))
	}
	col := make([]float64, len(windows))
	for j := 0; j < 3; j++ {
		mean.SetVec(j, stat.Mean(mat.Col(col, j, last), nil))
	}
	return mean
}

// PrintStats writes a report of the accumulated statistics. It does nothing
// until at least one episode has finished.
func (r *Recorder) PrintStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printStats()
}

func (r *Recorder) printStats() {
	if len(r.episodeReturns) == 0 || len(r.episodeLengths) == 0 {
		return
	}

	// the action sum restarts with every report while the step total does not
	avg := mat.NewVecDense(3, nil)
	avg.ScaleVec(1/float64(r.numSteps), r.actions)
	if r.normalized {
		avg = ReverseMaxAbsScaling(avg, r.actionMin, r.actionMax)
	}

	s := &Summary{
		Episodes:        r.numEpisodes,
		Steps:           r.numSteps,
		AverageAction:   [3]float64{avg.AtVec(0), avg.AtVec(1), avg.AtVec(2)},
		AverageStepTime: time.Duration(stat.Mean(r.stepTimes, nil) * float64(time.Second)),
		AverageReturn:   stat.Mean(r.episodeReturns, nil),
		MeanLength:      stat.Mean(r.episodeLengths, nil),
		DoneReasons:     make(map[string]int, len(r.doneReasons)),
	}
	for k, v := range r.doneReasons {
		s.DoneReasons[k] = v
	}
	r.last = s

	sep := strings.Repeat("-", 40)
	fmt.Fprintln(r.out, sep)
	fmt.Fprintf(r.out, "Episode %d / Step %d:\n", s.Episodes, s.Steps)
	fmt.Fprintf(r.out, "Average actions: [%.2f %.2f %.2f] (linear, transversal, angular)\n",
		s.AverageAction[0], s.AverageAction[1], s.AverageAction[2])
	fmt.Fprintf(r.out, "Average step time: %.4f seconds\n", s.AverageStepTime.Seconds())
	fmt.Fprintf(r.out, "Average episode return: %.3f pts\n", s.AverageReturn)
	fmt.Fprintf(r.out, "Mean episode length: %.1f steps\n", s.MeanLength)
	fmt.Fprintf(r.out, "Done reasons: %s\n", formatReasons(s.DoneReasons))
	fmt.Fprintln(r.out, sep)
}

// formatReasons lists known reasons in their canonical order, then any others
// alphabetically.
func formatReasons(reasons map[string]int) string {
	keys := make([]string, 0, len(reasons))
	seen := make(map[string]bool, len(core.DoneReasons))
	for _, k := range core.DoneReasons {
		keys = append(keys, k)
		seen[k] = true
	}
	var extra []string
	for k := range reasons {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, reasons[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Summary returns the most recent report, or nil if none was produced
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Counts returns the total steps and episodes seen since construction
func (r *Recorder) Counts() (steps, episodes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numSteps, r.numEpisodes
}
