package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/memory"
	"github.com/boristopalov/navrl/pkg/messaging"
)

// DefaultActionFrequency is how often a deployed policy is queried, in Hz
const DefaultActionFrequency = 10.0

type State int32

const (
	Idle      State = iota // waiting for the next eligible clock tick
	Inferring              // policy call in flight
)

func (s State) String() string {
	if s == Inferring {
		return "inferring"
	}
	return "idle"
}

// ServiceWaiter is implemented by policies that can block until reachable
type ServiceWaiter interface {
	WaitForService(ctx context.Context) error
}

// DeploymentAgent drives a trained policy from the simulated clock: every
// action period it sends the latest observation to the policy service and
// publishes the answer as a velocity command.
type DeploymentAgent struct {
	id           string
	namespace    string
	period       time.Duration
	policy       core.PolicyService
	observations core.ObservationSource
	history      *memory.History[core.Action]
	clockChan    chan messaging.Event
	broker       messaging.Broker
	logger       golog.Logger
	state        atomic.Int32
	ready        chan struct{}
	readyOnce    sync.Once

	mu       sync.Mutex
	lastTime time.Duration
}

type AgentParams struct {
	AgentID         string
	Namespace       string
	ActionFrequency float64
	HistorySize     int
	Policy          core.PolicyService
	Observations    core.ObservationSource
	MessageBroker   messaging.Broker
	Logger          golog.Logger
}

type AgentOption func(*AgentParams)

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

// WithNamespace prefixes the command topic, e.g. "/sim_1/" -> "/sim_1/cmd_vel"
func WithNamespace(ns string) AgentOption {
	return func(p *AgentParams) {
		p.Namespace = ns
	}
}

func WithActionFrequency(hz float64) AgentOption {
	return func(p *AgentParams) {
		p.ActionFrequency = hz
	}
}

// WithHistorySize sets how many issued actions are remembered
func WithHistorySize(n int) AgentOption {
	return func(p *AgentParams) {
		p.HistorySize = n
	}
}

func WithPolicy(policy core.PolicyService) AgentOption {
	return func(p *AgentParams) {
		p.Policy = policy
	}
}

func WithObservationSource(src core.ObservationSource) AgentOption {
	return func(p *AgentParams) {
		p.Observations = src
	}
}

func WithMessageBroker(b messaging.Broker) AgentOption {
	return func(p *AgentParams) {
		p.MessageBroker = b
	}
}

func WithLogger(l golog.Logger) AgentOption {
	return func(p *AgentParams) {
		p.Logger = l
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		AgentID:         "agent-" + uuid.New().String(),
		ActionFrequency: DefaultActionFrequency,
		HistorySize:     100,
		Logger:          golog.Global(),
	}
}

// NewDeploymentAgent creates a deployment agent
func NewDeploymentAgent(opts ...AgentOption) (*DeploymentAgent, error) {
	params := defaultAgentParams()

	for _, opt := range opts {
		opt(params)
	}

	if params.MessageBroker == nil {
		return nil, errors.New("agent needs a message broker")
	}
	if params.Policy == nil {
		return nil, errors.New("agent needs a policy service")
	}
	if params.Observations == nil {
		return nil, errors.New("agent needs an observation source")
	}
	if params.ActionFrequency <= 0 {
		return nil, errors.Errorf("action frequency must be positive, got %v", params.ActionFrequency)
	}

	return &DeploymentAgent{
		id:           params.AgentID,
		namespace:    params.Namespace,
		period:       time.Duration(float64(time.Second) / params.ActionFrequency),
		policy:       params.Policy,
		observations: params.Observations,
		history:      memory.NewHistory[core.Action](params.HistorySize),
		clockChan:    make(chan messaging.Event, 100), // Buffer 100 ticks
		broker:       params.MessageBroker,
		logger:       params.Logger,
		ready:        make(chan struct{}),
	}, nil
}

func (a *DeploymentAgent) GetID() string {
	return a.id
}

// Period is the minimum simulated time between two actions
func (a *DeploymentAgent) Period() time.Duration {
	return a.period
}

func (a *DeploymentAgent) State() State {
	return State(a.state.Load())
}

// LastAction is the most recently issued action, zero before the first one
func (a *DeploymentAgent) LastAction() core.Action {
	if last, ok := a.history.Last(); ok {
		return last
	}
	return core.ZeroAction
}

// Ready is closed once Run listens to the clock
func (a *DeploymentAgent) Ready() <-chan struct{} {
	return a.ready
}

// History returns the issued actions, oldest first
func (a *DeploymentAgent) History() []core.Action {
	return a.history.GetAll()
}

// Topic is where velocity commands are addressed
func (a *DeploymentAgent) Topic() string {
	return a.namespace + messaging.VelocityCommand.String()
}

// WaitForPolicy blocks until the policy service answers or ctx ends.
// Policies that cannot report readiness are assumed ready.
func (a *DeploymentAgent) WaitForPolicy(ctx context.Context) error {
	w, ok := a.policy.(ServiceWaiter)
	if !ok {
		return nil
	}
	if err := w.WaitForService(ctx); err != nil {
		return errors.Wrap(err, "waiting for policy service")
	}
	return nil
}

// Run waits for the policy service, then handles clock ticks one at a time
// until ctx ends or an inference call fails.
func (a *DeploymentAgent) Run(ctx context.Context) error {
	if err := a.WaitForPolicy(ctx); err != nil {
		return err
	}

	if err := a.broker.Subscribe(a.id, messaging.Clock, messaging.ChanHandler(a.clockChan)); err != nil {
		return err
	}
	defer func() {
		if err := a.broker.Unsubscribe(a.id, messaging.Clock); err != nil {
			a.logger.Debugw("unsubscribing from clock", "error", err)
		}
	}()
	a.readyOnce.Do(func() { close(a.ready) })

	for {
		select {
		case ev := <-a.clockChan:
			t, ok := ev.Content.(core.ClockTime)
			if !ok {
				a.logger.Warnw("ignoring clock event", "content", ev.Content)
				continue
			}
			if err := a.OnClock(ctx, t); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnClock runs one inference cycle if a full action period of simulated time
// has passed since the last action.
func (a *DeploymentAgent) OnClock(ctx context.Context, t core.ClockTime) error {
	now := t.Duration()

	a.mu.Lock()
	elapsed := now - a.lastTime
	if elapsed < 0 {
		// simulation restarted
		a.lastTime = now
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if elapsed < a.period {
		return nil
	}
	return a.step(ctx, now)
}

func (a *DeploymentAgent) step(ctx context.Context, now time.Duration) error {
	a.state.Store(int32(Inferring))
	defer a.state.Store(int32(Idle))

	obs, err := a.observations.GetObservations(ctx)
	if err != nil {
		a.logger.Warnw("skipping action, no observation", "agent", a.id, "error", err)
		return nil
	}
	obs.LastAction = a.LastAction()

	action, err := a.policy.GetAction(ctx, obs)
	if err != nil {
		return errors.Wrap(err, "policy inference failed")
	}

	a.history.Store(action)
	a.mu.Lock()
	a.lastTime = now
	a.mu.Unlock()

	cmd := core.VelocityCommand{Topic: a.Topic(), Twist: action.Twist()}
	if err := a.broker.Publish(ctx, messaging.Event{Kind: messaging.VelocityCommand, From: a.id, Content: cmd}); err != nil {
		a.logger.Warnw("velocity command delivery failed", "topic", cmd.Topic, "error", err)
	}
	return nil
}
