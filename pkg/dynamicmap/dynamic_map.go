// Package dynamicmap swaps in freshly generated maps between training
// episodes. Every task manager runs one Module; the one whose reset pushes the
// shared episode counter over the quota asks the map generator for a new map,
// and all of them reload the world when the task reset broadcast arrives.
package dynamicmap

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/messaging"
	"github.com/boristopalov/navrl/pkg/params"
	"github.com/boristopalov/navrl/pkg/world"
)

const (
	ParamEpisodes         = "/dynamic_map/curr_eps"
	ParamNumEnvs          = "num_envs"
	ParamGeneratorConfigs = "/generator_configs"

	DefaultEpisodesPerMap    = 1
	DefaultGenerationTimeout = 60 * time.Second

	evalMarker = "eval_sim"
)

// MapGeneratorNS builds keys under the map generator's namespace
var MapGeneratorNS = params.Namespace("map_generator")

var (
	ParamEpisodesPerMap    = MapGeneratorNS("episode_per_map")
	ParamGenerationTimeout = MapGeneratorNS("generation_timeout")
	ParamAlgorithm         = MapGeneratorNS("algorithm")
	ParamGenerator         = MapGeneratorNS("generator")
)

// ParamAlgorithmConfig returns the key of one algorithm specific setting
func ParamAlgorithmConfig(key string) string {
	return MapGeneratorNS("algorithm_config", key)
}

// WorldManager owns the world state rebuilt on every refresh
type WorldManager interface {
	UpdateWorld(w *world.WorldMap)
	World() *world.WorldMap
}

// ObstacleManager respawns obstacles derived from the world
type ObstacleManager interface {
	Reset(purge world.ObstacleLayer)
	SpawnWorldObstacles(w *world.WorldMap)
}

type Module struct {
	id           string
	namespace    string
	numEnvs      int
	store        params.Store
	broker       messaging.Broker
	distanceMaps core.DistanceMapService
	world        WorldManager
	obstacles    ObstacleManager
	logger       golog.Logger
}

type ModuleParams struct {
	ID           string
	Namespace    string
	Store        params.Store
	Broker       messaging.Broker
	DistanceMaps core.DistanceMapService
	World        WorldManager
	Obstacles    ObstacleManager
	Logger       golog.Logger
}

type ModuleOption func(*ModuleParams)

func WithID(id string) ModuleOption {
	return func(p *ModuleParams) {
		p.ID = id
	}
}

// WithNamespace sets the robot namespace of the owning task
func WithNamespace(ns string) ModuleOption {
	return func(p *ModuleParams) {
		p.Namespace = ns
	}
}

func WithStore(s params.Store) ModuleOption {
	return func(p *ModuleParams) {
		p.Store = s
	}
}

func WithBroker(b messaging.Broker) ModuleOption {
	return func(p *ModuleParams) {
		p.Broker = b
	}
}

func WithDistanceMapService(s core.DistanceMapService) ModuleOption {
	return func(p *ModuleParams) {
		p.DistanceMaps = s
	}
}

func WithWorldManager(w WorldManager) ModuleOption {
	return func(p *ModuleParams) {
		p.World = w
	}
}

func WithObstacleManager(o ObstacleManager) ModuleOption {
	return func(p *ModuleParams) {
		p.Obstacles = o
	}
}

func WithLogger(l golog.Logger) ModuleOption {
	return func(p *ModuleParams) {
		p.Logger = l
	}
}

func defaultModuleParams() *ModuleParams {
	return &ModuleParams{
		ID:        "dynamic-map-" + uuid.New().String(),
		Store:     params.NewMemoryStore(),
		World:     world.NewManager(),
		Obstacles: world.NewObstacleManager(),
		Logger:    golog.Global(),
	}
}

// New creates the module and subscribes it to task reset broadcasts
func New(opts ...ModuleOption) (*Module, error) {
	p := defaultModuleParams()
	for _, opt := range opts {
		opt(p)
	}

	if p.Broker == nil {
		return nil, errors.New("dynamic map module needs a broker")
	}
	if p.DistanceMaps == nil {
		return nil, errors.New("dynamic map module needs a distance map service")
	}

	m := &Module{
		id:           p.ID,
		namespace:    p.Namespace,
		store:        p.Store,
		broker:       p.Broker,
		distanceMaps: p.DistanceMaps,
		world:        p.World,
		obstacles:    p.Obstacles,
		logger:       p.Logger,
	}

	if strings.Contains(m.namespace, evalMarker) {
		m.numEnvs = 1
	} else {
		m.numEnvs = m.intParam(ParamNumEnvs, 1)
	}

	if err := m.broker.Subscribe(m.id, messaging.TaskReset, messaging.HandlerFunc(m.onTaskReset)); err != nil {
		return nil, errors.Wrap(err, "subscribing to task reset")
	}
	return m, nil
}

func (m *Module) ID() string {
	return m.id
}

// NumEnvs is the number of environments sharing the episode counter
func (m *Module) NumEnvs() int {
	return m.numEnvs
}

// Close stops listening for task resets
func (m *Module) Close() error {
	return m.broker.Unsubscribe(m.id, messaging.TaskReset)
}

// TargetEpisodes is the episode count that triggers a new map
func (m *Module) TargetEpisodes() int {
	return m.intParam(ParamEpisodesPerMap, DefaultEpisodesPerMap) * m.numEnvs
}

// GenerationTimeout bounds each wait for a readiness signal
func (m *Module) GenerationTimeout() time.Duration {
	secs := m.floatParam(ParamGenerationTimeout, DefaultGenerationTimeout.Seconds())
	return time.Duration(secs * float64(time.Second))
}

// BeforeReset counts one finished episode and refreshes the map once the
// quota is reached.
func (m *Module) BeforeReset(ctx context.Context) error {
	target := m.TargetEpisodes()

	episodes, err := m.Episodes()
	if err != nil {
		m.logger.Warnw("could not read episode counter", "error", err)
		episodes = 0
	}
	episodes++
	m.setEpisodes(episodes)

	if episodes < float64(target) {
		return nil
	}

	if err := m.RequestNewMap(ctx); err != nil {
		m.logger.Warnw("task reset broadcast failed", "error", err)
	}
	return m.UpdateMap(ctx)
}

// RequestNewMap asks the generator for a new map, waits for it and broadcasts
// a task reset. The reset goes out even when the generator does not answer in
// time; the current map stays in use then.
func (m *Module) RequestNewMap(ctx context.Context) error {
	// zero the counter before anything else so the other modules sharing it
	// do not request a map of their own
	m.setEpisodes(0)
	timeout := m.GenerationTimeout()

	distanceReady := m.broker.Expect(messaging.DistanceMapReady)
	gridReady := m.broker.Expect(messaging.OccupancyGridReady)
	defer m.broker.Forget(distanceReady)
	defer m.broker.Forget(gridReady)

	if m.broker.Subscribers(messaging.RequestNewMap) == 0 {
		m.logger.Debugw("no map generator subscribed to map requests", "module", m.id)
	}
	if err := m.broker.Publish(ctx, messaging.Event{Kind: messaging.RequestNewMap, From: m.id}); err != nil {
		m.logger.Warnw("map request delivery failed", "error", err)
	}

	if err := awaitAll(ctx, timeout, distanceReady, gridReady); err != nil {
		m.logger.Warnw("[Map Generator] Timeout while waiting for new map. Continue with current map.",
			"timeout", timeout, "error", err)
	} else {
		m.logger.Infow("+++ Got new map +++", "module", m.id)
	}

	return m.broker.Publish(ctx, messaging.Event{Kind: messaging.TaskReset, From: m.id})
}

// awaitAll waits for the futures in order, each bounded by timeout. A
// non-positive timeout only accepts futures that are already resolved.
func awaitAll(ctx context.Context, timeout time.Duration, futures ...*messaging.Future) error {
	for _, f := range futures {
		if timeout <= 0 {
			select {
			case <-f.Done():
				continue
			default:
				return errors.Wrapf(messaging.ErrTimeout, "no signal within %s", timeout)
			}
		}
		if _, err := f.Wait(ctx, timeout); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) onTaskReset(ctx context.Context, _ messaging.Event) error {
	return m.UpdateMap(ctx)
}

// UpdateMap reloads the world from the current distance map. A malformed map
// is skipped and the previous world stays in place.
func (m *Module) UpdateMap(ctx context.Context) error {
	dm, err := m.distanceMaps.GetDistanceMap(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching distance map")
	}
	if !dm.Valid() {
		m.logger.Debugw("ignoring malformed distance map", "module", m.id)
		return nil
	}

	m.world.UpdateWorld(world.FromDistanceMap(dm))
	m.obstacles.Reset(world.LayerWorld)
	m.obstacles.SpawnWorldObstacles(m.world.World())
	return nil
}

// Episodes reads the shared episode counter. A counter that was never written
// reads as +Inf, which makes the first reset request a map.
func (m *Module) Episodes() (float64, error) {
	v, err := params.GetFloat(m.store, ParamEpisodes)
	if errors.Cause(err) == params.ErrNotFound {
		return math.Inf(1), nil
	}
	return v, err
}

func (m *Module) setEpisodes(v float64) {
	if err := m.store.Set(ParamEpisodes, v); err != nil {
		m.logger.Warnw("could not write episode counter", "value", v, "error", err)
	}
}

func (m *Module) intParam(key string, fallback int) int {
	v, err := params.GetInt(m.store, key)
	if err != nil {
		if errors.Cause(err) != params.ErrNotFound {
			m.logger.Warnw("bad parameter, using default", "key", key, "default", fallback, "error", err)
		}
		return fallback
	}
	return v
}

func (m *Module) floatParam(key string, fallback float64) float64 {
	v, err := params.GetFloat(m.store, key)
	if err != nil {
		if errors.Cause(err) != params.ErrNotFound {
			m.logger.Warnw("bad parameter, using default", "key", key, "default", fallback, "error", err)
		}
		return fallback
	}
	return v
}
