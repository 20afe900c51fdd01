package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/edaniels/golog"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/navrl/internal/client"
	"github.com/boristopalov/navrl/pkg/agent"
	"github.com/boristopalov/navrl/pkg/config"
	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/dynamicmap"
	"github.com/boristopalov/navrl/pkg/mapserver"
	"github.com/boristopalov/navrl/pkg/messaging"
	"github.com/boristopalov/navrl/pkg/observation"
	"github.com/boristopalov/navrl/pkg/params"
	"github.com/boristopalov/navrl/pkg/sim"
	"github.com/boristopalov/navrl/pkg/stats"
	"github.com/boristopalov/navrl/pkg/world"
)

var (
	configPath string
	paramsPath string
	debug      bool
	mapFile    string
	episodes   int
	maxTicks   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "navrl",
		Short: "navrl runs the coordinators of a navigation RL stack: map refresh, policy deployment and reconfiguration.",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&paramsPath, "params", "", "YAML parameter file loaded before the config is applied")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Drive a trained policy from the simulated clock",
		RunE:  runDeploy,
	}
	deployCmd.Flags().IntVar(&maxTicks, "max-ticks", 0, "stop after this many clock ticks (0 runs until interrupted)")

	dynamicMapCmd := &cobra.Command{
		Use:   "dynamic-map",
		Short: "Run episode resets against a map server and refresh the world when the quota is reached",
		RunE:  runDynamicMap,
	}
	dynamicMapCmd.Flags().StringVar(&mapFile, "map-file", "", "distance map YAML served on every map request")
	dynamicMapCmd.Flags().IntVar(&episodes, "episodes", 10, "number of episode resets to run")

	reconfigureCmd := &cobra.Command{
		Use:   "reconfigure <payload.json>",
		Short: "Apply a reconfiguration payload and print the resulting map generator parameters",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconfigure,
	}

	statsCmd := &cobra.Command{
		Use:   "stats <rollout.yaml>",
		Short: "Replay a recorded rollout and print episode statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(deployCmd, dynamicMapCmd, reconfigureCmd, statsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) golog.Logger {
	if debugLogging(cfg) {
		return golog.NewDebugLogger("navrl")
	}
	return golog.NewDevelopmentLogger("navrl")
}

// debugLogging reports whether --debug or logging.level asks for debug output
func debugLogging(cfg *config.Config) bool {
	return debug || strings.EqualFold(cfg.Logging.Level, "debug")
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seededStore(cfg *config.Config) (*params.MemoryStore, error) {
	store := params.NewMemoryStore()
	if paramsPath != "" {
		var err error
		if store, err = params.LoadYAML(paramsPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.Seed(store); err != nil {
		return nil, err
	}
	return store, nil
}

// signalContext is cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	broker := messaging.NewBroker()
	defer broker.Reset()
	ctx, cancel := signalContext()
	defer cancel()

	collector, err := observation.NewCollector("observations", cfg.Policy.NumBeams, broker)
	if err != nil {
		return errors.Wrap(err, "failed to create observation collector")
	}
	defer collector.Close()

	// no laser driver in-process: publish a clear scan and the configured goal
	if err := broker.Publish(ctx, messaging.Event{Kind: messaging.LaserScan, Content: make([]float32, cfg.Policy.NumBeams)}); err != nil {
		return err
	}
	if err := broker.Publish(ctx, messaging.Event{Kind: messaging.Goal, Content: cfg.Policy.Goal}); err != nil {
		return err
	}

	err = broker.Subscribe("cmd-logger", messaging.VelocityCommand, messaging.HandlerFunc(func(_ context.Context, ev messaging.Event) error {
		if vc, ok := ev.Content.(core.VelocityCommand); ok {
			logger.Infow("velocity command", "topic", vc.Topic, "linear_x", vc.Twist.LinearX, "linear_y", vc.Twist.LinearY, "angular_z", vc.Twist.AngularZ)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	policy := client.NewPolicyClient(cfg.Policy.URL, client.WithBackoff(cfg.Policy.Backoff), client.WithLogger(logger))

	a, err := agent.NewDeploymentAgent(
		agent.WithNamespace(cfg.Namespace),
		agent.WithMessageBroker(broker),
		agent.WithPolicy(policy),
		agent.WithObservationSource(collector),
		agent.WithActionFrequency(cfg.Policy.ActionFrequency),
		agent.WithLogger(logger),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create agent")
	}
	logger.Infow("created agent", "id", a.GetID(), "policy", cfg.Policy.URL, "period", a.Period())

	clock, err := sim.NewClock(
		sim.WithBroker(broker),
		sim.WithStep(cfg.Clock.Step),
		sim.WithInterval(cfg.Clock.Interval),
		sim.WithMaxTicks(maxTicks),
		sim.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	agentErr := make(chan error, 1)
	go func() { agentErr <- a.Run(ctx) }()

	// start the clock once the agent listens to it
	select {
	case <-a.Ready():
		go func() {
			if err := clock.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warnw("clock stopped", "error", err)
			}
			if maxTicks > 0 {
				cancel()
			}
		}()
	case err := <-agentErr:
		return cleanExit(err)
	}

	err = <-agentErr
	status := clock.Status()
	logger.Infow("deployment finished", "ticks", status.Ticks, "sim_time", status.SimTime, "actions", len(a.History()))
	return cleanExit(err)
}

// cleanExit treats an interrupt as a normal end of the run
func cleanExit(err error) error {
	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

func runDynamicMap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if mapFile == "" {
		mapFile = cfg.MapFile
	}
	if mapFile == "" {
		return errors.New("no map file: pass --map-file or set map_file in the config")
	}

	store, err := seededStore(cfg)
	if err != nil {
		return err
	}

	broker := messaging.NewBroker()
	defer broker.Reset()
	ctx, cancel := signalContext()
	defer cancel()

	server, err := mapserver.New(mapFile, broker, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	worlds := world.NewManager()
	obstacles := world.NewObstacleManager()
	m, err := dynamicmap.New(
		dynamicmap.WithNamespace(cfg.Namespace),
		dynamicmap.WithStore(store),
		dynamicmap.WithBroker(broker),
		dynamicmap.WithDistanceMapService(server),
		dynamicmap.WithWorldManager(worlds),
		dynamicmap.WithObstacleManager(obstacles),
		dynamicmap.WithLogger(logger),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create dynamic map module")
	}
	defer m.Close()

	for i := 0; i < episodes; i++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := m.BeforeReset(ctx); err != nil {
			return errors.Wrapf(err, "episode %d", i+1)
		}
		state := worlds.GetState()
		logger.Infow("episode reset",
			"episode", i+1,
			"algorithm", params.StringOr(store, dynamicmap.ParamAlgorithm, "default"),
			"generation", state.Generation,
			"obstacles", len(obstacles.Obstacles(world.LayerWorld)),
			"map_loads", server.Loads(),
		)
	}
	return nil
}

// noMaps serves no distance maps; reconfiguration never touches the world
type noMaps struct{}

func (noMaps) GetDistanceMap(context.Context) (*core.DistanceMap, error) {
	return nil, mapserver.ErrNoMap
}

func runReconfigure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	store, err := seededStore(cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "reading payload")
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return errors.Wrapf(err, "parsing %s", args[0])
	}

	broker := messaging.NewBroker()
	defer broker.Reset()
	m, err := dynamicmap.New(
		dynamicmap.WithNamespace(cfg.Namespace),
		dynamicmap.WithStore(store),
		dynamicmap.WithBroker(broker),
		dynamicmap.WithDistanceMapService(noMaps{}),
		dynamicmap.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Reconfigure(payload); err != nil {
		return err
	}
	if len(cfg.GeneratorConfigs) > 0 && cfg.MapGenerator.Generator != "" {
		if err := m.SetGeneratorConfig(cfg.GeneratorConfigs); err != nil {
			return err
		}
	}

	out := map[string]any{}
	for _, prefix := range []string{dynamicmap.MapGeneratorNS(), dynamicmap.ParamGeneratorConfigs} {
		for _, key := range store.Keys(prefix) {
			v, err := store.Get(key)
			if err != nil {
				return err
			}
			out[strings.TrimPrefix(key, "/")] = v
		}
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "printing parameters")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "episodes per map: %d x %d envs, generation timeout: %.1fs\n",
		params.IntOr(store, dynamicmap.ParamEpisodesPerMap, dynamicmap.DefaultEpisodesPerMap),
		m.NumEnvs(),
		params.FloatOr(store, dynamicmap.ParamGenerationTimeout, dynamicmap.DefaultGenerationTimeout.Seconds()))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	store, err := seededStore(cfg)
	if err != nil {
		return err
	}

	replay, err := sim.LoadReplay(args[0])
	if err != nil {
		return err
	}

	recorder, err := stats.NewRecorder(replay, store,
		stats.WithVerbose(cfg.Stats.Verbose),
		stats.WithAfterXEps(cfg.Stats.AfterXEps),
		stats.WithActionNormalized(*cfg.Stats.ActionNormalized),
		stats.WithOutput(cmd.OutOrStdout()),
		stats.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := recorder.Reset(ctx); err != nil {
		return err
	}
	actions := make([]core.Action, recorder.NumEnvs())
	for ctx.Err() == nil {
		if err := recorder.StepAsync(actions); err != nil {
			return err
		}
		if _, err := recorder.StepWait(ctx); err != nil {
			if errors.Cause(err) == sim.ErrReplayDone {
				break
			}
			return err
		}
	}

	// report whatever accumulated since the last periodic report
	recorder.PrintStats()
	steps, eps := recorder.Counts()
	logger.Infow("replay finished", "steps", steps, "episodes", eps)
	return nil
}
