package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/navrl/pkg/dynamicmap"
	"github.com/boristopalov/navrl/pkg/params"
	"github.com/boristopalov/navrl/pkg/stats"
)

// Environment overrides applied by ApplyEnv
const (
	EnvNamespace       = "NAVRL_NAMESPACE"
	EnvNumEnvs         = "NAVRL_NUM_ENVS"
	EnvPolicyURL       = "NAVRL_POLICY_URL"
	EnvActionFrequency = "NAVRL_ACTION_FREQUENCY"
)

type Config struct {
	Namespace        string                    `yaml:"namespace"`
	NumEnvs          int                       `yaml:"num_envs"`
	MapFile          string                    `yaml:"map_file"`
	Actions          ActionsConfig             `yaml:"actions"`
	MapGenerator     MapGeneratorConfig        `yaml:"map_generator"`
	GeneratorConfigs map[string]map[string]any `yaml:"generator_configs"`
	Policy           PolicyConfig              `yaml:"policy"`
	Stats            StatsConfig               `yaml:"stats"`
	Clock            ClockConfig               `yaml:"clock"`
	Logging          LogConfig                 `yaml:"logging"`
}

type ActionsConfig struct {
	Continuous struct {
		LinearRange      [2]float64 `yaml:"linear_range"`
		AngularRange     [2]float64 `yaml:"angular_range"`
		TranslationRange [2]float64 `yaml:"translation_range"`
	} `yaml:"continuous"`
}

type MapGeneratorConfig struct {
	EpisodePerMap     int            `yaml:"episode_per_map"`
	GenerationTimeout float64        `yaml:"generation_timeout"` // seconds
	Algorithm         string         `yaml:"algorithm"`
	AlgorithmConfig   map[string]any `yaml:"algorithm_config"`
	Generator         string         `yaml:"generator"`
}

type PolicyConfig struct {
	URL             string        `yaml:"url"`
	ActionFrequency float64       `yaml:"action_frequency"` // Hz
	Backoff         time.Duration `yaml:"backoff"`
	NumBeams        int           `yaml:"num_beams"`
	Goal            [3]float64    `yaml:"goal"` // rho, theta, heading
}

type StatsConfig struct {
	Verbose          bool  `yaml:"verbose"`
	AfterXEps        int   `yaml:"after_x_eps"`
	ActionNormalized *bool `yaml:"action_normalized"`
}

type ClockConfig struct {
	Step     time.Duration `yaml:"step"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug enables debug logging
}

// LoadConfig reads a YAML config file and fills in defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.NumEnvs == 0 {
		cfg.NumEnvs = 1
	}
	if cfg.Actions.Continuous.LinearRange == [2]float64{} {
		cfg.Actions.Continuous.LinearRange = [2]float64{-2.0, 2.0}
	}
	if cfg.Actions.Continuous.AngularRange == [2]float64{} {
		cfg.Actions.Continuous.AngularRange = [2]float64{-4.0, 4.0}
	}
	if cfg.MapGenerator.EpisodePerMap == 0 {
		cfg.MapGenerator.EpisodePerMap = dynamicmap.DefaultEpisodesPerMap
	}
	if cfg.MapGenerator.GenerationTimeout == 0 {
		cfg.MapGenerator.GenerationTimeout = dynamicmap.DefaultGenerationTimeout.Seconds()
	}
	if cfg.Policy.URL == "" {
		cfg.Policy.URL = "http://localhost:8000"
	}
	if cfg.Policy.ActionFrequency == 0 {
		cfg.Policy.ActionFrequency = 10
	}
	if cfg.Policy.Backoff == 0 {
		cfg.Policy.Backoff = 500 * time.Millisecond
	}
	if cfg.Policy.NumBeams == 0 {
		cfg.Policy.NumBeams = 360
	}
	if cfg.Stats.AfterXEps == 0 {
		cfg.Stats.AfterXEps = stats.DefaultAfterXEps
	}
	if cfg.Stats.ActionNormalized == nil {
		normalized := true
		cfg.Stats.ActionNormalized = &normalized
	}
	if cfg.Clock.Step == 0 {
		cfg.Clock.Step = 10 * time.Millisecond
	}
	if cfg.Clock.Interval == 0 {
		cfg.Clock.Interval = 10 * time.Millisecond
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// ApplyEnv overrides settings from NAVRL_* environment variables
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvNamespace); ok {
		c.Namespace = v
	}
	if v, ok := os.LookupEnv(EnvNumEnvs); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvNumEnvs)
		}
		c.NumEnvs = n
	}
	if v, ok := os.LookupEnv(EnvPolicyURL); ok {
		c.Policy.URL = v
	}
	if v, ok := os.LookupEnv(EnvActionFrequency); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvActionFrequency)
		}
		c.Policy.ActionFrequency = f
	}
	return nil
}

type seedEntry struct {
	key   string
	value any
}

// Seed writes the settings the coordinators read into the parameter store
func (c *Config) Seed(s params.Store) error {
	entries := []seedEntry{
		{dynamicmap.ParamNumEnvs, c.NumEnvs},
		{stats.ParamLinearRange, c.Actions.Continuous.LinearRange},
		{stats.ParamAngularRange, c.Actions.Continuous.AngularRange},
		{stats.ParamTranslationRange, c.Actions.Continuous.TranslationRange},
		{dynamicmap.ParamEpisodesPerMap, c.MapGenerator.EpisodePerMap},
		{dynamicmap.ParamGenerationTimeout, c.MapGenerator.GenerationTimeout},
	}
	if c.MapGenerator.Algorithm != "" {
		entries = append(entries, seedEntry{dynamicmap.ParamAlgorithm, c.MapGenerator.Algorithm})
	}
	if c.MapGenerator.Generator != "" {
		entries = append(entries, seedEntry{dynamicmap.ParamGenerator, c.MapGenerator.Generator})
	}

	for _, e := range entries {
		if err := s.Set(e.key, e.value); err != nil {
			return errors.Wrapf(err, "seeding %s", e.key)
		}
	}

	if len(c.MapGenerator.AlgorithmConfig) > 0 {
		if err := params.SetTree(s, dynamicmap.MapGeneratorNS("algorithm_config"), c.MapGenerator.AlgorithmConfig); err != nil {
			return errors.Wrap(err, "seeding algorithm config")
		}
	}
	return nil
}
