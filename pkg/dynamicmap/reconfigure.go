package dynamicmap

import (
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/params"
)

// Reconfiguration is the runtime configuration payload of the module.
// Config holds a JSON object of algorithm specific settings.
type Reconfiguration struct {
	Episodes  int     `mapstructure:"DYNAMICMAP_episodes"`
	Timeout   float64 `mapstructure:"DYNAMICMAP_timeout"`
	Algorithm string  `mapstructure:"DYNAMICMAP_algorithm"`
	Config    string  `mapstructure:"DYNAMICMAP_config"`
}

// DecodeReconfiguration converts a raw payload. Every DYNAMICMAP_ key is
// required and the episode count and timeout must be positive. Unknown keys
// belong to other modules sharing the configuration server and are ignored.
func DecodeReconfiguration(payload map[string]any) (Reconfiguration, error) {
	var rc Reconfiguration
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &rc,
	})
	if err != nil {
		return rc, err
	}
	if err := decoder.Decode(payload); err != nil {
		return rc, errors.Wrap(err, "decoding reconfiguration")
	}

	if len(md.Unset) > 0 {
		sort.Strings(md.Unset)
		return rc, errors.Errorf("reconfiguration is missing %s", strings.Join(md.Unset, ", "))
	}
	if rc.Episodes <= 0 {
		return rc, errors.Errorf("DYNAMICMAP_episodes must be positive, got %d", rc.Episodes)
	}
	if rc.Timeout <= 0 {
		return rc, errors.Errorf("DYNAMICMAP_timeout must be positive, got %v", rc.Timeout)
	}
	return rc, nil
}

// AlgorithmConfig parses the algorithm settings; an empty string means none
func (rc Reconfiguration) AlgorithmConfig() (map[string]any, error) {
	if strings.TrimSpace(rc.Config) == "" {
		return map[string]any{}, nil
	}

	var raw any
	if err := json.Unmarshal([]byte(rc.Config), &raw); err != nil {
		return nil, errors.Wrap(err, "parsing algorithm config")
	}
	cfg, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.Errorf("algorithm config must be a JSON object, got %T", raw)
	}
	return cfg, nil
}

// Reconfigure applies a runtime configuration payload to the parameter store
func (m *Module) Reconfigure(payload map[string]any) error {
	rc, err := DecodeReconfiguration(payload)
	if err != nil {
		return err
	}
	cfg, err := rc.AlgorithmConfig()
	if err != nil {
		return err
	}

	m.setParam(ParamEpisodesPerMap, rc.Episodes)
	m.setParam(ParamGenerationTimeout, rc.Timeout)
	m.setParam(ParamAlgorithm, rc.Algorithm)

	for k, v := range cfg {
		key := ParamAlgorithmConfig(k)
		if sub, ok := v.(map[string]any); ok {
			if err := params.SetTree(m.store, key, sub); err != nil {
				m.logger.Warnw("could not write parameter", "key", key, "error", err)
			}
			continue
		}
		m.setParam(key, v)
	}

	m.logger.Infow("reconfigured map generator",
		"episodes", rc.Episodes, "timeout", rc.Timeout, "algorithm", rc.Algorithm, "settings", len(cfg))
	return nil
}

// SetGeneratorConfig writes the settings of the currently selected generator
// under /generator_configs/<generator>/. Settings of other generators are ignored.
func (m *Module) SetGeneratorConfig(configs map[string]map[string]any) error {
	generator, err := params.GetString(m.store, ParamGenerator)
	if err != nil {
		return errors.Wrap(err, "reading selected generator")
	}

	settings := configs[generator]
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	logged := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		logged = append(logged, k, settings[k])
		m.setParam(path.Join(ParamGeneratorConfigs, generator, k), settings[k])
	}

	m.logger.Infow("Setting [Map Generator: "+generator+"] parameters", logged...)
	return nil
}

func (m *Module) setParam(key string, value any) {
	if err := m.store.Set(key, value); err != nil {
		m.logger.Warnw("could not write parameter", "key", key, "error", err)
	}
}
