package config

import (
	"os"

	"github.com/engramhq/engram/errors"
	"github.com/goccy/go-yaml"
	"github.com/mitchellh/mapstructure"
)

// Config aggregates every concern for file-driven setups (the maintenance
// CLI). Library callers usually construct the per-concern configs directly.
type Config struct {
	Log       *LogConfig       `json:"log,omitempty"`
	Model     *ModelConfig     `json:"model,omitempty"`
	Chunking  *ChunkingConfig  `json:"chunking,omitempty"`
	Store     *StoreConfig     `json:"store,omitempty"`
	Index     *IndexConfig     `json:"index,omitempty"`
	Assemble  *AssembleConfig  `json:"assemble,omitempty"`
	FireCrawl *FireCrawlConfig `json:"firecrawl,omitempty"`
}

func NewConfig() *Config {
	return &Config{
		Log:       NewLogConfig(),
		Model:     NewModelConfig(),
		Chunking:  NewChunkingConfig(),
		Store:     NewStoreConfig(),
		Index:     NewIndexConfig(),
		Assemble:  NewAssembleConfig(),
		FireCrawl: NewFireCrawlConfig(),
	}
}

// LoadFile overlays a YAML file onto the defaults. Durations accept Go
// notation ("30s", "720h").
func LoadFile(path string) (*Config, error) {
	config := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     config,
		TagName:    "json",
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config file %s", path)
	}

	return config, nil
}
