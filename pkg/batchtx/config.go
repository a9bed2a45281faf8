package batchtx

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-batchtx/pkg/validation"
)

// DefaultCommitThreshold is the number of mutations after which a commit is simulated
const DefaultCommitThreshold = 1000

// Config holds accumulator settings
type Config struct {
	// CommitThreshold is the mutation count that, once exceeded, triggers a simulated commit
	CommitThreshold int `yaml:"commit_threshold" validate:"gt=0"`
	// StrictPairing makes unpaired completing notifications fail with ErrUnpairedNotification
	StrictPairing bool `yaml:"strict_pairing"`
	// LogLevel is used by tools building a logger for the accumulator
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		CommitThreshold: DefaultCommitThreshold,
		LogLevel:        "info",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	return validation.NewConfigValidator("batchtx.Config").
		Struct(c).
		Validate()
}

// ParseConfig decodes YAML on top of the defaults and validates the result
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}
