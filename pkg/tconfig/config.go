// Package tconfig carries the analyzer's tunable parameters: the tail
// cutoff percentile, the search-width fan-out caps the report engine
// prunes with, and the service/operation name abbreviation map applied at
// ingest time and inverted at report time. Values load through viper so
// file, environment, and flag sources layer in the usual precedence order.
package tconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Layer names used as SearchWidth keys, matching the report engine's four
// depth-first layers.
const (
	LayerStatus      = "l1"
	LayerRequestType = "l2"
	LayerStructure   = "l3"
	LayerSubspan     = "l4"
)

// DefaultSearchWidth is the fan-out cap applied per layer when a config
// doesn't override it.
var DefaultSearchWidth = map[string]int{
	LayerStatus:      10,
	LayerRequestType: 2,
	LayerStructure:   2,
	LayerSubspan:     2,
}

// DefaultTailCutoff is the percentage of the (ascending-duration-sorted)
// trace population treated as the "norm" baseline; the remainder is the
// "tail" population profiled against it.
const DefaultTailCutoff = 1

// DefaultTailMultiple is how many times larger a self-time mean must be in
// the tail population than the norm population before layer 2 treats an
// operation as tail-dominant rather than merely present.
const DefaultTailMultiple = 4

// Config is the analyzer's runtime configuration.
type Config struct {
	Version     int               `yaml:"version"`
	TailCutoff  int               `yaml:"tail_cutoff"`
	TailMultiple float64          `yaml:"tail_multiple"`
	SearchWidth map[string]int    `yaml:"search_width"`
	Abbrev      map[string]string `yaml:"abbrev"`
}

// rawConfig mirrors Config's YAML shape before defaults are filled in, so
// an operator can omit any subset of fields.
type rawConfig struct {
	Version      *int              `yaml:"version"`
	TailCutoff   *int              `yaml:"tail_cutoff"`
	TailMultiple *float64          `yaml:"tail_multiple"`
	SearchWidth  map[string]int    `yaml:"search_width"`
	Abbrev       map[string]string `yaml:"abbrev"`
}

// CurrentVersion is the supported config schema version.
const CurrentVersion = 1

// Default returns a Config populated entirely with defaults.
func Default() Config {
	sw := make(map[string]int, len(DefaultSearchWidth))
	for k, v := range DefaultSearchWidth {
		sw[k] = v
	}
	return Config{
		Version:      CurrentVersion,
		TailCutoff:   DefaultTailCutoff,
		TailMultiple: DefaultTailMultiple,
		SearchWidth:  sw,
		Abbrev:       map[string]string{},
	}
}

// Load reads a YAML config from path via viper (which layers in TPROF_*
// environment overrides automatically), falling back to defaults for any
// field left unset.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TPROF")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return normalize(raw), nil
}

// Parse decodes a YAML document directly, for tests and embedded defaults
// that don't come from a file on disk.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return normalize(raw), nil
}

func normalize(raw rawConfig) Config {
	cfg := Default()
	if raw.Version != nil {
		cfg.Version = *raw.Version
	}
	if raw.TailCutoff != nil {
		cfg.TailCutoff = *raw.TailCutoff
	}
	if raw.TailMultiple != nil {
		cfg.TailMultiple = *raw.TailMultiple
	}
	for k, v := range raw.SearchWidth {
		cfg.SearchWidth[k] = v
	}
	for k, v := range raw.Abbrev {
		cfg.Abbrev[k] = v
	}
	return cfg
}

// Validate reports a descriptive error for an out-of-range configuration.
func (c Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d, expected %d", c.Version, CurrentVersion)
	}
	if c.TailCutoff < 0 || c.TailCutoff > 100 {
		return fmt.Errorf("tail_cutoff must be between 0 and 100, got %d", c.TailCutoff)
	}
	if c.TailMultiple <= 0 {
		return fmt.Errorf("tail_multiple must be positive, got %v", c.TailMultiple)
	}
	for _, layer := range []string{LayerStatus, LayerRequestType, LayerStructure, LayerSubspan} {
		if w, ok := c.SearchWidth[layer]; ok && w <= 0 {
			return fmt.Errorf("search_width[%s] must be positive, got %d", layer, w)
		}
	}
	return nil
}

// InvertAbbrev builds the reverse lookup (short -> original) the report
// engine uses to render human-readable span names.
func (c Config) InvertAbbrev() map[string]string {
	inv := make(map[string]string, len(c.Abbrev))
	for long, short := range c.Abbrev {
		inv[short] = long
	}
	return inv
}
