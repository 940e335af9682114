package astimuxer

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

// Configuration represents a muxer configuration
type Configuration struct {
	Backend  string                `toml:"backend"`
	Pipeline ConfigurationPipeline `toml:"pipeline"`
	Server   ConfigurationServer   `toml:"server"`
	Stats    ConfigurationStats    `toml:"stats"`
	Write    ConfigurationWrite    `toml:"write"`
}

// ConfigurationPipeline represents the pipeline backend configuration
type ConfigurationPipeline struct {
	// Number of samples per track after which a fragment is flushed
	FragmentSamples int `toml:"fragment_samples"`
	// Number of queued samples per track after which writes block
	MaxQueuedBuffers int `toml:"max_queued_buffers"`
}

// ConfigurationServer represents a server configuration
type ConfigurationServer struct {
	Addr string `toml:"addr"`
}

// ConfigurationStats represents a stats configuration
type ConfigurationStats struct {
	Period Duration `toml:"period"`
}

// ConfigurationWrite represents a sample writing configuration
type ConfigurationWrite struct {
	NonBlocking bool `toml:"non_blocking"`
	// 0 means no timeout
	Timeout Duration `toml:"timeout"`
}

// Duration is a time.Duration that can be decoded from "1s"-like strings
type Duration struct {
	time.Duration
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (d *Duration) UnmarshalText(b []byte) (err error) {
	if d.Duration, err = time.ParseDuration(string(b)); err != nil {
		err = fmt.Errorf("astimuxer: parsing duration %s failed: %w", b, err)
		return
	}
	return
}

// MarshalText implements the encoding.TextMarshaler interface
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// DefaultConfiguration returns the default configuration
func DefaultConfiguration() Configuration {
	return Configuration{
		Backend: BackendNamePipeline,
		Pipeline: ConfigurationPipeline{
			FragmentSamples:  astipipeline.DefaultFragmentSamples,
			MaxQueuedBuffers: astipipeline.DefaultMaxBuffers,
		},
		Stats: ConfigurationStats{Period: Duration{Duration: 5 * time.Second}},
	}
}

// NewConfiguration returns the default configuration overridden by the TOML file at path, if any
func NewConfiguration(path string) (c Configuration, err error) {
	// Default
	c = DefaultConfiguration()

	// No path
	if path == "" {
		return
	}

	// Decode
	if _, err = toml.DecodeFile(path, &c); err != nil {
		err = fmt.Errorf("astimuxer: toml decoding %s failed: %w", path, err)
		return
	}
	return
}
