// Package config loads the ownership-transfer configuration: whether the
// feature is enabled, which variant this domain runs, and the interrupt
// lines and memory ranges involved in a handoff.
package config

import (
	"fmt"
	"os"

	"github.com/trustui/displayvm/internal/pipeline"
	"github.com/trustui/displayvm/internal/resmgr"
	"gopkg.in/yaml.v3"
)

const (
	VariantPrimary = "primary"
	VariantTrusted = "trusted"

	DefaultDisplayName = "display0"
)

// Config describes one domain's view of the ownership-transfer feature.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Variant string `yaml:"variant"`
	Display string `yaml:"display,omitempty"`

	IRQs   []IRQConfig   `yaml:"irqs"`
	Memory []RangeConfig `yaml:"memory"`
}

// IRQConfig names one interrupt line by its resource-manager label and its
// locally mapped line number.
type IRQConfig struct {
	Label uint32 `yaml:"label"`
	Line  uint32 `yaml:"line"`
}

// RangeConfig describes one reserved memory range.
type RangeConfig struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

func (c *Config) normalize() {
	if c.Variant == "" {
		c.Variant = VariantPrimary
	}
	if c.Display == "" {
		c.Display = DefaultDisplayName
	}
}

// Validate checks the configuration for contradictions. A disabled config
// is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Variant != VariantPrimary && c.Variant != VariantTrusted {
		return fmt.Errorf("config: unknown variant %q", c.Variant)
	}
	if err := c.IRQDescriptor().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.SGLDescriptor().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IRQDescriptor returns the configured interrupt set.
func (c *Config) IRQDescriptor() resmgr.IRQDescriptor {
	entries := make([]resmgr.IRQEntry, 0, len(c.IRQs))
	for _, irq := range c.IRQs {
		entries = append(entries, resmgr.IRQEntry{Label: irq.Label, Line: irq.Line})
	}
	return resmgr.IRQDescriptor{Entries: entries}
}

// SGLDescriptor returns the configured memory scatter-list.
func (c *Config) SGLDescriptor() resmgr.SGLDescriptor {
	ranges := make([]resmgr.MemoryRange, 0, len(c.Memory))
	for _, r := range c.Memory {
		ranges = append(ranges, resmgr.MemoryRange{Base: r.Base, Size: r.Size})
	}
	return resmgr.SGLDescriptor{Ranges: ranges}
}

// Pipeline builds the static display-pipeline description the configured
// geometry implies.
func (c *Config) Pipeline() *pipeline.Static {
	return &pipeline.Static{
		DisplayName: c.Display,
		IRQs:        c.IRQDescriptor(),
		Memory:      c.SGLDescriptor(),
	}
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
