package tree

import "github.com/jacentio/mpath/internal/pathcodec"

// Config holds configuration for the Engine.
type Config struct {
	// MaxLevel is the deepest level a node may be attached at.
	// Moving under a node already at MaxLevel attaches to that node's parent instead.
	// Default: 32
	MaxLevel int

	// Separator delimits identifiers in paths.
	// Default: "."
	Separator string

	// Filter is merged into subtree and root queries (e.g. a tenant attribute).
	Filter Filter
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxLevel:  32,
		Separator: pathcodec.DefaultSeparator,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxLevel < 1 {
		c.MaxLevel = 32
	}
	if c.Separator == "" {
		c.Separator = pathcodec.DefaultSeparator
	}
}
