package sqlstore

// Config holds configuration for the Store.
type Config struct {
	// Table is the table holding the nodes.
	// Default: "tree_nodes"
	Table string

	// PathColumn, LevelColumn and PositionColumn name the tree columns, so an
	// existing table with different column names can be mapped.
	// Defaults: "path", "level", "position"
	PathColumn     string
	LevelColumn    string
	PositionColumn string
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Table:          "tree_nodes",
		PathColumn:     "path",
		LevelColumn:    "level",
		PositionColumn: "position",
	}
}

// validate fills in defaults for empty names.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.Table == "" {
		c.Table = def.Table
	}
	if c.PathColumn == "" {
		c.PathColumn = def.PathColumn
	}
	if c.LevelColumn == "" {
		c.LevelColumn = def.LevelColumn
	}
	if c.PositionColumn == "" {
		c.PositionColumn = def.PositionColumn
	}
}
