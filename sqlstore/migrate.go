package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// Migrate creates the node table and its sibling index when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	idType, timeType := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if s.db.Dialector.Name() == "sqlite" {
		idType, timeType = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	}

	db := s.db.WithContext(ctx)
	table := clause.Table{Name: s.config.Table}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS ? ("+
		"? %s, "+
		"? TEXT NOT NULL, "+
		"? INTEGER NOT NULL DEFAULT 0, "+
		"? INTEGER NOT NULL DEFAULT 0, "+
		"? TEXT NOT NULL DEFAULT '', "+
		"? %s, "+
		"? %s)", idType, timeType, timeType)
	err := db.Exec(ddl, table,
		col(colID),
		col(s.config.PathColumn),
		col(s.config.LevelColumn),
		col(s.config.PositionColumn),
		col(colAttrs),
		col(colCreatedAt),
		col(colUpdatedAt),
	).Error
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.config.Table, err)
	}

	index := "idx_" + s.config.Table + "_" + s.config.PathColumn + "_" + s.config.PositionColumn
	err = db.Exec("CREATE INDEX IF NOT EXISTS ? ON ? (?, ?)",
		col(index), table, col(s.config.PathColumn), col(s.config.PositionColumn),
	).Error
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	return nil
}
