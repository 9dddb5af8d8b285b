// Package sqlstore provides a tree.Store on SQLite or PostgreSQL through gorm.
//
// Nodes live in one table with an auto-increment "id", the three tree columns
// (names configurable through [Config]), a JSON "attrs" column and timestamps.
// [Store.Migrate] creates the table and an index on (path, position), which
// serves both sibling lookups and subtree prefix scans.
//
// Range updates run as single UPDATE statements. A move is several statements;
// run it inside [Store.Transaction] to make it atomic:
//
//	db, err := sqlstore.Open("sqlite://data/trees.sqlite", 1, logger)
//	s := sqlstore.New(db, sqlstore.DefaultConfig())
//	eng := tree.New(s, tree.DefaultConfig(), logger)
//	err = s.Transaction(ctx, func(tx *sqlstore.Store) error {
//		_, err := eng.WithStore(tx).Move(ctx, n, target, false)
//		return err
//	})
package sqlstore
