package sqlstore

import (
	"slices"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jacentio/mpath/tree"
)

// likeEscaper escapes LIKE wildcards so separators such as "_" match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// where adds the conditions of f to tx.
func (s *Store) where(tx *gorm.DB, f tree.Filter) *gorm.DB {
	path := col(s.config.PathColumn)

	if f.Path != "" {
		tx = tx.Where(clause.Eq{Column: path, Value: f.Path})
	}
	if f.PathPrefix != "" {
		tx = tx.Where("? LIKE ? ESCAPE ?", path, likeEscaper.Replace(f.PathPrefix)+"%", `\`)
	}
	if f.PathContains != "" {
		tx = tx.Where("? LIKE ? ESCAPE ?", path, "%"+likeEscaper.Replace(f.PathContains)+"%", `\`)
	}
	if f.Level != nil {
		tx = tx.Where(clause.Eq{Column: col(s.config.LevelColumn), Value: *f.Level})
	}
	if f.MinPosition > 0 {
		tx = tx.Where(clause.Gte{Column: col(s.config.PositionColumn), Value: f.MinPosition})
	}
	if f.MaxPosition > 0 {
		tx = tx.Where(clause.Lte{Column: col(s.config.PositionColumn), Value: f.MaxPosition})
	}
	if len(f.IDs) > 0 {
		ids := make([]any, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		tx = tx.Where(clause.IN{Column: col(colID), Values: ids})
	}
	if f.ExcludeID != 0 {
		tx = tx.Where(clause.Neq{Column: col(colID), Value: f.ExcludeID})
	}
	if len(f.Attrs) > 0 {
		keys := make([]string, 0, len(f.Attrs))
		for k := range f.Attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			tx = s.whereAttr(tx, k, f.Attrs[k])
		}
	}
	return tx
}

// whereAttr matches one attribute inside the JSON attrs column. A missing
// attribute compares equal to the empty string, like tree.Node.Attr.
func (s *Store) whereAttr(tx *gorm.DB, key, value string) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return tx.Where("COALESCE(NULLIF(?, '')::jsonb ->> ?, '') = ?", col(colAttrs), key, value)
	}
	return tx.Where("COALESCE(json_extract(NULLIF(?, ''), ?), '') = ?", col(colAttrs), jsonPath(key), value)
}

// jsonPath returns the SQLite JSON path selecting key at the top level.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}
