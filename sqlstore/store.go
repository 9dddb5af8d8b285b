package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jacentio/mpath/tree"
)

// Fixed column names; the tree columns are configurable.
const (
	colID        = "id"
	colAttrs     = "attrs"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

// ErrNoID is returned when the database does not report the ID of an inserted row.
var ErrNoID = errors.New("mpath: insert returned no id")

// row is the scanned form of a node. Tree columns are aliased to the field
// names whatever they are called in the table.
type row struct {
	ID        int64
	Path      string
	Level     int
	Position  int
	Attrs     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a tree.Store backed by a SQL table through gorm.
type Store struct {
	db     *gorm.DB
	config Config
	now    func() time.Time
}

var _ tree.Store = (*Store)(nil)

// New creates a new Store using the given database handle.
func New(db *gorm.DB, config Config) *Store {
	config.validate()
	return &Store{
		db:     db,
		config: config,
		now:    time.Now,
	}
}

// Config returns the validated store configuration.
func (s *Store) Config() Config {
	return s.config
}

// DB returns the underlying database handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a database transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Combine it
// with tree.Engine.WithStore to make a move atomic.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		c := *s
		c.db = gtx
		return fn(&c)
	})
}

func col(name string) clause.Column {
	return clause.Column{Name: name}
}

func (s *Store) table(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.config.Table)
}

func (s *Store) selectRows(ctx context.Context) *gorm.DB {
	return s.table(ctx).Select("?, ? AS ?, ? AS ?, ? AS ?, ?, ?, ?",
		col(colID),
		col(s.config.PathColumn), col("path"),
		col(s.config.LevelColumn), col("level"),
		col(s.config.PositionColumn), col("position"),
		col(colAttrs), col(colCreatedAt), col(colUpdatedAt),
	)
}

func (s *Store) order() clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: col(s.config.LevelColumn)},
		{Column: col(s.config.PositionColumn)},
		{Column: col(colID)},
	}}
}

// Get returns the node with the given ID.
func (s *Store) Get(ctx context.Context, id int64) (*tree.Node, error) {
	var rows []row
	err := s.selectRows(ctx).Where(clause.Eq{Column: col(colID), Value: id}).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("node %d: %w", id, tree.ErrNotFound)
	}
	return rows[0].node()
}

// Query returns every node matching f, ordered by level, position and ID.
func (s *Store) Query(ctx context.Context, f tree.Filter) ([]*tree.Node, error) {
	var rows []row
	if err := s.where(s.selectRows(ctx), f).Order(s.order()).Find(&rows).Error; err != nil {
		return nil, err
	}
	nodes := make([]*tree.Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.node()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Count returns the number of nodes matching f.
func (s *Store) Count(ctx context.Context, f tree.Filter) (int, error) {
	var count int64
	if err := s.where(s.table(ctx), f).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ShiftPositions adds delta to the position of every node matching f in one
// UPDATE statement.
func (s *Store) ShiftPositions(ctx context.Context, f tree.Filter, delta int) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	pos := s.config.PositionColumn
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Table(s.config.Table)
	res := s.where(tx, f).UpdateColumn(pos, gorm.Expr("? + ?", col(pos), delta))
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// Save inserts n when it has no ID yet and updates the stored row otherwise.
func (s *Store) Save(ctx context.Context, n *tree.Node) error {
	attrs, err := encodeAttrs(n.Attrs)
	if err != nil {
		return fmt.Errorf("node %d: %w", n.ID, err)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	if n.ID == 0 {
		return s.insert(ctx, n, attrs, now)
	}
	return s.update(ctx, n, attrs, now)
}

func (s *Store) insert(ctx context.Context, n *tree.Node, attrs string, now time.Time) error {
	var id int64
	err := s.db.WithContext(ctx).Raw("INSERT INTO ? (?, ?, ?, ?, ?, ?) VALUES (?, ?, ?, ?, ?, ?) RETURNING ?",
		clause.Table{Name: s.config.Table},
		col(s.config.PathColumn), col(s.config.LevelColumn), col(s.config.PositionColumn),
		col(colAttrs), col(colCreatedAt), col(colUpdatedAt),
		n.Path, n.Level, n.Position, attrs, now, now,
		col(colID),
	).Scan(&id).Error
	if err != nil {
		return err
	}
	if id == 0 {
		return ErrNoID
	}
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now
	return nil
}

func (s *Store) update(ctx context.Context, n *tree.Node, attrs string, now time.Time) error {
	res := s.table(ctx).Where(clause.Eq{Column: col(colID), Value: n.ID}).UpdateColumns(map[string]any{
		s.config.PathColumn:     n.Path,
		s.config.LevelColumn:    n.Level,
		s.config.PositionColumn: n.Position,
		colAttrs:                attrs,
		colUpdatedAt:            now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("node %d: %w", n.ID, tree.ErrNotFound)
	}

	stored, err := s.Get(ctx, n.ID)
	if err != nil {
		return err
	}
	n.CreatedAt = stored.CreatedAt
	n.UpdatedAt = now
	return nil
}

// Delete removes the row of n.
func (s *Store) Delete(ctx context.Context, n *tree.Node) error {
	res := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE ? = ?",
		clause.Table{Name: s.config.Table}, col(colID), n.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("node %d: %w", n.ID, tree.ErrNotFound)
	}
	return nil
}

func (r row) node() (*tree.Node, error) {
	attrs, err := decodeAttrs(r.Attrs)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", r.ID, err)
	}
	return &tree.Node{
		ID:        r.ID,
		Path:      r.Path,
		Level:     r.Level,
		Position:  r.Position,
		Attrs:     attrs,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// Attributes are stored as a JSON object; an empty string means none.
func encodeAttrs(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attrs: %w", err)
	}
	return string(b), nil
}

func decodeAttrs(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return nil, fmt.Errorf("decode attrs: %w", err)
	}
	return attrs, nil
}
