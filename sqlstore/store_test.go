package sqlstore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/mpath/sqlstore"
	"github.com/jacentio/mpath/tree"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, cfg sqlstore.Config) *sqlstore.Store {
	t.Helper()
	db, err := sqlstore.Open("sqlite://"+filepath.Join(t.TempDir(), "trees.sqlite"), 1, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlstore.Close(db) })

	s := sqlstore.New(db, cfg)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seed stores a node with explicit tree fields.
func seed(t *testing.T, s *sqlstore.Store, path string, level, position int, attrs map[string]string) *tree.Node {
	t.Helper()
	n := &tree.Node{Path: path, Level: level, Position: position, Attrs: attrs}
	require.NoError(t, s.Save(context.Background(), n))
	return n
}

func ids(nodes []*tree.Node) []int64 {
	out := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := sqlstore.DefaultConfig()
	assert.Equal(t, "tree_nodes", cfg.Table)
	assert.Equal(t, "path", cfg.PathColumn)
	assert.Equal(t, "level", cfg.LevelColumn)
	assert.Equal(t, "position", cfg.PositionColumn)

	s := sqlstore.New(nil, sqlstore.Config{Table: "categories"})
	assert.Equal(t, sqlstore.Config{
		Table:          "categories",
		PathColumn:     "path",
		LevelColumn:    "level",
		PositionColumn: "position",
	}, s.Config())
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	for _, url := range []string{"mysql://root@localhost/trees", "trees.sqlite", ""} {
		_, err := sqlstore.Open(url, 1, nil)
		assert.Error(t, err, url)
	}
}

func TestOpen_SqlitePrefixes(t *testing.T) {
	dir := t.TempDir()
	for _, url := range []string{
		"sqlite://" + filepath.Join(dir, "a", "uri.sqlite"),
		"sqlite=" + filepath.Join(dir, "b", "dsn.sqlite"),
	} {
		db, err := sqlstore.Open(url, 4, quietLogger())
		require.NoError(t, err, url)
		require.NoError(t, sqlstore.Close(db))
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.DefaultConfig())

	n := seed(t, s, ".", 0, 1, map[string]string{"name": "docs"})
	require.NotZero(t, n.ID)
	assert.WithinDuration(t, time.Now(), n.CreatedAt, time.Minute)

	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, ".", got.Path)
	assert.Equal(t, 0, got.Level)
	assert.Equal(t, 1, got.Position)
	assert.Equal(t, "docs", got.Attr("name"))
	assert.True(t, got.CreatedAt.Equal(n.CreatedAt), "expected %v, got %v", n.CreatedAt, got.CreatedAt)

	got.Path = ".9."
	got.Level = 1
	got.Position = 3
	got.Attrs = nil
	require.NoError(t, s.Save(ctx, got))

	again, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, ".9.", again.Path)
	assert.Equal(t, 1, again.Level)
	assert.Equal(t, 3, again.Position)
	assert.Nil(t, again.Attrs)
	assert.True(t, again.CreatedAt.Equal(n.CreatedAt))
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.DefaultConfig())

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, tree.ErrNotFound)

	err = s.Save(ctx, &tree.Node{ID: 42, Path: "."})
	assert.ErrorIs(t, err, tree.ErrNotFound)

	err = s.Delete(ctx, &tree.Node{ID: 42})
	assert.ErrorIs(t, err, tree.ErrNotFound)

	n := seed(t, s, ".", 0, 1, nil)
	require.NoError(t, s.Delete(ctx, n))
	_, err = s.Get(ctx, n.ID)
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestStore_QueryFilters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.DefaultConfig())

	r1 := seed(t, s, ".", 0, 1, map[string]string{"tenant": "acme"})
	r2 := seed(t, s, ".", 0, 2, map[string]string{"tenant": "globex"})
	c1 := seed(t, s, ".1.", 1, 1, map[string]string{"tenant": "acme"})
	c2 := seed(t, s, ".1.", 1, 2, nil)
	c3 := seed(t, s, ".1.", 1, 3, nil)
	g1 := seed(t, s, ".1.3.", 2, 1, nil)
	o1 := seed(t, s, ".2.", 1, 1, nil)

	tests := []struct {
		name     string
		filter   tree.Filter
		expected []int64
	}{
		{"all", tree.Filter{}, []int64{r1.ID, r2.ID, c1.ID, o1.ID, c2.ID, c3.ID, g1.ID}},
		{"exact path", tree.Filter{Path: ".1."}, []int64{c1.ID, c2.ID, c3.ID}},
		{"prefix", tree.Filter{PathPrefix: ".1."}, []int64{c1.ID, c2.ID, c3.ID, g1.ID}},
		{"contains", tree.Filter{PathContains: ".3."}, []int64{g1.ID}},
		{"level", tree.Filter{Level: tree.AtLevel(1)}, []int64{c1.ID, o1.ID, c2.ID, c3.ID}},
		{"root level", tree.Filter{Level: tree.AtLevel(0)}, []int64{r1.ID, r2.ID}},
		{"position range", tree.Filter{Path: ".1.", MinPosition: 2, MaxPosition: 3}, []int64{c2.ID, c3.ID}},
		{"ids", tree.Filter{IDs: []int64{g1.ID, r2.ID}}, []int64{r2.ID, g1.ID}},
		{"exclude", tree.Filter{Path: ".", ExcludeID: r1.ID}, []int64{r2.ID}},
		{"attrs", tree.Filter{Attrs: map[string]string{"tenant": "acme"}}, []int64{r1.ID, c1.ID}},
		{"missing attr matches empty", tree.Filter{Path: ".1.", Attrs: map[string]string{"tenant": ""}}, []int64{c2.ID, c3.ID}},
		{"no match", tree.Filter{Path: ".7."}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := s.Query(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(nodes))

			count, err := s.Count(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.expected), count)
		})
	}
}

func TestStore_PrefixEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.DefaultConfig())

	under := seed(t, s, "_1_", 1, 1, nil)
	seed(t, s, "a1_", 1, 1, nil)
	seed(t, s, "%1_", 1, 1, nil)

	nodes, err := s.Query(ctx, tree.Filter{PathPrefix: "_1_"})
	require.NoError(t, err)
	assert.Equal(t, []int64{under.ID}, ids(nodes))
}

func TestStore_ShiftPositions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.DefaultConfig())

	a := seed(t, s, ".", 0, 1, nil)
	b := seed(t, s, ".", 0, 2, nil)
	c := seed(t, s, ".", 0, 3, nil)
	other := seed(t, s, ".1.", 1, 2, nil)

	updated, err := s.ShiftPositions(ctx, tree.Filter{Path: ".", MinPosition: 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	for _, tc := range []struct {
		n        *tree.Node
		expected int
	}{{a, 1}, {b, 3}, {c, 4}, {other, 2}} {
		got, err := s.Get(ctx, tc.n.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, got.Position, "node %d", tc.n.ID)
	}

	updated, err = s.ShiftPositions(ctx, tree.Filter{Path: "."}, 0)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestStore_Transaction(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.DefaultConfig())
	errBoom := errors.New("boom")

	err := s.Transaction(ctx, func(tx *sqlstore.Store) error {
		seed(t, tx, ".", 0, 1, nil)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	count, err := s.Count(ctx, tree.Filter{})
	require.NoError(t, err)
	assert.Zero(t, count, "rolled back insert must not be visible")

	err = s.Transaction(ctx, func(tx *sqlstore.Store) error {
		seed(t, tx, ".", 0, 1, nil)
		return nil
	})
	require.NoError(t, err)
	count, err = s.Count(ctx, tree.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
