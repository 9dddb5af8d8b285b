package tree_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/mpath/memstore"
	"github.com/jacentio/mpath/tree"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, cfg tree.Config) (*tree.Engine, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	return tree.New(s, cfg, quietLogger()), s
}

// insert adds a named node under parent (nil for a root).
func insert(t *testing.T, e *tree.Engine, parent *tree.Node, name string) *tree.Node {
	t.Helper()
	n := &tree.Node{}
	n.SetAttr("name", name)
	out, err := e.Insert(context.Background(), n, parent)
	require.NoError(t, err)
	return out
}

// fetch returns the stored version of n.
func fetch(t *testing.T, e *tree.Engine, n *tree.Node) *tree.Node {
	t.Helper()
	got, err := e.Get(context.Background(), n.ID)
	require.NoError(t, err)
	return got
}

// names returns the names of the children of parent (roots when nil) in position order.
func names(t *testing.T, e *tree.Engine, parent *tree.Node) []string {
	t.Helper()
	ctx := context.Background()
	var nodes []*tree.Node
	var err error
	if parent == nil {
		nodes, err = e.Roots(ctx, tree.Filter{})
	} else {
		nodes, err = e.Children(ctx, parent)
	}
	require.NoError(t, err)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Attr("name"))
	}
	return out
}

func requireConsistent(t *testing.T, e *tree.Engine) {
	t.Helper()
	report, err := e.Check(context.Background(), tree.Filter{})
	require.NoError(t, err)
	require.True(t, report.OK(), "violations: %v", report.Violations)
}

var errBoom = errors.New("boom")

// failingStore fails selected operations of the wrapped store.
type failingStore struct {
	tree.Store
	failSave  bool
	failShift bool
}

func (f *failingStore) Save(ctx context.Context, n *tree.Node) error {
	if f.failSave {
		return errBoom
	}
	return f.Store.Save(ctx, n)
}

func (f *failingStore) ShiftPositions(ctx context.Context, filter tree.Filter, delta int) (int, error) {
	if f.failShift {
		return 0, errBoom
	}
	return f.Store.ShiftPositions(ctx, filter, delta)
}
