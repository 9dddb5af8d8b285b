package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jacentio/mpath/tree"
)

var cmdInit = &cli.Command{
	Name:   "init",
	Usage:  "create the node table in the configured store",
	Action: runInit,
}

var cmdAdd = &cli.Command{
	Name:      "add",
	Usage:     "add a node as the last child of a parent (or as the last root)",
	ArgsUsage: `<name>`,
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:    "parent",
			Aliases: []string{"p"},
			Usage:   "ID of the parent node (omit for a root)",
		},
		&cli.StringSliceFlag{
			Name:    "attr",
			Aliases: []string{"a"},
			Usage:   "extra attribute (key=value)",
		},
	},
	Action: runAdd,
}

var cmdMove = &cli.Command{
	Name:      "move",
	Aliases:   []string{"mv"},
	Usage:     "move a node and its subtree under a new parent (or to the roots)",
	ArgsUsage: `<id> [<target-id>]`,
	Action:    runMove,
}

var cmdPosition = &cli.Command{
	Name:      "position",
	Aliases:   []string{"pos"},
	Usage:     "reorder a node among its siblings",
	ArgsUsage: `<id> <position|up|down>`,
	Action:    runPosition,
}

var cmdRemove = &cli.Command{
	Name:      "rm",
	Usage:     "delete a node and close the gap among its siblings",
	ArgsUsage: `<id>`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "recursive",
			Aliases: []string{"r"},
			Usage:   "also delete every descendant",
		},
		&cli.BoolFlag{
			Name:  "protect",
			Usage: "refuse to delete a node that has children",
		},
	},
	Action: runRemove,
}

var cmdTree = &cli.Command{
	Name:      "tree",
	Usage:     "print the forest, or the subtree of a node",
	ArgsUsage: `[<id>]`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "paths",
			Usage: "show stored paths",
		},
	},
	Action: runTree,
}

var cmdCheck = &cli.Command{
	Name:   "check",
	Usage:  "verify level, parent and position invariants of every node",
	Action: runCheck,
}

func runInit(cctx *cli.Context) error {
	return withBackend(cctx, func(b *backend) error {
		if err := b.provision(cctx.Context); err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, "initialized")
		return nil
	})
}

func runAdd(cctx *cli.Context) error {
	name := cctx.Args().First()
	if name == "" || cctx.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one <name> argument")
	}

	n := &tree.Node{}
	for _, kv := range cctx.StringSlice("attr") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid attribute %q (expected key=value)", kv)
		}
		n.SetAttr(k, v)
	}
	n.SetAttr("name", name)

	return withBackend(cctx, func(b *backend) error {
		ctx := cctx.Context
		// scoped trees only see nodes carrying the scope attributes
		for k, v := range b.engine.Config().Filter.Attrs {
			n.SetAttr(k, v)
		}

		var parent *tree.Node
		if id := cctx.Int64("parent"); id != 0 {
			p, err := b.engine.Get(ctx, id)
			if err != nil {
				return err
			}
			parent = p
		}

		return b.atomic(ctx, func(e *tree.Engine) error {
			out, err := e.Insert(ctx, n, parent)
			if err != nil {
				return err
			}
			fmt.Fprintf(cctx.App.Writer, "%d\t%s\n", out.ID, out.Path)
			return nil
		})
	})
}

func runMove(cctx *cli.Context) error {
	if cctx.Args().Len() < 1 || cctx.Args().Len() > 2 {
		return fmt.Errorf("expected <id> [<target-id>]")
	}
	id, err := parseID(cctx.Args().Get(0))
	if err != nil {
		return err
	}

	return withBackend(cctx, func(b *backend) error {
		ctx := cctx.Context
		n, err := b.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		var target *tree.Node
		if cctx.Args().Len() == 2 {
			targetID, err := parseID(cctx.Args().Get(1))
			if err != nil {
				return err
			}
			if target, err = b.engine.Get(ctx, targetID); err != nil {
				return err
			}
		}

		return b.atomic(ctx, func(e *tree.Engine) error {
			out, err := e.Move(ctx, n, target, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(cctx.App.Writer, "%d\t%s\t%d\n", out.ID, out.Path, out.Position)
			return nil
		})
	})
}

func runPosition(cctx *cli.Context) error {
	if cctx.Args().Len() != 2 {
		return fmt.Errorf("expected <id> <position|up|down>")
	}
	id, err := parseID(cctx.Args().Get(0))
	if err != nil {
		return err
	}

	var reorder func(ctx context.Context, e *tree.Engine, n *tree.Node) error
	switch arg := cctx.Args().Get(1); arg {
	case "up":
		reorder = func(ctx context.Context, e *tree.Engine, n *tree.Node) error { return e.MoveUp(ctx, n) }
	case "down":
		reorder = func(ctx context.Context, e *tree.Engine, n *tree.Node) error { return e.MoveDown(ctx, n) }
	default:
		pos, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid position %q", arg)
		}
		reorder = func(ctx context.Context, e *tree.Engine, n *tree.Node) error { return e.SetPosition(ctx, n, pos) }
	}

	return withBackend(cctx, func(b *backend) error {
		ctx := cctx.Context
		n, err := b.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		return b.atomic(ctx, func(e *tree.Engine) error {
			if err := reorder(ctx, e, n); err != nil {
				return err
			}
			fmt.Fprintf(cctx.App.Writer, "%d\t%d\n", n.ID, n.Position)
			return nil
		})
	})
}

func runRemove(cctx *cli.Context) error {
	if cctx.Args().Len() != 1 {
		return fmt.Errorf("expected <id>")
	}
	id, err := parseID(cctx.Args().First())
	if err != nil {
		return err
	}
	opts := tree.DeleteOptions{
		Cascade:       cctx.Bool("recursive"),
		OrphanProtect: cctx.Bool("protect"),
	}

	return withBackend(cctx, func(b *backend) error {
		ctx := cctx.Context
		n, err := b.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		return b.atomic(ctx, func(e *tree.Engine) error {
			return e.Delete(ctx, n, opts)
		})
	})
}

func runTree(cctx *cli.Context) error {
	var rootID int64
	if cctx.Args().Len() > 0 {
		id, err := parseID(cctx.Args().First())
		if err != nil {
			return err
		}
		rootID = id
	}

	return withBackend(cctx, func(b *backend) error {
		ctx := cctx.Context
		var root *tree.Node
		if rootID != 0 {
			n, err := b.engine.Get(ctx, rootID)
			if err != nil {
				return err
			}
			root = n
		}

		t, err := b.engine.LoadTree(ctx, root, tree.LoadOptions{})
		if err != nil {
			return err
		}
		out, err := renderTree(t, cctx.Bool("paths"))
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, out)
		for _, w := range t.Warnings() {
			fmt.Fprintf(cctx.App.ErrWriter, "warning: %v\n", w)
		}
		return nil
	})
}

func runCheck(cctx *cli.Context) error {
	return withBackend(cctx, func(b *backend) error {
		report, err := b.engine.Check(cctx.Context, tree.Filter{})
		if err != nil {
			return err
		}
		for _, v := range report.Violations {
			fmt.Fprintln(cctx.App.Writer, v.String())
		}
		if !report.OK() {
			return fmt.Errorf("%d violations in %d nodes", len(report.Violations), report.Nodes)
		}
		fmt.Fprintf(cctx.App.Writer, "ok: %d nodes\n", report.Nodes)
		return nil
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return id, nil
}
