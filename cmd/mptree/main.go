// Command mptree administers materialized-path trees stored in SQL or DynamoDB.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

var storeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "store",
		Usage:   "record store backend: sql or dynamo",
		Value:   "sql",
		EnvVars: []string{"MPTREE_STORE"},
	},
	&cli.StringFlag{
		Name:    "db-url",
		Usage:   "database URL for the sql store (sqlite:// or postgres://)",
		Value:   "sqlite://data/mptree/trees.sqlite",
		EnvVars: []string{"MPTREE_DATABASE_URL", "DATABASE_URL"},
	},
	&cli.IntFlag{
		Name:    "max-db-connections",
		Usage:   "maximum number of open database connections",
		Value:   8,
		EnvVars: []string{"MPTREE_MAX_DB_CONNECTIONS"},
	},
	&cli.StringFlag{
		Name:    "table",
		Usage:   "table holding the nodes (backend default when empty)",
		EnvVars: []string{"MPTREE_TABLE"},
	},
	&cli.StringFlag{
		Name:    "sibling-table",
		Usage:   "table listing sibling set members for the dynamo store (backend default when empty)",
		EnvVars: []string{"MPTREE_SIBLING_TABLE"},
	},
	&cli.StringSliceFlag{
		Name:    "scope-attrs",
		Usage:   "attribute keys partitioning sibling sets in the dynamo store; every --scope must set them",
		EnvVars: []string{"MPTREE_SCOPE_ATTRS"},
	},
	&cli.IntFlag{
		Name:    "shards",
		Usage:   "number of path-index shards for the dynamo store",
		Value:   1,
		EnvVars: []string{"MPTREE_SHARDS"},
	},
	&cli.Float64Flag{
		Name:    "write-rate",
		Usage:   "maximum position-update transactions per second for the dynamo store (0 = unlimited)",
		EnvVars: []string{"MPTREE_WRITE_RATE"},
	},
	&cli.StringFlag{
		Name:    "separator",
		Usage:   "path separator",
		Value:   ".",
		EnvVars: []string{"MPTREE_SEPARATOR"},
	},
	&cli.IntFlag{
		Name:    "max-level",
		Usage:   "deepest level a node may be attached at",
		Value:   32,
		EnvVars: []string{"MPTREE_MAX_LEVEL"},
	},
	&cli.StringSliceFlag{
		Name:    "scope",
		Usage:   "attribute filter (key=value) applied to every tree operation",
		EnvVars: []string{"MPTREE_SCOPE"},
	},
}

func run(args []string, out io.Writer) error {

	app := cli.App{
		Name:    "mptree",
		Usage:   "materialized-path tree admin tool",
		Version: versioninfo.Short(),
		Writer:  out,
	}
	app.Flags = append([]cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "warn",
			EnvVars: []string{"MPTREE_LOG_LEVEL", "LOG_LEVEL"},
		},
	}, storeFlags...)
	app.Commands = []*cli.Command{
		cmdInit,
		cmdAdd,
		cmdMove,
		cmdPosition,
		cmdRemove,
		cmdTree,
		cmdCheck,
	}
	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
