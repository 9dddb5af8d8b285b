package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/urfave/cli/v2"

	"github.com/jacentio/mpath/sqlstore"
	"github.com/jacentio/mpath/store"
	"github.com/jacentio/mpath/tree"
)

// backend bundles an engine with the store-specific hooks the commands need.
type backend struct {
	engine *tree.Engine

	// provision creates the table (and index) the store needs.
	provision func(ctx context.Context) error

	// atomic runs fn against an engine bound to a transaction when the store
	// supports one, and against the plain engine otherwise.
	atomic func(ctx context.Context, fn func(e *tree.Engine) error) error

	close func() error
}

func openBackend(cctx *cli.Context) (*backend, error) {
	ctx := cctx.Context
	logger := configLogger(cctx, cctx.App.ErrWriter)

	engineCfg, err := engineConfig(cctx)
	if err != nil {
		return nil, err
	}

	switch cctx.String("store") {
	case "sql":
		return openSQL(cctx, engineCfg, logger)
	case "dynamo":
		return openDynamo(ctx, cctx, engineCfg, logger)
	default:
		return nil, fmt.Errorf("unknown store %q (expected sql or dynamo)", cctx.String("store"))
	}
}

func engineConfig(cctx *cli.Context) (tree.Config, error) {
	cfg := tree.DefaultConfig()
	cfg.Separator = cctx.String("separator")
	cfg.MaxLevel = cctx.Int("max-level")

	for _, kv := range cctx.StringSlice("scope") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return cfg, fmt.Errorf("invalid scope %q (expected key=value)", kv)
		}
		if cfg.Filter.Attrs == nil {
			cfg.Filter.Attrs = make(map[string]string)
		}
		cfg.Filter.Attrs[k] = v
	}
	return cfg, nil
}

func openSQL(cctx *cli.Context, engineCfg tree.Config, logger *slog.Logger) (*backend, error) {
	db, err := sqlstore.Open(cctx.String("db-url"), cctx.Int("max-db-connections"), logger)
	if err != nil {
		return nil, err
	}
	cfg := sqlstore.DefaultConfig()
	if t := cctx.String("table"); t != "" {
		cfg.Table = t
	}
	s := sqlstore.New(db, cfg)
	eng := tree.New(s, engineCfg, logger)

	return &backend{
		engine:    eng,
		provision: s.Migrate,
		atomic: func(ctx context.Context, fn func(e *tree.Engine) error) error {
			return s.Transaction(ctx, func(tx *sqlstore.Store) error {
				return fn(eng.WithStore(tx))
			})
		},
		close: func() error { return sqlstore.Close(db) },
	}, nil
}

func openDynamo(ctx context.Context, cctx *cli.Context, engineCfg tree.Config, logger *slog.Logger) (*backend, error) {
	scopeAttrs := cctx.StringSlice("scope-attrs")
	for _, k := range scopeAttrs {
		if _, ok := engineCfg.Filter.Attrs[k]; !ok {
			return nil, fmt.Errorf("scope attribute %q needs a --scope %s=value", k, k)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg)

	cfg := store.DefaultConfig()
	if t := cctx.String("table"); t != "" {
		cfg.Table = t
	}
	if t := cctx.String("sibling-table"); t != "" {
		cfg.SiblingTable = t
	}
	cfg.ScopeAttrs = scopeAttrs
	cfg.Separator = engineCfg.Separator
	cfg.NumShards = cctx.Int("shards")
	cfg.WriteRate = cctx.Float64("write-rate")
	s := store.New(client, cfg)
	eng := tree.New(s, engineCfg, logger)

	return &backend{
		engine: eng,
		provision: func(ctx context.Context) error {
			return store.CreateTable(ctx, client, s.Config())
		},
		atomic: func(ctx context.Context, fn func(e *tree.Engine) error) error {
			return fn(eng)
		},
		close: func() error { return nil },
	}, nil
}

// withBackend opens the configured backend for the duration of fn.
func withBackend(cctx *cli.Context, fn func(b *backend) error) error {
	b, err := openBackend(cctx)
	if err != nil {
		return err
	}
	defer b.close()
	return fn(b)
}
