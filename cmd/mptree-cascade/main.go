// Command mptree-cascade is the Lambda function attached to the node table
// stream. It propagates soft deletes from a node to its children.
//
// Environment:
//
//	MPTREE_TABLE          node table (default "mpath_nodes")
//	MPTREE_SIBLING_TABLE  sibling table (default "mpath_siblings")
//	MPTREE_SCOPE_ATTRS    comma-separated scope attributes, as configured for the writers
//	MPTREE_SHARDS         path-index shards, as configured for the writers
//	MPTREE_SEPARATOR      path separator (default ".")
//	LOG_LEVEL             debug, info, warn or error
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/mpath/store"
	"github.com/jacentio/mpath/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	cfg := store.DefaultConfig()
	if t := os.Getenv("MPTREE_TABLE"); t != "" {
		cfg.Table = t
	}
	if t := os.Getenv("MPTREE_SIBLING_TABLE"); t != "" {
		cfg.SiblingTable = t
	}
	if attrs := os.Getenv("MPTREE_SCOPE_ATTRS"); attrs != "" {
		cfg.ScopeAttrs = strings.Split(attrs, ",")
	}
	if n, err := strconv.Atoi(os.Getenv("MPTREE_SHARDS")); err == nil {
		cfg.NumShards = n
	}
	sep := os.Getenv("MPTREE_SEPARATOR")
	if sep != "" {
		cfg.Separator = sep
	}

	h := stream.NewHandler(store.New(dynamodb.NewFromConfig(awsCfg), cfg), logger)
	if sep != "" {
		h = h.WithSeparator(sep)
	}
	lambda.Start(h.HandleCascadeDelete)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
