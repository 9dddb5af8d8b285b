// Package stream provides DynamoDB Streams handlers for cascade operations.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/mpath/internal/pathcodec"
	"github.com/jacentio/mpath/store"
)

// ChildStore is the part of the DynamoDB store the cascade needs.
// *store.Store satisfies it.
type ChildStore interface {
	QueryAllChildren(ctx context.Context, path string, attrs map[string]string) ([]int64, error)
	SetTTL(ctx context.Context, id int64, ttl int64) error
}

var _ ChildStore = (*store.Store)(nil)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  ChildStore
	codec  pathcodec.Codec
	logger *slog.Logger
}

// NewHandler creates a new stream handler for trees using the default path
// separator.
func NewHandler(s ChildStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		codec:  pathcodec.New(pathcodec.DefaultSeparator),
		logger: logger,
	}
}

// WithSeparator returns a copy of h for trees built with a custom separator.
func (h *Handler) WithSeparator(sep string) *Handler {
	c := *h
	c.codec = pathcodec.New(sep)
	return &c
}

// HandleCascadeDelete processes DynamoDB stream events to propagate TTL to children.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	// Only process MODIFY events where TTL was added
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")

	// Only process when TTL is newly set (was absent/0, now present)
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	id := getNumberAttr(record.Change.NewImage, "id")
	if id <= 0 {
		return nil
	}
	path := getStringAttr(record.Change.NewImage, "path")
	if path == "" {
		h.logger.Warn("skipping record without tree attributes",
			"eventID", record.EventID,
		)
		return nil
	}

	childPath := h.codec.ChildPath(path, id)
	h.logger.Info("processing cascade delete",
		"nodeID", id,
		"childPath", childPath,
		"ttl", newTTL,
	)

	// Children share the scope attributes of their parent.
	attrs := getStringMapAttr(record.Change.NewImage, "attrs")
	children, err := h.store.QueryAllChildren(ctx, childPath, attrs)
	if err != nil {
		return fmt.Errorf("query children of node %d: %w", id, err)
	}

	// Each child's own TTL change triggers the next level via the stream.
	failed := 0
	for _, child := range children {
		if err := h.store.SetTTL(ctx, child, newTTL); err != nil {
			failed++
			h.logger.Warn("failed to set TTL on child",
				"nodeID", id,
				"childID", child,
				"error", err,
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("cascade node %d: %d of %d children not marked", id, failed, len(children))
	}

	h.logger.Info("cascade delete completed",
		"nodeID", id,
		"childrenProcessed", len(children),
	)

	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeString {
			return v.String()
		}
	}
	return ""
}

// getStringMapAttr extracts the string entries of a map attribute from a
// DynamoDB stream image.
func getStringMapAttr(image map[string]events.DynamoDBAttributeValue, key string) map[string]string {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeMap {
		return nil
	}
	out := make(map[string]string, len(v.Map()))
	for k, entry := range v.Map() {
		if entry.DataType() == events.DataTypeString {
			out[k] = entry.String()
		}
	}
	return out
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
