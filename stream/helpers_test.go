package stream

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

// --- getStringAttr Tests ---

func TestGetStringAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected string
	}{
		{
			name:     "existing string",
			image:    map[string]events.DynamoDBAttributeValue{"path": events.NewStringAttribute(".4.17.")},
			expected: ".4.17.",
		},
		{
			name:     "missing key",
			image:    map[string]events.DynamoDBAttributeValue{"other": events.NewStringAttribute("value")},
			expected: "",
		},
		{
			name:     "empty image",
			image:    map[string]events.DynamoDBAttributeValue{},
			expected: "",
		},
		{
			name:     "nil image",
			image:    nil,
			expected: "",
		},
		{
			name:     "number attribute",
			image:    map[string]events.DynamoDBAttributeValue{"path": events.NewNumberAttribute("4")},
			expected: "",
		},
		{
			name:     "custom separator",
			image:    map[string]events.DynamoDBAttributeValue{"path": events.NewStringAttribute("/1/2/")},
			expected: "/1/2/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getStringAttr(tt.image, "path")
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected int64
	}{
		{
			name:     "valid number",
			image:    map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("1234567890")},
			expected: 1234567890,
		},
		{
			name:     "zero",
			image:    map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("0")},
			expected: 0,
		},
		{
			name:     "negative",
			image:    map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("-100")},
			expected: -100,
		},
		{
			name:     "max int64",
			image:    map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("9223372036854775807")},
			expected: 9223372036854775807,
		},
		{
			name:     "missing key",
			image:    map[string]events.DynamoDBAttributeValue{"other": events.NewNumberAttribute("42")},
			expected: 0,
		},
		{
			name:     "nil image",
			image:    nil,
			expected: 0,
		},
		{
			name:     "string attribute",
			image:    map[string]events.DynamoDBAttributeValue{"ttl": events.NewStringAttribute("not-a-number")},
			expected: 0,
		},
		{
			name:     "decimal",
			image:    map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("19.99")},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getNumberAttr(tt.image, "ttl")
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

// --- processRecord Tests ---

func TestProcessRecord_SkipsNonModifyEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
	}{
		{"INSERT", "INSERT"},
		{"REMOVE", "REMOVE"},
		{"Unknown", "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, nil)
			record := &events.DynamoDBEventRecord{
				EventName: tt.eventName,
			}

			// Should not error - just skip non-MODIFY events
			err := h.processRecord(context.Background(), record)
			if err != nil {
				t.Errorf("expected no error for %s event, got %v", tt.eventName, err)
			}
		})
	}
}

func TestProcessRecord_SkipsModifyWithZeroNewTTL(t *testing.T) {
	h := NewHandler(nil, nil)

	record := &events.DynamoDBEventRecord{
		EventName: "MODIFY",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"id": events.NewNumberAttribute("1"),
			},
			NewImage: map[string]events.DynamoDBAttributeValue{
				"id":   events.NewNumberAttribute("1"),
				"path": events.NewStringAttribute("."),
				"ttl":  events.NewNumberAttribute("0"),
			},
		},
	}

	err := h.processRecord(context.Background(), record)
	if err != nil {
		t.Errorf("expected no error when newTTL is 0, got %v", err)
	}
}

func TestWithSeparator_KeepsOriginal(t *testing.T) {
	h := NewHandler(nil, nil)
	custom := h.WithSeparator("/")

	if h.codec.Separator() != "." {
		t.Errorf("expected original separator '.', got %q", h.codec.Separator())
	}
	if custom.codec.Separator() != "/" {
		t.Errorf("expected separator '/', got %q", custom.codec.Separator())
	}
}

// --- Benchmark Tests ---

func BenchmarkGetStringAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"path": events.NewStringAttribute(".1.22.333.4444."),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringAttr(image, "path")
	}
}

func BenchmarkGetNumberAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"ttl": events.NewNumberAttribute("1704067200"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getNumberAttr(image, "ttl")
	}
}
