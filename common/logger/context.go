package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// The controller enriches the context once per notification, so every line the
// delivery engine writes for that item carries the same identifiers.
type LogFields struct {
	DeliveryID *int64  // Snowflake ID of one delivery sequence
	MessageID  *int    // Source message ID
	SourceID   *int64  // Source channel ID
	MediaKind  *string // Classifier label, e.g. "video (document)"
	Component  string  // Component name, e.g. "relay.delivery.engine"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.DeliveryID != nil {
		result.DeliveryID = new.DeliveryID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.SourceID != nil {
		result.SourceID = new.SourceID
	}
	if new.MediaKind != nil {
		result.MediaKind = new.MediaKind
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}
