package services

import "context"

type contextKey string

const (
	runIDKey    contextKey = "run_id"
	streamIDKey contextKey = "stream_id"
	groupIDKey  contextKey = "group_id"
)

// WithRunID annotates context with the processing run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(runIDKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithStreamID annotates context with the external stream identifier.
func WithStreamID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, streamIDKey, id)
}

// StreamIDFromContext extracts the stream identifier if present.
func StreamIDFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(streamIDKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithGroupID annotates context with the stream group identifier.
func WithGroupID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, groupIDKey, id)
}

// GroupIDFromContext extracts the stream group identifier if present.
func GroupIDFromContext(ctx context.Context) (int64, bool) {
	if id, ok := ctx.Value(groupIDKey).(int64); ok {
		return id, true
	}
	return 0, false
}
