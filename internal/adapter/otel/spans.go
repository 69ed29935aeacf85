package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/devkade/hackathon-starter"

// StartConversationSpan starts a span for a conversation operation
// (submit, callback, reap).
func StartConversationSpan(ctx context.Context, op, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "conversation."+op,
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
		),
	)
}

// StartSandboxSpan starts a span for a call to the sandbox provider.
func StartSandboxSpan(ctx context.Context, op, sandboxID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sandbox."+op,
		trace.WithAttributes(
			attribute.String("sandbox.id", sandboxID),
		),
	)
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
