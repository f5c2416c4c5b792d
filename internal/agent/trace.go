package agent

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/haasonsaas/agentkit/internal/agent"

// startInvocationSpan opens the span covering one invocation. With no tracer
// provider configured this is a no-op span.
func startInvocationSpan(inv *InvocationContext) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(inv.Context(), "agent.invocation",
		trace.WithAttributes(
			attribute.String("agentkit.invocation_id", inv.InvocationID()),
			attribute.String("agentkit.agent", inv.AgentName()),
			attribute.String("agentkit.session_id", inv.SessionID()),
			attribute.String("agentkit.branch", inv.Branch()),
		))
}

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}
