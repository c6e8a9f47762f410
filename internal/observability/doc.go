// Package observability provides the logging, metrics and tracing used by
// the turn engine, the stores and the transports.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler masks card numbers and
// replaces API keys, bot tokens and other credentials before a record is
// written. Conversation, request and channel identifiers stored in the
// context with AddConversationID, AddRequestID and AddChannel are added to
// every record.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.AddConversationID(ctx, "telegram:42")
//	logger.InfoContext(ctx, "turn finished", "status", "done")
//
// # Metrics
//
// NewMetrics registers Prometheus collectors for turns, model calls, tool
// calls, approval interrupts and decisions, transport messages and
// retention. Every method is a no-op on a nil *Metrics.
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordToolCall("rag_search", "success", elapsed)
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// is a no-op otherwise. A nil *Tracer is also valid.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{Endpoint: "localhost:4317"})
//	defer shutdown(context.Background())
package observability
