package realtime

import "context"

// Session is one bidirectional realtime connection. Outbound frames are
// serialized by a single writer inside the implementation; Events delivers
// inbound frames to a single subscriber and closes on shutdown.
//
// Close is the graceful path; canceling the connect context is the hard one.
type Session interface {
	// SessionID identifies the session at the provider.
	SessionID() string

	// SendAudio appends input audio. Zero-length chunks are dropped
	// silently.
	SendAudio(ctx context.Context, chunk AudioChunk) error

	// SendText injects a user text turn.
	SendText(ctx context.Context, text string) error

	// SendToolResponse returns a tool result over the channel.
	SendToolResponse(ctx context.Context, resp ToolResponse) error

	// CommitAudio closes the input buffer; used with client-driven VAD.
	CommitAudio(ctx context.Context) error

	// ClearAudio discards the uncommitted input buffer.
	ClearAudio(ctx context.Context) error

	// CreateResponse requests an immediate response turn.
	CreateResponse(ctx context.Context) error

	// Interrupt cancels any in-flight response and clears the input
	// buffer, an atomic pair at the wire.
	Interrupt(ctx context.Context) error

	// Events is the inbound stream. Closed after Close or a fatal error;
	// the last event before closure on error is an ErrorEvent.
	Events() <-chan ServerEvent

	// Close shuts the session down gracefully. Idempotent.
	Close() error
}
