// Package bridge owns the per-session connection to the remote
// conversational speech model: forwarding student input, receiving the
// model's heterogeneous event stream, and classifying each event into
// exactly one internal shape.
package bridge

import (
	"context"
)

// ConnectParams describe one exam session to the remote model.
type ConnectParams struct {
	SessionID    string
	Topic        string
	Language     string
	SystemPrompt string
}

// Conn is one live connection to the conversational model. Close is
// idempotent and never fails on an already-closed connection.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string, endOfTurn bool) error

	// Receive blocks for the next raw event. It returns io.EOF (or an error
	// wrapping it) once the remote side has closed the stream.
	Receive() (RawEvent, error)

	Close() error
}

// Connector opens bridge connections. A connect failure means the exam
// proceeds on the text-only fallback path instead of aborting.
type Connector interface {
	Connect(ctx context.Context, params ConnectParams) (Conn, error)
}
