package mcp

import (
	"context"
	"iter"
	"sync"
)

// ServerTransport provides the server-side communication layer in the MCP protocol.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they are initiated.
	// Each yielded Session represents a unique client connection and provides methods for
	// bidirectional communication. The implementation must guarantee that each session ID
	// is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the ServerTransport to clean up resources. The implementations should not
	// close all the Session it produce, the caller would already do that when callling this method. The caller
	// is guaranteed to call this method only once.
	Shutdown(ctx context.Context) error
}

// Session represents a bidirectional communication channel between server and client.
type Session interface {
	// ID returns the unique identifier for this session. The implementation must
	// guarantee that session IDs are unique across all active sessions managed,
	// and that the same value is returned for the whole lifetime of the session.
	ID() string

	// Send transmits a message to the client.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields messages received from the other party.
	// The implementations should exit the iteration if the session is closed or the
	// underlying connection is gone.
	Messages() iter.Seq[JSONRPCMessage]

	// Stop stops the session and releases the underlying connection.
	// The caller is guaranteed to call this method exactly once.
	Stop()
}

// ToolServer defines the interface for managing tools in the MCP protocol.
type ToolServer interface {
	// ListTools returns the available tools. The order of the returned tools must be stable
	// for the lifetime of the process, since some clients cache tools by position.
	ListTools(context.Context, ListToolsParams) (ListToolsResult, error)

	// CallTool executes a specific tool with the given arguments. The ProgressReporter
	// can be used to report operation progress of multi-step tools.
	//
	// Tool-level failures (unknown tool, invalid arguments, upstream errors) should be reported
	// through a CallToolResult with IsError set. A returned error is treated as an internal
	// fault and answered with a JSON-RPC internal error.
	CallTool(context.Context, CallToolParams, ProgressReporter) (CallToolResult, error)
}

// ProgressReporter is a function type used to report progress updates for long-running operations.
// Server implementations use this callback to inform clients about operation progress by passing
// a ProgressParams struct containing the progress details. When Total is non-zero in the params,
// progress percentage can be calculated as (Progress/Total)*100.
//
// The ProgressToken field is filled in by the session; implementations only set Progress and Total.
type ProgressReporter func(progress ProgressParams)

// messageLoop tracks the Messages loop of a session, so Stop only waits for a loop that was
// actually started. A session stopped before Messages is called yields nothing.
type messageLoop struct {
	mu      sync.Mutex
	started bool
	stopped bool
	closed  chan struct{}
}

func newMessageLoop() *messageLoop {
	return &messageLoop{closed: make(chan struct{})}
}

// start reports whether the loop may run. A started loop must call finish when it returns.
func (l *messageLoop) start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.started = true
	return true
}

func (l *messageLoop) finish() {
	close(l.closed)
}

// stop marks the loop stopped and waits for it if it is running. The caller must already have
// signalled the loop to return.
func (l *messageLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	started := l.started
	l.mu.Unlock()

	if started {
		<-l.closed
	}
}
