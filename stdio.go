package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport layer for MCP communication using
// newline-delimited JSON-RPC messages over stdin/stdout or similar io.Reader/io.Writer pairs.
// It provides a single persistent session for the lifetime of the process and processes
// incoming messages sequentially.
//
// Lines that are not valid JSON are answered with a JSON-RPC parse error. A read failure
// other than io.EOF ends the session and is reported by Err, so the caller can exit with
// a non-zero status.
type StdIO struct {
	sess   *stdIOSession
	closed chan struct{}
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

type stdIOSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMessages chan stdIOMessage
	done          chan struct{}
	readLoop      *messageLoop
	writeClosed   chan struct{}

	errMu sync.Mutex
	err   error
}

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

type stdIOLine struct {
	line string
	err  error
}

var errSessionClosed = errors.New("session is closed")

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) StdIO {
	s := StdIO{
		sess: &stdIOSession{
			id:            uuid.New().String(),
			reader:        reader,
			writer:        writer,
			logger:        slog.Default(),
			writeMessages: make(chan stdIOMessage),
			done:          make(chan struct{}),
			readLoop:      newMessageLoop(),
			writeClosed:   make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithStdIOLogger sets the logger for the StdIO transport. The logger must not write to the
// transport's writer, since that is where the protocol messages go.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.sess.logger = logger.With(slog.String("component", "stdio"))
	}
}

// Sessions implements the ServerTransport interface by providing an iterator that yields
// a single persistent session. This session remains active throughout the lifetime of
// the StdIO instance.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteMessages()

		// StdIO only supports a single session, so we yield it and wait until it's done.
		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the Sessions loop to break.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// Err returns the read failure that ended the session, or nil if the input reached EOF or
// the session was stopped.
func (s StdIO) Err() error {
	s.sess.errMu.Lock()
	defer s.sess.errMu.Unlock()
	return s.sess.err
}

func (s *stdIOSession) ID() string {
	return s.id
}

func (s *stdIOSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	ioMsg := stdIOMessage{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	// Queue the message, so only one goroutine writes to the writer.
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to queue message: %w", ctx.Err())
	case <-s.done:
		return errSessionClosed
	case s.writeMessages <- ioMsg:
	}

	select {
	case err := <-ioMsg.errs:
		if err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for write result: %w", ctx.Err())
	case <-s.done:
		return errSessionClosed
	}
}

func (s *stdIOSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		if !s.readLoop.start() {
			return
		}
		defer s.readLoop.finish()

		lines := make(chan stdIOLine)
		go s.readLines(lines)

		for {
			var l stdIOLine
			select {
			case <-s.done:
				return
			case l = <-lines:
			}

			if l.err != nil {
				if !errors.Is(l.err, io.EOF) {
					s.logger.Error("failed to read message", slog.String("err", l.err.Error()))
					s.setErr(l.err)
				}
				return
			}

			if strings.TrimSpace(l.line) == "" {
				continue
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(l.line), &msg); err != nil {
				s.logger.Warn("failed to unmarshal message", slog.String("err", err.Error()))
				s.replyParseError(err)
				continue
			}

			// We stop iteration if yield returns false
			if !yield(msg) {
				return
			}
		}
	}
}

func (s *stdIOSession) Stop() {
	close(s.done)
	s.readLoop.stop()
	<-s.writeClosed
}

// readLines feeds lines until the reader fails. It may stay blocked on the reader after the
// session is stopped, until the reader itself is closed.
func (s *stdIOSession) readLines(lines chan<- stdIOLine) {
	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadString('\n')
		// A last line without trailing newline is still delivered, EOF comes with the next read.
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			select {
			case lines <- stdIOLine{err: err}:
			case <-s.done:
			}
			return
		}

		select {
		case lines <- stdIOLine{line: strings.TrimSuffix(line, "\n")}:
		case <-s.done:
			return
		}
	}
}

func (s *stdIOSession) replyParseError(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultServerSendTimeout)
	defer cancel()

	if sErr := s.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Error: &JSONRPCError{
			Code:    jsonRPCParseErrorCode,
			Message: fmt.Sprintf("parse error: %s", err.Error()),
		},
	}); sErr != nil {
		s.logger.Error("failed to send parse error", slog.String("err", sErr.Error()))
	}
}

func (s *stdIOSession) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

func (s *stdIOSession) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		// Process writing the message queue until the session is closed.
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}
