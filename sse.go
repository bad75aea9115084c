package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a framework-agnostic Server-Sent Events (SSE) server for managing
// bidirectional client communication. It handles server-to-client streaming through SSE
// and client-to-server messaging via HTTP POST endpoints.
//
// Every GET on HandleSSE opens one session, and the session ends when that connection is
// closed by the client, so a disconnect never affects the other sessions. Idle connections
// receive a comment line every keep-alive interval.
//
// Instances should be created using NewSSEServer and properly shut down using Shutdown when
// no longer needed.
type SSEServer struct {
	messageURL string
	keepAlive  time.Duration
	logger     *slog.Logger

	sessions        chan *sseServerSession
	removedSessions chan string
	lookups         chan sseSessionLookup

	done      chan struct{}
	closeDone *sync.Once
	closed    chan struct{}
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

type sseServerSession struct {
	id           string
	sess         *sse.Session
	sendMsgs     chan sseServerSessionSendMsg
	receivedMsgs chan JSONRPCMessage
	keepAlive    time.Duration
	logger       *slog.Logger

	done           chan struct{}
	disconnected   chan struct{}
	sendClosed     chan struct{}
	receiveLoop    *messageLoop
}

type sseSessionLookup struct {
	sessID string
	result chan<- *sseServerSession
}

type sseServerSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

var defaultSSEKeepAlive = 15 * time.Second

// NewSSEServer creates and initializes a new SSE server that tells its clients to post their
// messages to messageURL. The server is immediately operational upon creation. The returned
// SSEServer must be shut down using Shutdown when no longer needed.
func NewSSEServer(messageURL string, options ...SSEServerOption) SSEServer {
	s := SSEServer{
		messageURL:      messageURL,
		keepAlive:       defaultSSEKeepAlive,
		logger:          slog.Default(),
		sessions:        make(chan *sseServerSession),
		removedSessions: make(chan string),
		lookups:         make(chan sseSessionLookup),
		done:            make(chan struct{}),
		closeDone:       &sync.Once{},
		closed:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithSSEKeepAlive sets the interval of the keep-alive comments sent on every connection.
// A non-positive interval disables them.
func WithSSEKeepAlive(interval time.Duration) SSEServerOption {
	return func(s *SSEServer) {
		s.keepAlive = interval
	}
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(slog.String("component", "sse"))
	}
}

// Sessions returns an iterator over active client sessions. The iterator yields new
// Session instances as clients connect to the server.
func (s SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		// Store all active sessions in a map for easy lookup when we receive a new message.
		sessionsMap := make(map[string]*sseServerSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				// Process send messages for this session in a separate goroutine
				go sess.processSendMessages()

				sessionsMap[sess.id] = sess

				if !yield(sess) {
					return
				}
			case sessID := <-s.removedSessions:
				delete(sessionsMap, sessID)
			case l := <-s.lookups:
				// The result channel is buffered, a nil session means not found.
				l.result <- sessionsMap[l.sessID]
			}
		}
	}
}

// Shutdown gracefully shuts down the SSE server and waits for the Sessions loop to finish.
// The sessions themselves are stopped by the Server that consumes them.
func (s SSEServer) Shutdown(ctx context.Context) error {
	// Signal the server to shutdown.
	s.closeDone.Do(func() { close(s.done) })

	// Wait for main loop to finish.
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for managing SSE connections over GET requests.
// The handler upgrades HTTP connections to SSE, assigns unique session IDs, and
// provides clients with their message endpoints. The connection remains active until
// either the client disconnects or the session is stopped.
func (s SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		// Form an url for the client that can be used to communicate with the server session.
		url := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		// Use the type "endpoint" to indicate the endpoint URL.
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(url)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write SSE URL", slog.String("err", err.Error()))
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush SSE", slog.String("err", err.Error()))
			return
		}

		srvSession := &sseServerSession{
			id:             sessID,
			sess:           sess,
			keepAlive:      s.keepAlive,
			logger:         s.logger.With(slog.String("sessionID", sessID)),
			sendMsgs:       make(chan sseServerSessionSendMsg),
			receivedMsgs:   make(chan JSONRPCMessage, 5),
			done:           make(chan struct{}),
			disconnected:   make(chan struct{}),
			sendClosed:     make(chan struct{}),
			receiveLoop:    newMessageLoop(),
		}

		// Feed the sessions channel that would be consumed in Sessions loop, so it can be fowarded to caller.
		select {
		case s.sessions <- srvSession:
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}

		// Block until the client is gone or the session is stopped, the connection is left open until then.
		select {
		case <-r.Context().Done():
			srvSession.logger.Debug("client disconnected")
			close(srvSession.disconnected)
		case <-srvSession.done:
		}

		// No writes to the response may happen after the handler returns.
		<-srvSession.sendClosed

		select {
		case s.removedSessions <- sessID:
		case <-s.done:
		}
	})
}

// HandleMessage returns an http.Handler for processing client messages sent via POST
// requests. The handler expects a sessionID query parameter and a JSON-encoded message
// body. It answers 202 Accepted once the message is queued for its session, 400 for a
// malformed request and 404 when the session does not exist or is already closed.
func (s SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			nErr := fmt.Errorf("failed to decode message: %w", err)
			s.logger.Warn("failed to decode message", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		sess, err := s.lookup(r.Context(), sessID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		select {
		case sess.receivedMsgs <- msg:
			w.WriteHeader(http.StatusAccepted)
		case <-sess.done:
			http.Error(w, "session is closed", http.StatusNotFound)
		case <-sess.disconnected:
			http.Error(w, "session is closed", http.StatusNotFound)
		case <-r.Context().Done():
		}
	})
}

func (s SSEServer) lookup(ctx context.Context, sessID string) (*sseServerSession, error) {
	result := make(chan *sseServerSession, 1)

	select {
	case s.lookups <- sseSessionLookup{sessID: sessID, result: result}:
	case <-s.done:
		return nil, errors.New("server is shutting down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return <-result, nil
}

func (s *sseServerSession) ID() string { return s.id }

func (s *sseServerSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	errs := make(chan error, 1)

	// Queue the message for sending to avoid race in the sse library
	select {
	case s.sendMsgs <- sseServerSessionSendMsg{sseMsg, errs}:
	case <-ctx.Done():
		return fmt.Errorf("failed to queue message: %w", ctx.Err())
	case <-s.done:
		return errSessionClosed
	case <-s.disconnected:
		return errSessionClosed
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for send result: %w", ctx.Err())
	case <-s.done:
		return errSessionClosed
	case <-s.disconnected:
		return errSessionClosed
	}
}

func (s *sseServerSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		if !s.receiveLoop.start() {
			return
		}
		defer s.receiveLoop.finish()

		for {
			select {
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			case <-s.disconnected:
				return
			}
		}
	}
}

func (s *sseServerSession) Stop() {
	close(s.done)

	<-s.sendClosed
	s.receiveLoop.stop()
}

func (s *sseServerSession) processSendMessages() {
	defer close(s.sendClosed)

	var keepAlive <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case sm := <-s.sendMsgs:
			sm.errs <- s.write(sm.msg)
		case <-keepAlive:
			msg := &sse.Message{}
			msg.AppendComment("keep-alive")
			if err := s.write(msg); err != nil {
				s.logger.Warn("failed to send keep-alive", slog.String("err", err.Error()))
			}
		case <-s.done:
			return
		case <-s.disconnected:
			return
		}
	}
}

func (s *sseServerSession) write(msg *sse.Message) error {
	if err := s.sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}
