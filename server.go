package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server implements a Model Context Protocol (MCP) server that exposes a ToolServer to the
// clients of a ServerTransport. Every session produced by the transport is served in its own
// goroutine and follows the lifecycle Opening -> Active -> Closing -> Closed.
type Server struct {
	info         Info
	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport
	toolServer   ToolServer

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(string, Info)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup
	done              chan struct{}
	closeDone         *sync.Once
	transportShutdown *transportShutdown
}

type transportShutdown struct {
	once sync.Once
	err  error
}

type sessionState int

const (
	sessionOpening sessionState = iota
	sessionActive
	sessionClosing
	sessionClosed
)

type serverSession struct {
	session Session
	logger  *slog.Logger

	serverCap    ServerCapabilities
	serverInfo   Info
	instructions string
	toolServer   ToolServer

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	onClientConnected func(string, Info)

	mu    sync.Mutex
	state sessionState
	// calls holds the cancellation of every in-flight request, keyed by request id.
	calls    map[RequestID]context.CancelFunc
	inflight sync.WaitGroup

	// closing is closed once the session leaves the Active state.
	closing   chan struct{}
	closeOnce sync.Once
}

var (
	defaultServerPingInterval         = 30 * time.Second
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second

	errInvalidJSON = errors.New("invalid json")
)

// NewServer creates a new Model Context Protocol (MCP) server with the specified configuration.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:              info,
		transport:         transport,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		done:              make(chan struct{}),
		closeDone:         &sync.Once{},
		transportShutdown: &transportShutdown{},
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultServerPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	s.capabilities = ServerCapabilities{}
	if s.toolServer != nil {
		s.capabilities.Tools = &ToolsCapability{}
	}

	return s
}

// WithToolServer returns a ServerOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
	}
}

// WithInstructions returns a ServerOption that configures the server instructions.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerPingInterval returns a ServerOption that configures the server's ping interval.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures the server's ping timeout.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold for the server.
// If the number of consecutive unanswered pings reaches the threshold, the server will close the session.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client completes the initialize request.
// The callback's parameter is the session ID and the Info the client reported.
func WithServerOnClientConnected(onClientConnected func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a session is closed.
// The callback's parameter is the ID of the session.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "mcp-server"))
	}
}

// Serve starts the MCP server and serves every session produced by the transport.
//
// Serve blocks until the transport stops yielding sessions, which happens after Shutdown.
func (s Server) Serve() {
	// This loop would break when the transport is closed.
	for sess := range s.transport.Sessions() {
		select {
		case <-s.done:
			// The session arrived after Shutdown, it is released without reading its messages.
			s.logger.Debug("rejecting session during shutdown", slog.String("sessionID", sess.ID()))
			sess.Stop()
			continue
		default:
		}

		ss := &serverSession{
			session:              sess,
			logger:               s.logger.With(slog.String("sessionID", sess.ID())),
			serverCap:            s.capabilities,
			serverInfo:           s.info,
			instructions:         s.instructions,
			toolServer:           s.toolServer,
			pingInterval:         s.pingInterval,
			pingTimeout:          s.pingTimeout,
			pingTimeoutThreshold: s.pingTimeoutThreshold,
			sendTimeout:          s.sendTimeout,
			onClientConnected:    s.onClientConnected,
			calls:                make(map[RequestID]context.CancelFunc),
			closing:              make(chan struct{}),
		}

		s.sessionsWaitGroup.Add(1)
		go func() {
			defer s.sessionsWaitGroup.Done()

			ss.start(s.done)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}
		}()
	}
}

// Shutdown gracefully shuts down the server. Every session stops accepting new calls, lets its
// in-flight calls deliver their results, and then releases its transport handle. Shutdown returns
// an error if the context is cancelled before that completes or if the transport fails to shut down.
//
// Shutdown may be called more than once. A later call waits for the sessions again and returns
// the result of the transport shutdown done by the first call that reached it.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal all the sessions to close.
	s.closeDone.Do(func() {
		close(s.done)
	})

	sessionsClosed := make(chan struct{})
	go func() {
		s.sessionsWaitGroup.Wait()
		close(sessionsClosed)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for sessions: %w", ctx.Err())
	case <-sessionsClosed:
	}

	// Close the transport so the Sessions loop in Serve breaks.
	s.transportShutdown.once.Do(func() {
		s.transportShutdown.err = s.transport.Shutdown(ctx)
	})
	if err := s.transportShutdown.err; err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	return nil
}

func (s sessionState) String() string {
	switch s {
	case sessionOpening:
		return "opening"
	case sessionActive:
		return "active"
	case sessionClosing:
		return "closing"
	case sessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

func (s *serverSession) start(done <-chan struct{}) {
	// This channel is used to feed the ping goroutine a message ID we received from the client.
	pingMessageIDs := make(chan RequestID, 10)

	go s.ping(pingMessageIDs)

	go func() {
		select {
		case <-done:
			s.close("server shutdown")
		case <-s.closing:
		}
	}()

	// This loops would break when the session is stopped or the client is gone.
	for msg := range s.session.Messages() {
		s.handleMessage(msg, pingMessageIDs)
	}

	s.close("transport closed")
}

// close moves the session to Closing, waits for the in-flight calls and stops the transport
// session. Only the first call has an effect, later calls block until the first one is done.
func (s *serverSession) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = sessionClosing
		s.mu.Unlock()
		close(s.closing)

		s.logger.Debug("closing session", slog.String("reason", reason))

		s.inflight.Wait()
		s.session.Stop()

		s.mu.Lock()
		s.state = sessionClosed
		s.mu.Unlock()
	})
}

func (s *serverSession) currentState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *serverSession) handleMessage(msg JSONRPCMessage, pingMessageIDs chan<- RequestID) {
	// Validate JSON-RPC version before processing any message
	if msg.JSONRPC != JSONRPCVersion {
		s.logger.Info("failed to handle message",
			slog.Any("message", msg),
			slog.String("err", errInvalidJSON.Error()),
		)
		if !msg.ID.IsZero() {
			s.sendError(msg.ID, JSONRPCError{
				Code:    jsonRPCInvalidRequestCode,
				Message: fmt.Sprintf("invalid jsonrpc version %q", msg.JSONRPC),
			})
		}
		return
	}

	switch msg.Method {
	case methodPing:
		go func(msgID RequestID) {
			pongCtx, pongCancel := context.WithTimeout(context.Background(), s.pingTimeout)
			defer pongCancel()

			if err := s.session.Send(pongCtx, JSONRPCMessage{
				JSONRPC: JSONRPCVersion,
				ID:      msgID,
				Result:  json.RawMessage("{}"),
			}); err != nil {
				s.logger.Error("failed to send pong", slog.String("err", err.Error()))
			}
		}(msg.ID)
	case methodInitialize:
		s.mu.Lock()
		if s.state != sessionOpening && s.state != sessionActive {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.inflight.Done()
			s.handleInitializeRequest(msg)
		}()
	case methodNotificationsInitialized:
		s.mu.Lock()
		if s.state == sessionOpening {
			s.state = sessionActive
		}
		s.mu.Unlock()
	case MethodToolsList, MethodToolsCall:
		if msg.ID.IsZero() {
			s.logger.Warn("dropping request without id", slog.String("method", msg.Method))
			return
		}

		s.mu.Lock()
		state := s.state
		if state != sessionActive {
			s.mu.Unlock()
			s.sendError(msg.ID, JSONRPCError{
				Code:    jsonRPCInvalidRequestCode,
				Message: fmt.Sprintf("session is %s", state),
			})
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.calls[msg.ID] = cancel
		s.inflight.Add(1)
		s.mu.Unlock()

		go s.handleRequest(ctx, cancel, msg)
	case methodNotificationsCancelled:
		var params notificationsCancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("failed to unmarshal cancelled params", slog.String("err", err.Error()))
			return
		}

		s.mu.Lock()
		cancel, ok := s.calls[params.RequestID]
		s.mu.Unlock()
		if ok {
			s.logger.Debug("request cancelled by client",
				slog.String("requestID", params.RequestID.String()),
				slog.String("reason", params.Reason))
			cancel()
		}
	case "":
		// This is a response from the client, the only request we send is ping.
		if msg.Error != nil {
			s.logger.Warn("received error response from client", slog.String("err", msg.Error.Error()))
		}
		select {
		case pingMessageIDs <- msg.ID:
		default:
		}
	default:
		if msg.ID.IsZero() {
			s.logger.Debug("ignoring unknown notification", slog.String("method", msg.Method))
			return
		}
		s.sendError(msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method %q not found", msg.Method),
		})
	}
}

func (s *serverSession) handleInitializeRequest(msg JSONRPCMessage) {
	res, clientInfo, err := s.initializationHandshake(msg)
	if err != nil {
		s.logger.Info("invalid initialization request", slog.String("err", err.Error()))

		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{Code: jsonRPCInvalidParamsCode, Message: err.Error()}
		}
		s.sendError(msg.ID, jsonErr)
		return
	}

	resBs, err := json.Marshal(res)
	if err != nil {
		s.logger.Error("failed to marshal initialization result", slog.String("err", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Result:  resBs,
	}); err != nil {
		s.logger.Error("failed to send initialization result", slog.String("err", err.Error()))
		return
	}

	s.logger.Info("client initialized",
		slog.String("client", clientInfo.Name),
		slog.String("clientVersion", clientInfo.Version),
		slog.String("protocolVersion", res.ProtocolVersion))

	if s.onClientConnected != nil {
		s.onClientConnected(s.session.ID(), clientInfo)
	}
}

func (s *serverSession) initializationHandshake(msg JSONRPCMessage) (initializeResult, Info, error) {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return initializeResult{}, Info{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err.Error()),
		}
	}

	if params.ProtocolVersion == "" {
		return initializeResult{}, Info{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: "missing protocolVersion",
		}
	}

	return initializeResult{
		ProtocolVersion: negotiateProtocolVersion(params.ProtocolVersion),
		Capabilities:    s.serverCap,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	}, params.ClientInfo, nil
}

func (s *serverSession) ping(messageIDs <-chan RequestID) {
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	failedPings := 0
	awaiting := false
	var msgID RequestID

	for {
		select {
		case <-s.closing:
			return
		case id := <-messageIDs:
			// Received id from client response, check whether it's the same as the one we sent.
			if id != msgID {
				continue
			}
			s.logger.Debug("received ping response, resetting failed ping counter")
			failedPings = 0
			awaiting = false
			continue
		case <-pingTicker.C:
		}

		if awaiting {
			failedPings++
		}
		if failedPings >= s.pingTimeoutThreshold {
			s.logger.Warn("too many pings failed, closing session", slog.Int("failedPings", failedPings))
			s.close("ping timeout")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.pingTimeout)
		msgID = StringID(uuid.New().String())
		err := s.session.Send(ctx, JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msgID,
			Method:  methodPing,
		})
		cancel()
		if err != nil {
			s.logger.Warn("failed to send ping to client", slog.String("err", err.Error()))
			failedPings++
			awaiting = false
			continue
		}
		awaiting = true
	}
}

func (s *serverSession) handleRequest(ctx context.Context, cancel context.CancelFunc, msg JSONRPCMessage) {
	defer func() {
		cancel()

		s.mu.Lock()
		delete(s.calls, msg.ID)
		s.mu.Unlock()

		s.inflight.Done()
	}()

	var result any
	var err error

	switch msg.Method {
	case MethodToolsList:
		result, err = s.callListTools(ctx, msg)
	case MethodToolsCall:
		result, err = s.callCallTool(ctx, msg)
	default:
		return
	}

	resMsg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
	}
	if err != nil {
		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()}
		}
		s.logger.Error("failed to call server implementation",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
		resMsg.Error = &jsonErr
	} else {
		resMsg.Result, err = json.Marshal(result)
		if err != nil {
			resMsg.Error = &JSONRPCError{
				Code:    jsonRPCInternalErrorCode,
				Message: fmt.Sprintf("failed to marshal result: %s", err.Error()),
			}
		}
	}

	// The client asked to cancel this request, it doesn't expect a response anymore.
	if ctx.Err() != nil {
		s.logger.Debug("discarding result of cancelled request", slog.String("requestID", msg.ID.String()))
		return
	}

	s.send(resMsg)
}

func (s *serverSession) callListTools(ctx context.Context, msg JSONRPCMessage) (ListToolsResult, error) {
	if s.toolServer == nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params ListToolsParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return ListToolsResult{}, JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
			}
		}
	}

	ts, err := s.toolServer.ListTools(ctx, params)
	if err != nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to list tools: %w", err).Error(),
		}
	}

	return ts, nil
}

func (s *serverSession) callCallTool(ctx context.Context, msg JSONRPCMessage) (CallToolResult, error) {
	if s.toolServer == nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}
	if params.Name == "" {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: "missing tool name",
		}
	}

	result, err := s.toolServer.CallTool(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to call tool: %w", err).Error(),
		}
	}

	return result, nil
}

func (s *serverSession) progressReporter(token RequestID) ProgressReporter {
	return func(params ProgressParams) {
		// Progress is only reported when the client asked for it.
		if token.IsZero() {
			return
		}
		params.ProgressToken = token

		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal progress params", "err", err)
			return
		}

		s.send(JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsProgress,
			Params:  paramsBs,
		})
	}
}

func (s *serverSession) sendError(id RequestID, jsonErr JSONRPCError) {
	s.send(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &jsonErr,
	})
}

func (s *serverSession) send(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	err := s.session.Send(ctx, msg)
	if errors.Is(err, errSessionClosed) {
		s.logger.Debug("discarding message, client is gone",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID.String()))
		return
	}
	if err != nil {
		s.logger.Error("failed to send message",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID.String()),
			slog.String("err", err.Error()))
	}
}
