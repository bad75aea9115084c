package mcp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tmaxmax/go-sse"

	mcp "github.com/MegaGrindStone/go-mcp-outreach"
)

const testTimeout = 5 * time.Second

type testClient interface {
	send(msg mcp.JSONRPCMessage) error
	messages() <-chan mcp.JSONRPCMessage
	close()
}

type testSuite struct {
	server     mcp.Server
	client     testClient
	httpServer *httptest.Server
	sseServer  mcp.SSEServer

	shutdownOnce sync.Once
	shutdownErr  error
}

type pipeClient struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	msgs   chan mcp.JSONRPCMessage
}

type sseClient struct {
	httpClient *http.Client
	messageURL string
	msgs       chan mcp.JSONRPCMessage
	cancel     context.CancelFunc
	readDone   chan struct{}
}

type mockToolServer struct {
	mu         sync.Mutex
	callParams []mcp.CallToolParams

	started   chan string
	release   chan struct{}
	cancelled chan error
}

func newMockToolServer() *mockToolServer {
	return &mockToolServer{
		started:   make(chan string, 10),
		release:   make(chan struct{}),
		cancelled: make(chan error, 10),
	}
}

func (m *mockToolServer) ListTools(context.Context, mcp.ListToolsParams) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{
		Tools: []mcp.Tool{
			{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "progress", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "slow", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "fail", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}, nil
}

func (m *mockToolServer) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	progress mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	m.mu.Lock()
	m.callParams = append(m.callParams, params)
	m.mu.Unlock()

	switch params.Name {
	case "echo":
		return textResult(string(params.Arguments)), nil
	case "progress":
		for i := 1; i <= 3; i++ {
			progress(mcp.ProgressParams{Progress: float64(i), Total: 3})
		}
		return textResult("done"), nil
	case "slow":
		m.started <- params.Name
		select {
		case <-m.release:
			return textResult("slow done"), nil
		case <-ctx.Done():
			m.cancelled <- ctx.Err()
			return mcp.CallToolResult{}, ctx.Err()
		}
	case "fail":
		return mcp.CallToolResult{}, errors.New("boom")
	default:
		return mcp.CallToolResult{
			Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: "unknown tool " + params.Name}},
			IsError: true,
		}, nil
	}
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}}}
}

func newTestSuite(t *testing.T, transportName string, options ...mcp.ServerOption) *testSuite {
	t.Helper()

	info := mcp.Info{Name: "test-server", Version: "1.0"}
	s := &testSuite{}

	switch transportName {
	case "StdIO":
		srvReader, cliWriter := io.Pipe()
		cliReader, srvWriter := io.Pipe()

		s.server = mcp.NewServer(info, mcp.NewStdIO(srvReader, srvWriter), options...)
		go s.server.Serve()

		s.client = newPipeClient(cliReader, cliWriter)
	case "SSE":
		mux := http.NewServeMux()
		s.httpServer = httptest.NewServer(mux)
		s.sseServer = mcp.NewSSEServer(s.httpServer.URL + "/message")
		mux.Handle("/sse", s.sseServer.HandleSSE())
		mux.Handle("/message", s.sseServer.HandleMessage())

		s.server = mcp.NewServer(info, s.sseServer, options...)
		go s.server.Serve()

		s.client = connectSSE(t, s.httpServer.Client(), s.httpServer.URL+"/sse")
	default:
		t.Fatalf("unknown transport %s", transportName)
	}

	t.Cleanup(s.teardown)

	return s
}

func (s *testSuite) shutdown() error {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		s.shutdownErr = s.server.Shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *testSuite) teardown() {
	_ = s.shutdown()
	s.client.close()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

func newPipeClient(reader *io.PipeReader, writer *io.PipeWriter) *pipeClient {
	c := &pipeClient{
		reader: reader,
		writer: writer,
		msgs:   make(chan mcp.JSONRPCMessage, 100),
	}

	go func() {
		defer close(c.msgs)

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			var msg mcp.JSONRPCMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			c.msgs <- msg
		}
	}()

	return c
}

func (c *pipeClient) send(msg mcp.JSONRPCMessage) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.sendRaw(append(bs, '\n'))
}

func (c *pipeClient) sendRaw(bs []byte) error {
	_, err := c.writer.Write(bs)
	return err
}

func (c *pipeClient) messages() <-chan mcp.JSONRPCMessage { return c.msgs }

func (c *pipeClient) close() {
	c.writer.Close()
	c.reader.Close()
}

func connectSSE(t *testing.T, httpClient *http.Client, connectURL string) *sseClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, connectURL, nil)
	if err != nil {
		cancel()
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("failed to connect: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	c := &sseClient{
		httpClient: httpClient,
		msgs:       make(chan mcp.JSONRPCMessage, 100),
		cancel:     cancel,
		readDone:   make(chan struct{}),
	}
	endpoints := make(chan string, 1)

	go func() {
		defer close(c.readDone)
		defer close(c.msgs)
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			switch ev.Type {
			case "endpoint":
				endpoints <- ev.Data
			case "message":
				var msg mcp.JSONRPCMessage
				if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
					continue
				}
				c.msgs <- msg
			}
		}
	}()

	select {
	case c.messageURL = <-endpoints:
	case <-time.After(testTimeout):
		cancel()
		t.Fatal("timeout waiting for endpoint event")
	}

	return c
}

func (c *sseClient) send(msg mcp.JSONRPCMessage) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	resp, err := c.post(bs)
	if err != nil {
		return err
	}
	if resp != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp)
	}
	return nil
}

func (c *sseClient) post(body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, c.messageURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (c *sseClient) messages() <-chan mcp.JSONRPCMessage { return c.msgs }

func (c *sseClient) close() {
	c.cancel()
	<-c.readDone
}

func mustSend(t *testing.T, c testClient, msg mcp.JSONRPCMessage) {
	t.Helper()
	if msg.JSONRPC == "" {
		msg.JSONRPC = mcp.JSONRPCVersion
	}
	if err := c.send(msg); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
}

// waitResponse returns the response with the given id. Notifications received before it are returned too.
func waitResponse(t *testing.T, c testClient, id mcp.RequestID) (mcp.JSONRPCMessage, []mcp.JSONRPCMessage) {
	t.Helper()

	var notifications []mcp.JSONRPCMessage
	timeout := time.After(testTimeout)
	for {
		select {
		case msg, ok := <-c.messages():
			if !ok {
				t.Fatalf("connection closed while waiting for response %s", id)
			}
			if msg.Method != "" && msg.ID.IsZero() {
				notifications = append(notifications, msg)
				continue
			}
			if msg.Method == "ping" {
				continue
			}
			if msg.ID != id {
				t.Fatalf("unexpected response id %q, want %q", msg.ID, id)
			}
			return msg, notifications
		case <-timeout:
			t.Fatalf("timeout waiting for response %s", id)
		}
	}
}

func request(t *testing.T, c testClient, id mcp.RequestID, method string, params any) mcp.JSONRPCMessage {
	t.Helper()

	msg := mcp.JSONRPCMessage{ID: id, Method: method}
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("failed to marshal params: %v", err)
		}
		msg.Params = bs
	}
	mustSend(t, c, msg)

	res, _ := waitResponse(t, c, id)
	return res
}

func initialize(t *testing.T, c testClient) {
	t.Helper()

	res := request(t, c, mcp.StringID("init"), "initialize", map[string]any{
		"protocolVersion": mcp.LatestProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	})
	if res.Error != nil {
		t.Fatalf("failed to initialize: %v", res.Error)
	}
	mustSend(t, c, mcp.JSONRPCMessage{Method: "notifications/initialized"})
}

func callTool(t *testing.T, c testClient, id mcp.RequestID, name string, args string) mcp.JSONRPCMessage {
	t.Helper()

	return request(t, c, id, mcp.MethodToolsCall, map[string]any{
		"name":      name,
		"arguments": json.RawMessage(args),
	})
}

func decodeResult[T any](t *testing.T, msg mcp.JSONRPCMessage) T {
	t.Helper()

	var v T
	if msg.Error != nil {
		t.Fatalf("unexpected error response: %v", msg.Error)
	}
	if err := json.Unmarshal(msg.Result, &v); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return v
}
