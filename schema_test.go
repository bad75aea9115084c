package mcp_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcp "github.com/MegaGrindStone/go-mcp-outreach"
)

func TestRequestIDRoundTrip(t *testing.T) {
	type testCase struct {
		name string
		id   string
	}

	testCases := []testCase{
		{name: "integer", id: `7`},
		{name: "numeric string", id: `"7"`},
		{name: "string", id: `"req-1"`},
		{name: "empty string", id: `""`},
		{name: "negative", id: `-3`},
		{name: "beyond int64", id: `12345678901234567890`},
		{name: "fraction", id: `1.5`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg mcp.JSONRPCMessage
			in := `{"jsonrpc":"2.0","id":` + tc.id + `,"method":"ping"}`
			if err := json.Unmarshal([]byte(in), &msg); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if msg.ID.IsZero() {
				t.Fatal("expected id to be set")
			}

			out, err := json.Marshal(mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, ID: msg.ID})
			if err != nil {
				t.Fatalf("failed to marshal: %v", err)
			}
			if want := `"id":` + tc.id; !strings.Contains(string(out), want) {
				t.Errorf("expected %s in %s", want, out)
			}
		})
	}
}

func TestRequestIDKeepsType(t *testing.T) {
	if mcp.NumberID(7) == mcp.StringID("7") {
		t.Error("expected number and string ids to differ")
	}

	var number, str mcp.RequestID
	if err := json.Unmarshal([]byte(`7`), &number); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(`"7"`), &str); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if number != mcp.NumberID(7) {
		t.Errorf("expected number id 7, got %v", number)
	}
	if str != mcp.StringID("7") {
		t.Errorf("expected string id 7, got %v", str)
	}
}

func TestRequestIDAbsentOrInvalid(t *testing.T) {
	var msg mcp.JSONRPCMessage
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`), &msg); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if !msg.ID.IsZero() {
		t.Errorf("expected null id to be absent, got %v", msg.ID)
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if strings.Contains(string(out), `"id"`) {
		t.Errorf("expected no id in notification, got %s", out)
	}

	for _, id := range []string{`{"k":1}`, `[1]`, `true`} {
		var bad mcp.JSONRPCMessage
		if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":`+id+`,"method":"ping"}`), &bad); err == nil {
			t.Errorf("expected error for id %s", id)
		}
	}
}

func TestJSONRPCErrorIsError(t *testing.T) {
	var err error = mcp.JSONRPCError{Code: -32601, Message: "method \"x\" not found"}

	var jsonErr mcp.JSONRPCError
	if !errors.As(err, &jsonErr) {
		t.Fatal("expected JSONRPCError")
	}
	if !strings.Contains(err.Error(), "-32601") {
		t.Errorf("expected code in message, got %s", err.Error())
	}
}
