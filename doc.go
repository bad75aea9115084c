// Package mcp implements the tool surface of the Model Context Protocol (MCP) on top of JSON-RPC 2.0.
// It follows the specification from https://modelcontextprotocol.io/specification/.
//
// A Server binds a ToolServer to a ServerTransport. Two transports are provided: StdIO, a single
// newline-delimited session over a pipe, and SSEServer, one Server-Sent Events session per HTTP
// connection with client messages posted back to a message endpoint.
package mcp
