package outreach

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/go-mcp-outreach/servers/outreach/upstream"
)

const defaultBinaryContentType = "application/octet-stream"

type emptySuccess struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// formatResult renders a successful upstream result as the text of a content block:
// JSON is pretty-printed keeping the upstream key order, binary payloads become a base64
// data URL, and empty responses a small success object.
func formatResult(res upstream.Result) (string, error) {
	switch res.Kind {
	case upstream.ResultJSON:
		var buf bytes.Buffer
		if err := json.Indent(&buf, res.JSON, "", "  "); err != nil {
			return "", fmt.Errorf("failed to format response: %w", err)
		}
		return buf.String(), nil
	case upstream.ResultBinary:
		return dataURL(res), nil
	default:
		return marshalText(emptySuccess{Success: true, Status: res.StatusCode})
	}
}

// resultJSON returns a result as a JSON value, for tools aggregating several responses.
func resultJSON(res upstream.Result) (json.RawMessage, error) {
	switch res.Kind {
	case upstream.ResultJSON:
		return res.JSON, nil
	case upstream.ResultBinary:
		return json.Marshal(dataURL(res))
	default:
		return json.Marshal(emptySuccess{Success: true, Status: res.StatusCode})
	}
}

func dataURL(res upstream.Result) string {
	contentType := strings.ReplaceAll(res.ContentType, " ", "")
	if contentType == "" {
		contentType = defaultBinaryContentType
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(res.Data)
}

// marshalText pretty-prints v without escaping HTML, email bodies are full of it.
func marshalText(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to format result: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
