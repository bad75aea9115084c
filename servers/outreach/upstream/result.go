package upstream

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// ResultKind tells which field of a Result holds the payload.
type ResultKind int

const (
	// ResultEmpty is a successful response without a body, e.g. 204 No Content.
	ResultEmpty ResultKind = iota
	// ResultJSON is a successful response with a JSON body, kept as raw bytes.
	ResultJSON
	// ResultBinary is a successful response with any other body, e.g. a CSV export.
	ResultBinary
)

// Result is a successful upstream response.
type Result struct {
	Kind        ResultKind
	StatusCode  int
	ContentType string
	// JSON holds the body of a ResultJSON, in the order the upstream sent it.
	JSON json.RawMessage
	// Data holds the body of a ResultBinary.
	Data []byte
}

func (k ResultKind) String() string {
	switch k {
	case ResultEmpty:
		return "empty"
	case ResultJSON:
		return "json"
	case ResultBinary:
		return "binary"
	default:
		return "unknown"
	}
}

func newResult(statusCode int, contentType string, body []byte) Result {
	res := Result{StatusCode: statusCode, ContentType: contentType}

	trimmed := bytes.TrimSpace(body)
	switch {
	case statusCode == http.StatusNoContent || len(trimmed) == 0:
		res.Kind = ResultEmpty
	case json.Valid(trimmed):
		res.Kind = ResultJSON
		res.JSON = json.RawMessage(trimmed)
	default:
		res.Kind = ResultBinary
		res.Data = body
	}

	return res
}

// reportsFailure reports whether a JSON body is an object flagging the call as failed with
// "success": false or "ok": false, which the upstream sometimes answers with a 2xx status.
func reportsFailure(body json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return false
	}
	for _, key := range []string{"success", "ok"} {
		v, ok := obj[key]
		if ok && string(bytes.TrimSpace(v)) == "false" {
			return true
		}
	}
	return false
}
