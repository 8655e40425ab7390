package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/model"
)

// Request is a client request. Value is empty for GET and DELETE.
type Request struct {
	Operation model.Operation `json:"operation"`
	Key       string          `json:"key"`
	Value     string          `json:"value"`
}

// Response answers exactly one Request
type Response struct {
	Status model.StatusType `json:"status"`
	Key    string           `json:"key"`
	Value  string           `json:"value"`
}

// IsBlank reports whether a frame carries nothing but whitespace, which
// ends the connection
func IsBlank(frame []byte) bool {
	return len(bytes.TrimSpace(frame)) == 0
}

// DecodeRequest parses a request frame. Leading and trailing whitespace,
// including the carriage return left by the previous terminator, is
// ignored.
func DecodeRequest(frame []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(bytes.TrimSpace(frame), &req); err != nil {
		return nil, errors.MalformedFrame(err)
	}
	if !req.Operation.Valid() {
		return &req, errors.MalformedFrame(fmt.Errorf("unknown operation %q", req.Operation))
	}
	return &req, nil
}

// DecodeResponse parses a response frame
func DecodeResponse(frame []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(frame), &resp); err != nil {
		return nil, errors.MalformedFrame(err)
	}
	return &resp, nil
}

// Encode marshals a request without the frame terminator
func (r *Request) Encode() ([]byte, error) {
	return encode(r)
}

// Encode marshals a response without the frame terminator
func (r *Response) Encode() ([]byte, error) {
	return encode(r)
}

// encode writes v as compact JSON. HTML characters stay literal so a frame
// is never inflated past the drop threshold by escaping.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
