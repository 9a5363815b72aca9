package allauth

import (
	"encoding/json"

	"github.com/jrsteele09/go-auth-client/autherr"
)

var _ autherr.Shaper = (*ResponseError)(nil)

const defaultErrorMessage = "allauth API request failed"

// ResponseError is returned for every non-2xx response. Body holds the full
// decoded JSON so the normalizer can pull structured fields out of it.
type ResponseError struct {
	Status  int
	Message string
	Body    map[string]any

	raw []byte
}

func newResponseError(status int, raw []byte) *ResponseError {
	re := &ResponseError{Status: status, Message: defaultErrorMessage, raw: raw}
	if len(raw) > 0 {
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err == nil {
			re.Body = body
		}
	}
	var envelope Response
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if errs := envelope.AllErrors(); len(errs) > 0 && errs[0].Message != "" {
			re.Message = errs[0].Message
		}
	}
	return re
}

func (e *ResponseError) Error() string {
	return e.Message
}

// Shape merges the HTTP status into the body. A status carried by the body
// itself takes precedence.
func (e *ResponseError) Shape() map[string]any {
	shape := map[string]any{"status": e.Status}
	for k, v := range e.Body {
		shape[k] = v
	}
	return shape
}

// Envelope decodes the error body as a regular response, which allauth also
// uses for failures that still carry a partial user.
func (e *ResponseError) Envelope() *Response {
	var envelope Response
	if len(e.raw) > 0 {
		_ = json.Unmarshal(e.raw, &envelope)
	}
	envelope.Status = e.Status
	return &envelope
}
