package errors

import (
	"encoding/json"
)

// ErrorResponse is the serialized form of an Error. The host sends it to the
// guest when a request fails. Only the text of the cause chain is carried,
// folded into Message.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ToResponse converts any error into an ErrorResponse.
// Returns nil if err is nil. Plain errors use CodeUnknown and their text.
func ToResponse(err error) *ErrorResponse {
	if err == nil {
		return nil
	}

	var e Error
	if As(err, &e) {
		message := e.Message()
		if cause := e.Unwrap(); cause != nil {
			message = message + ": " + cause.Error()
		}
		return &ErrorResponse{
			Code:    string(e.Code()),
			Message: message,
			Context: e.Context(),
		}
	}

	return &ErrorResponse{
		Code:    string(CodeUnknown),
		Message: err.Error(),
	}
}

// FromResponse rebuilds an Error from its serialized form. The code and
// context are preserved; the original cause is folded into the message.
// Returns nil if resp is nil.
func FromResponse(resp *ErrorResponse) Error {
	if resp == nil {
		return nil
	}
	code := ErrorCode(resp.Code)
	if code == "" {
		code = CodeUnknown
	}
	return &sessionError{
		code:    code,
		message: resp.Message,
		context: copyContext(resp.Context),
	}
}

// MarshalJSON lets an Error be embedded directly in JSON payloads.
func (e *sessionError) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(ToResponse(e))
	if err != nil {
		return nil, &sessionError{
			code:    CodeInternal,
			message: "failed to marshal error response",
			cause:   err,
		}
	}
	return data, nil
}
