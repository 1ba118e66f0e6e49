package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so sentinel
// comparisons survive wrapping with extra context.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

var (
	ErrUnauthorized   = New(CodeUnauthorized, "Unauthorized")
	ErrInvalidRequest = New(CodeInvalidRequest, "Error in request")
	ErrNotFound       = New(CodeNotFound, "Not found")
	ErrConflict       = New(CodeConflict, "Exists")
	ErrCryptoFailure  = New(CodeCryptoFailure, "Error decoding")
)

// CodeOf returns the code of the first AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the fixed status the relay answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus is the inverse of HTTPStatus, used by clients of the relay.
func FromStatus(status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return Wrap(CodeUnauthorized, "Unauthorized", errors.New(body))
	case http.StatusBadRequest:
		return Wrap(CodeInvalidRequest, "Error in request", errors.New(body))
	case http.StatusNotFound:
		return Wrap(CodeNotFound, "Not found", errors.New(body))
	case http.StatusConflict:
		return Wrap(CodeConflict, "Exists", errors.New(body))
	default:
		return Wrap(CodeInternal, fmt.Sprintf("unexpected status %d", status), errors.New(body))
	}
}

// Body is the plain-text response body for err.
func Body(err error) string {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeInvalidRequest:
		return "Error in request"
	case CodeNotFound:
		return "Not found"
	case CodeConflict:
		return "Exists"
	default:
		return "Internal server error"
	}
}
