package customerrors

import (
	"errors"
	"fmt"
)

type ErrorHttpResponse struct {
	code int
	msg  string
}

func (e ErrorHttpResponse) Error() string {
	return fmt.Sprintf("HTTP Response Error: %d - %s", e.code, e.msg)
}

func (e ErrorHttpResponse) Code() int {
	return e.code
}

// Is matches on the status code only, so a response built with a custom message
// still satisfies errors.Is against the predefined values.
func (e ErrorHttpResponse) Is(target error) bool {
	var other ErrorHttpResponse
	if !errors.As(target, &other) {
		return false
	}
	return other.code == e.code
}

var (
	ErrorUnauthorized  = ErrorHttpResponse{401, "Unauthorized"}
	ErrorNotFound      = ErrorHttpResponse{404, "Not Found"}
	ErrorUnprocessable = ErrorHttpResponse{422, "Unprocessable Entity"}
	ErrorRateLimit     = ErrorHttpResponse{429, "Rate Limit Exceeded"}
)

func InferHttpError(code int) error {
	switch code {
	case 401:
		return ErrorUnauthorized
	case 404:
		return ErrorNotFound
	case 422:
		return ErrorUnprocessable
	case 429:
		return ErrorRateLimit
	default:
		if code >= 500 {
			return ErrorHttpResponse{code, "server error"}
		}
		return ErrorHttpResponse{code, "unexpected response status code"}
	}
}

func MakeErrorHttpResponse(code int, msg string) error {
	return ErrorHttpResponse{code, msg}
}
