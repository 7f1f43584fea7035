package errors

import (
	"errors"
	"net/http"
)

var statusByCode = map[Code]int{
	CodeNotFound:         http.StatusNotFound,
	CodeUnavailable:      http.StatusServiceUnavailable,
	CodeFunctionError:    http.StatusInternalServerError,
	CodeDeadlineExceeded: http.StatusGatewayTimeout,
	CodeBadResponse:      http.StatusBadGateway,
}

var publicMessages = map[Code]string{
	CodeNotFound:         "function not found",
	CodeUnavailable:      "function unavailable",
	CodeFunctionError:    "function error",
	CodeDeadlineExceeded: "function deadline exceeded",
	CodeBadResponse:      "function returned an invalid response",
}

// StatusCode maps an invocation outcome to the HTTP status the edge returns.
// Anything that is not an invocation outcome is an internal error.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var de *DomainError
	if errors.As(err, &de) && de.ErrDomain == DomainInvoke {
		if status, ok := statusByCode[de.ErrCode]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message safe to show to callers. Causes and artifact
// output never leak through it.
func PublicMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) && de.ErrDomain == DomainInvoke {
		if msg, ok := publicMessages[de.ErrCode]; ok {
			return msg
		}
	}
	return "internal error"
}

// PublicCode is the outcome code exposed to callers.
func PublicCode(err error) Code {
	var de *DomainError
	if errors.As(err, &de) && de.ErrDomain == DomainInvoke {
		return de.ErrCode
	}
	return CodeInternalError
}
