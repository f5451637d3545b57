package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for router operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument  ErrorCode = 1000
	ErrCodeInvalidTenant    ErrorCode = 1001
	ErrCodeUnauthenticated  ErrorCode = 1002
	ErrCodeForbidden        ErrorCode = 1003
	ErrCodeMalformedMessage ErrorCode = 1004
	ErrCodeStaleHeartbeat   ErrorCode = 1005
	ErrCodeConnectionClosed ErrorCode = 1006
	ErrCodeNotFound         ErrorCode = 1007

	// Server errors (5xx equivalent)
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeStorageUnavailable ErrorCode = 2001
	ErrCodeConnectTimeout     ErrorCode = 2002
)

// String returns the wire name of the error code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeInvalidTenant:
		return "INVALID_TENANT"
	case ErrCodeUnauthenticated:
		return "UNAUTHENTICATED"
	case ErrCodeForbidden:
		return "FORBIDDEN"
	case ErrCodeMalformedMessage:
		return "MALFORMED_MESSAGE"
	case ErrCodeStaleHeartbeat:
		return "STALE_HEARTBEAT"
	case ErrCodeConnectionClosed:
		return "CONNECTION_CLOSED"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeStorageUnavailable:
		return "STORAGE_UNAVAILABLE"
	case ErrCodeConnectTimeout:
		return "CONNECT_TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// RouterError represents a structured error with code and context
type RouterError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *RouterError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidTenant, ErrCodeMalformedMessage:
		return http.StatusBadRequest
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeStaleHeartbeat, ErrCodeConnectionClosed:
		return http.StatusConflict
	case ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeConnectTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewRouterError creates a new RouterError
func NewRouterError(code ErrorCode, message string, cause error) *RouterError {
	return &RouterError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *RouterError) WithDetail(key string, value interface{}) *RouterError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *RouterError {
	return NewRouterError(ErrCodeInvalidArgument, message, cause)
}

func InvalidTenant(tenantID, reason string) *RouterError {
	return NewRouterError(ErrCodeInvalidTenant, fmt.Sprintf("invalid tenant '%s': %s", tenantID, reason), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("reason", reason)
}

func Unauthenticated(reason string) *RouterError {
	return NewRouterError(ErrCodeUnauthenticated, fmt.Sprintf("unauthenticated: %s", reason), nil).
		WithDetail("reason", reason)
}

func Forbidden(principalID, action, tenantID string) *RouterError {
	return NewRouterError(ErrCodeForbidden, fmt.Sprintf("principal '%s' denied action '%s' on tenant '%s'", principalID, action, tenantID), nil).
		WithDetail("principal_id", principalID).
		WithDetail("action", action).
		WithDetail("tenant_id", tenantID)
}

func MalformedMessage(reason string, cause error) *RouterError {
	return NewRouterError(ErrCodeMalformedMessage, fmt.Sprintf("malformed message: %s", reason), cause)
}

func StaleHeartbeat(peerID string) *RouterError {
	return NewRouterError(ErrCodeStaleHeartbeat, fmt.Sprintf("stale heartbeat for peer '%s'", peerID), nil).
		WithDetail("peer_id", peerID)
}

func ConnectionClosed(connectionID string) *RouterError {
	return NewRouterError(ErrCodeConnectionClosed, fmt.Sprintf("connection '%s' is closed", connectionID), nil).
		WithDetail("connection_id", connectionID)
}

func NotFound(resource, id string) *RouterError {
	return NewRouterError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func StorageUnavailable(message string, cause error) *RouterError {
	return NewRouterError(ErrCodeStorageUnavailable, message, cause)
}

func ConnectTimeout(tenantID string) *RouterError {
	return NewRouterError(ErrCodeConnectTimeout, fmt.Sprintf("connect to tenant '%s' timed out", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

func InternalError(message string, cause error) *RouterError {
	return NewRouterError(ErrCodeInternal, message, cause)
}

// IsRouterError checks if an error is a RouterError
func IsRouterError(err error) bool {
	var re *RouterError
	return errors.As(err, &re)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}
