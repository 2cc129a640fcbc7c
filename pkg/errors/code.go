package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 17000-17999: Sandbox provisioning errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Sandbox Provisioning Errors (17000-17999) ==========

	// Provisioning (17000-17099)
	PortExhaustion      ErrorCode = 17000
	ImageNotFound       ErrorCode = 17001
	BuildFailure        ErrorCode = 17002
	NameCollision       ErrorCode = 17003
	EngineUnavailable   ErrorCode = 17004
	SandboxNotFound     ErrorCode = 17005
	ProvisionInProgress ErrorCode = 17006

	// Build archives (17100-17199)
	ArchiveInvalid     ErrorCode = 17100
	ArchiveNotFound    ErrorCode = 17101
	ArchiveUploadError ErrorCode = 17102
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Sandbox - Provisioning
	PortExhaustion:      "No free host port is available",
	ImageNotFound:       "Problem image has not been built",
	BuildFailure:        "Problem image build failed",
	NameCollision:       "Sandbox already exists for this user and problem",
	EngineUnavailable:   "Container engine or storage is unavailable",
	SandboxNotFound:     "Sandbox not found",
	ProvisionInProgress: "Sandbox provisioning is already in progress",

	// Sandbox - Archives
	ArchiveInvalid:     "Invalid build archive",
	ArchiveNotFound:    "Build archive not found",
	ArchiveUploadError: "Failed to upload build archive",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Retryable reports whether the caller may retry the same request later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case PortExhaustion, EngineUnavailable, ProvisionInProgress, ServiceUnavailable, Timeout, TooManyRequests:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SandboxNotFound, c == ArchiveNotFound:
		return 404
	case c == NameCollision, c == ProvisionInProgress:
		return 409
	case c == ImageNotFound:
		return 412
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == EngineUnavailable, c == PortExhaustion:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == ArchiveInvalid:
		return 400
	default:
		return 500
	}
}
