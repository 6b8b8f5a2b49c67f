// Package errors provides standardized error codes for the bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (sandbox, file, process, ...)
//   - error: The specific error type within that domain
//
// Codes are stable and travel to the backend alongside a human-readable
// message, so the panel can branch on the code and show the message.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Connection domain - socket lifecycle errors. Never fatal, they drive reconnects.
	CodeConnectionInvalidEndpoint = "connection.invalid_endpoint" // Endpoint URL cannot be parsed
	CodeConnectionDialFailed      = "connection.dial_failed"      // Dial or handshake failed
	CodeConnectionClosed          = "connection.closed"           // Connection closed by peer
	CodeConnectionNotOpen         = "connection.not_open"         // Send attempted while not open

	// Protocol domain - envelope and dispatch errors
	CodeProtocolMalformedFrame = "protocol.malformed_frame" // Frame is not a JSON envelope
	CodeProtocolUnknownEvent   = "protocol.unknown_event"   // No handler registered for event
	CodeProtocolInvalidPayload = "protocol.invalid_payload" // Payload failed schema validation
	CodeProtocolHandlerFailed  = "protocol.handler_failed"  // Handler returned an error or panicked
	CodeProtocolRateLimited    = "protocol.rate_limited"    // Too many commands per second

	// Sandbox domain - path containment
	CodeSandboxPathEscapesRoot = "sandbox.path_escapes_root" // Path resolves outside the root

	// File domain - file manager actions
	CodeFileNotFound          = "file.not_found"          // Target does not exist
	CodeFileNotDirectory      = "file.not_directory"      // Listing target is a file
	CodeFileIsDirectory       = "file.is_directory"       // File operation on a directory
	CodeFileInvalidUTF8       = "file.invalid_utf8"       // Content is not UTF-8 text
	CodeFileUnsupportedFormat = "file.unsupported_format" // Editing compressed files
	CodeFileBadEncoding       = "file.bad_encoding"       // Base64 content failed to decode
	CodeFileIsRoot            = "file.is_root"            // Delete targeted the server root
	CodeFileTooLarge          = "file.too_large"          // File exceeds the read cap
	CodeFileUnsupportedAction = "file.unsupported_action" // Unknown file manager action
	CodeFileIOFailed          = "file.io_failed"          // Underlying filesystem error

	// Process domain - embedded backend lifecycle. Fatal to the embedded backend feature.
	CodeProcessUnsupportedPlatform = "process.unsupported_platform" // No binary for this os/arch
	CodeProcessBinaryMissing       = "process.binary_missing"       // Bundled binary not found
	CodeProcessStageFailed         = "process.stage_failed"         // Copying the binary failed
	CodeProcessChmodFailed         = "process.chmod_failed"         // Execute bit could not be set
	CodeProcessSpawnFailed         = "process.spawn_failed"         // exec failed

	// Permission domain - permission provider bridge
	CodePermissionUnavailable    = "permission.unavailable"     // No provider is installed
	CodePermissionInvalidRequest = "permission.invalid_request" // Missing player or node

	// Auth domain - panel login tokens
	CodeAuthDenied         = "auth.denied"          // Player may not open the panel
	CodeAuthBackendOffline = "auth.backend_offline" // No live backend connection
	CodeAuthSendFailed     = "auth.send_failed"     // Token could not be delivered
	CodeAuthTokenInvalid   = "auth.token_invalid"   // Token unknown or expired

	// Storage domain - database and persistence errors
	CodeStorageNotFound    = "storage.not_found"    // Record not found
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain
	CodeConfigInvalid = "config.invalid" // Config file could not be parsed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "file.not_found")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to protocol responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors. The messages are what the panel displays, so
// they stay short and lower case.

// PathEscapesRoot creates a "sandbox.path_escapes_root" error.
func PathEscapesRoot(path string) *CodedError {
	return New(CodeSandboxPathEscapesRoot, "path escapes root")
}

// NotFound creates a "file.not_found" error.
func NotFound(path string) *CodedError {
	return New(CodeFileNotFound, "file or directory not found")
}

// NotDirectory creates a "file.not_directory" error.
func NotDirectory(path string) *CodedError {
	return New(CodeFileNotDirectory, "path is not a directory")
}

// IsDirectory creates a "file.is_directory" error.
func IsDirectory(path string) *CodedError {
	return New(CodeFileIsDirectory, "path is a directory")
}

// InvalidUTF8 creates a "file.invalid_utf8" error.
func InvalidUTF8(path string) *CodedError {
	return New(CodeFileInvalidUTF8, "file is not valid UTF-8 and cannot be edited in the text editor")
}

// UnsupportedFormat creates a "file.unsupported_format" error.
func UnsupportedFormat(path string) *CodedError {
	return New(CodeFileUnsupportedFormat, "editing .gz files is not supported")
}

// BadEncoding creates a "file.bad_encoding" error.
func BadEncoding(cause error) *CodedError {
	return Wrap(CodeFileBadEncoding, "content is not valid base64", cause)
}

// IsRoot creates a "file.is_root" error.
// The server root can never be deleted through the file manager.
func IsRoot() *CodedError {
	return New(CodeFileIsRoot, "cannot delete server root directory")
}

// TooLarge creates a "file.too_large" error.
func TooLarge(size, limit int64) *CodedError {
	return New(CodeFileTooLarge, fmt.Sprintf("file is too large to open (%d bytes, limit %d)", size, limit))
}

// UnsupportedAction creates a "file.unsupported_action" error.
func UnsupportedAction(action string) *CodedError {
	return New(CodeFileUnsupportedAction, fmt.Sprintf("unsupported action: %s", action))
}

// IOFailed creates a "file.io_failed" error.
func IOFailed(op string, cause error) *CodedError {
	return Wrap(CodeFileIOFailed, fmt.Sprintf("%s failed", op), cause)
}

// UnsupportedPlatform creates a "process.unsupported_platform" error.
func UnsupportedPlatform(goos, goarch string) *CodedError {
	return New(CodeProcessUnsupportedPlatform, fmt.Sprintf("no embedded backend for %s/%s", goos, goarch))
}

// BinaryMissing creates a "process.binary_missing" error.
func BinaryMissing(name string, cause error) *CodedError {
	return Wrap(CodeProcessBinaryMissing, fmt.Sprintf("embedded backend %s not found", name), cause)
}

// StageFailed creates a "process.stage_failed" error.
func StageFailed(target string, cause error) *CodedError {
	return Wrap(CodeProcessStageFailed, fmt.Sprintf("failed to stage backend to %s", target), cause)
}

// ChmodFailed creates a "process.chmod_failed" error.
func ChmodFailed(target string, cause error) *CodedError {
	return Wrap(CodeProcessChmodFailed, fmt.Sprintf("backend %s is not executable", target), cause)
}

// SpawnFailed creates a "process.spawn_failed" error.
func SpawnFailed(target string, cause error) *CodedError {
	return Wrap(CodeProcessSpawnFailed, fmt.Sprintf("failed to start backend %s", target), cause)
}

// InvalidEndpoint creates a "connection.invalid_endpoint" error.
func InvalidEndpoint(endpoint string, cause error) *CodedError {
	return Wrap(CodeConnectionInvalidEndpoint, fmt.Sprintf("invalid websocket url %q", endpoint), cause)
}

// DialFailed creates a "connection.dial_failed" error.
func DialFailed(endpoint string, cause error) *CodedError {
	return Wrap(CodeConnectionDialFailed, fmt.Sprintf("could not connect to %s", endpoint), cause)
}

// NotOpen creates a "connection.not_open" error.
func NotOpen() *CodedError {
	return New(CodeConnectionNotOpen, "connection is not open")
}

// InvalidPayload creates a "protocol.invalid_payload" error.
func InvalidPayload(reason string) *CodedError {
	return New(CodeProtocolInvalidPayload, reason)
}

// HandlerFailed creates a "protocol.handler_failed" error.
func HandlerFailed(event string, cause error) *CodedError {
	return Wrap(CodeProtocolHandlerFailed, fmt.Sprintf("%s handler failed", event), cause)
}

// BackendOffline creates an "auth.backend_offline" error.
func BackendOffline() *CodedError {
	return New(CodeAuthBackendOffline, "Beacon backend is offline. Try again in a few seconds.")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
