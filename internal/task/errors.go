package task

// Stable error codes recorded in execution history. They are logged, never
// shown to end users.
const (
	CodeUnhandled          = "UNHANDLED"
	CodePasteNotFound      = "PASTE_NOT_FOUND"
	CodePullFileChunk      = "PULL_FILE_CHUNK_FAILED"
	CodePullFileResolve    = "PULL_FILE_RESOLVE_HOST"
	CodePullFileLocalIO    = "PULL_FILE_LOCAL_IO"
	CodePullIcon           = "PULL_ICON_FAILED"
	CodeSyncPush           = "SYNC_PUSH_FAILED"
	CodeCleanup            = "CLEANUP_FAILED"
	CodeShutdown           = "SHUTDOWN"
)

// Error wraps executor failures with a stable code
type Error struct {
	Code    string // Error code
	Message string // Error message
	Err     error  // Original error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
