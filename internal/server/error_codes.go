package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument  = 1000
	ErrCodeInvalidJSON      = 1001
	ErrCodeRequestTooLarge  = 1002
	ErrCodeInvalidQuery     = 1003
	ErrCodeInvalidID        = 1004
	ErrCodeInvalidChecksum  = 1005
	ErrCodeInvalidType      = 1006
	ErrCodeMissingRequired  = 1009
	ErrCodeInvalidMultipart = 1010

	// Domain state (2xxx)
	ErrCodeFileNotFound     = 2001
	ErrCodeBlobNotFound     = 2002
	ErrCodeChecksumMismatch = 2101
	ErrCodeConflict         = 2102
	ErrCodeLockTimeout      = 2103

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal       = 4001
	ErrCodeStoreFailure   = 4002
	ErrCodeStorageFailure = 4003
	ErrCodeNotImplemented = 4005
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeFileNotFound
	case 409:
		return ErrCodeConflict
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 501:
		return ErrCodeNotImplemented
	case 503:
		return ErrCodeLockTimeout
	default:
		return 0
	}
}
