package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Account & Auth errors
// 12000-12999: Submission module errors
// 13000-13999: Run & Verification errors
// 14000-14999: Comparison & Report errors

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

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Storage errors (10300-10399)
	StorageError       ErrorCode = 10300
	ObjectNotFound     ErrorCode = 10301
	ObjectUploadFailed ErrorCode = 10302

	// Validation errors (10400-10499)
	ValidationFailed   ErrorCode = 10400
	InvalidFormat      ErrorCode = 10401
	InvalidValue       ErrorCode = 10402
	RequiredFieldEmpty ErrorCode = 10403

	// ========== Account & Auth Errors (11000-11999) ==========

	InvalidCredentials    ErrorCode = 11000
	UserNotFound          ErrorCode = 11001
	TokenExpired          ErrorCode = 11002
	TokenInvalid          ErrorCode = 11003
	TokenGenerationFailed ErrorCode = 11004
	LoginTooFrequently    ErrorCode = 11005

	// ========== Submission Module Errors (12000-12999) ==========

	SubmissionNotFound     ErrorCode = 12000
	SubmissionCreateFailed ErrorCode = 12001
	RecordingEmpty         ErrorCode = 12002
	RecordingTooLarge      ErrorCode = 12003
	DownloadFailed         ErrorCode = 12004

	// ========== Run & Verification Errors (13000-13999) ==========

	RunNotFound         ErrorCode = 13000
	RunCreateFailed     ErrorCode = 13001
	RunScoreConflict    ErrorCode = 13002
	UnknownPlatform     ErrorCode = 13003
	VerificationFailed  ErrorCode = 13004
	VerificationTimeout ErrorCode = 13005

	// ========== Comparison & Report Errors (14000-14999) ==========

	CompareFailed   ErrorCode = 14000
	InvalidOSLabel  ErrorCode = 14001
	InvalidOrdering ErrorCode = 14002
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

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",

	// Storage
	StorageError:       "Object storage operation failed",
	ObjectNotFound:     "Stored object not found",
	ObjectUploadFailed: "Failed to upload object",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Account & Auth
	InvalidCredentials:    "Invalid username or password",
	UserNotFound:          "User not found",
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Invalid token",
	TokenGenerationFailed: "Failed to generate token",
	LoginTooFrequently:    "Too many failed logins, please wait",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	RecordingEmpty:         "Recording file is empty",
	RecordingTooLarge:      "Recording file is too large",
	DownloadFailed:         "Failed to download recording",

	// Run & Verification
	RunNotFound:         "Run not found",
	RunCreateFailed:     "Failed to create run",
	RunScoreConflict:    "Need either score or error, but not both",
	UnknownPlatform:     "Unknown runner platform",
	VerificationFailed:  "Verification process failed",
	VerificationTimeout: "Verification process timed out",

	// Comparison & Report
	CompareFailed:   "Comparison query failed",
	InvalidOSLabel:  "Invalid OS label",
	InvalidOrdering: "Invalid ordering",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c >= 11000 && c < 11100: // Authentication errors
		return 401
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == UserNotFound, c == SubmissionNotFound, c == RunNotFound, c == ObjectNotFound:
		return 404
	case c == TooManyRequests, c == LoginTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10400 && c < 10500: // Validation errors
		return 400
	case c == InvalidParams, c == RunScoreConflict, c == RecordingEmpty, c == InvalidOSLabel, c == InvalidOrdering:
		return 400
	default:
		return 500
	}
}
