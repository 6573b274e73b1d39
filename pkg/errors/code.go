package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20099: Filter compilation errors
// 20100-20199: Transaction errors
// 20200-20299: Repository errors

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
	ForeignKeyViolation ErrorCode = 10104

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Query & Repository Errors (20000-20999) ==========

	// Filter compilation (20000-20099)
	InvalidFilter   ErrorCode = 20000
	UnknownOperator ErrorCode = 20001
	UnknownRelation ErrorCode = 20002
	InvalidOperand  ErrorCode = 20003
	UnknownEntity   ErrorCode = 20004

	// Transactions (20100-20199)
	InactiveTransaction ErrorCode = 20100

	// Repository (20200-20299)
	OperationNotAllowed ErrorCode = 20200
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
	ForeignKeyViolation: "Referenced record does not exist",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Filter compilation
	InvalidFilter:   "Invalid filter",
	UnknownOperator: "Unknown filter operator",
	UnknownRelation: "Unknown relation",
	InvalidOperand:  "Invalid operator operand",
	UnknownEntity:   "Unknown entity",

	// Transactions
	InactiveTransaction: "Transaction is no longer active",

	// Repository
	OperationNotAllowed: "Operation not allowed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Error lets an ErrorCode act as an errors.Is target.
func (c ErrorCode) Error() string {
	return c.Message()
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == OperationNotAllowed:
		return 403
	case c == NotFound, c == RecordNotFound, c == UnknownEntity:
		return 404
	case c == RecordAlreadyExists:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c >= 20000 && c < 20100: // Filter compilation errors
		return 400
	case c == InvalidParams, c == ForeignKeyViolation:
		return 400
	case c == InactiveTransaction:
		return 409
	default:
		return 500
	}
}
