package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter        ErrorCode = 100
	ErrCodeInvalidConfiguration    ErrorCode = 101
	ErrCodeInvalidAllocation       ErrorCode = 102
	ErrCodeInvalidCorrelationBound ErrorCode = 103
	ErrCodeInvalidTimeframe        ErrorCode = 104
	ErrCodeMissingParameter        ErrorCode = 105

	// Data errors (200-299)
	ErrCodeDataNotFound           ErrorCode = 200
	ErrCodeDataParseFailed        ErrorCode = 201
	ErrCodeNonMonotonicTimestamps ErrorCode = 202
	ErrCodeEmptySeries            ErrorCode = 203
	ErrCodeUnknownColumn          ErrorCode = 204

	// Strategy errors (400-499)
	ErrCodeStrategyNotFound      ErrorCode = 400
	ErrCodeStrategyAlreadyExists ErrorCode = 401
	ErrCodeFeatureDataFailed     ErrorCode = 402

	// Portfolio errors (500-599)
	ErrCodePositionNotFound ErrorCode = 500
	ErrCodeUnknownAsset     ErrorCode = 501
	ErrCodeUnknownStrategy  ErrorCode = 502

	// Backtest errors (600-699)
	ErrCodeBacktestNoStrategies ErrorCode = 600
	ErrCodeBacktestNoData       ErrorCode = 601
	ErrCodeBacktestConfigError  ErrorCode = 602
	ErrCodeBacktestNotPrepared  ErrorCode = 603

	// Result errors (700-799)
	ErrCodeResultWriteFailed ErrorCode = 700
)
