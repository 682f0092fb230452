package handlers

// Error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeNotImplemented   = "not_implemented"
	ErrCodeUnavailable      = "roster_unavailable"
	ErrCodeInternal         = "internal_error"

	// Promo-bot specific:
	ErrCodeInvalidPhone   = "invalid_phone"
	ErrCodeLookupFailed   = "lookup_failed"
	ErrCodeListFailed     = "list_failed"
	ErrCodeReminderFailed = "reminder_failed"
	ErrCodeCreateFailed   = "create_failed"
	ErrCodeStatsFailed    = "stats_failed"
	ErrCodeDedupFailed    = "dedup_failed"
)
