package apperrors

// Error codes - organized by domain

// API key authentication errors (AUTH_*)
const (
	ErrCodeMissingAPIKey = "AUTH_MISSING_API_KEY"
	ErrCodeInvalidAPIKey = "AUTH_INVALID_API_KEY"
	ErrCodeAPIKeyExpired = "AUTH_API_KEY_EXPIRED"
	ErrCodeTokenInvalid  = "AUTH_TOKEN_INVALID"
	ErrCodeTokenExpired  = "AUTH_TOKEN_EXPIRED"
	ErrCodeBadLogin      = "AUTH_INVALID_CREDENTIALS"
)

// Authorization errors (AUTHZ_*)
const (
	ErrCodeForbidden              = "AUTHZ_FORBIDDEN"
	ErrCodeInsufficientPermission = "AUTHZ_INSUFFICIENT_PERMISSION"
)

// Validation errors (VALIDATION_*)
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInvalidPage      = "VALIDATION_INVALID_PAGE"
	ErrCodeInvalidLimit     = "VALIDATION_INVALID_LIMIT"
	ErrCodeInvalidSort      = "VALIDATION_INVALID_SORT"
	ErrCodeInvalidInput     = "VALIDATION_INVALID_INPUT"
	ErrCodeMissingField     = "VALIDATION_MISSING_FIELD"
)

// Resource errors (RESOURCE_*)
const (
	ErrCodeWidgetNotFound   = "RESOURCE_WIDGET_NOT_FOUND"
	ErrCodeWebsiteNotFound  = "RESOURCE_WEBSITE_NOT_FOUND"
	ErrCodeAPIKeyNotFound   = "RESOURCE_API_KEY_NOT_FOUND"
	ErrCodeContentNotFound  = "RESOURCE_CONTENT_NOT_FOUND"
	ErrCodeBrandingNotFound = "RESOURCE_BRANDING_NOT_FOUND"
)

// Rate limiting errors (RATE_*)
const (
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeRateLimitUnavailable = "RATE_LIMIT_STORE_UNAVAILABLE"
)

// Internal errors (INTERNAL_*)
const (
	ErrCodeDatabaseError   = "INTERNAL_DATABASE_ERROR"
	ErrCodeCacheError      = "INTERNAL_CACHE_ERROR"
	ErrCodeRenderFailed    = "INTERNAL_RENDER_FAILED"
	ErrCodeQueryTimeout    = "INTERNAL_QUERY_TIMEOUT"
	ErrCodeUnexpectedError = "INTERNAL_UNEXPECTED_ERROR"
)
