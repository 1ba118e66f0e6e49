package errs

type Code string

const (
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeCryptoFailure  Code = "CRYPTO_FAILURE"
	CodeInternal       Code = "INTERNAL"
)
