package protocol

// Rejection codes carried by ACTION_RESULT and TASK_FAIL events.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrBlocked       = "E_BLOCKED"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"
)

// NormalizeCode returns code when the server sent one this client knows, and
// ErrInternal otherwise, so callers can switch on a closed set.
func NormalizeCode(code string) string {
	switch code {
	case ErrProtoBadRequest, ErrBadRequest, ErrNoPermission, ErrNoResource, ErrInvalidTarget,
		ErrRateLimit, ErrConflict, ErrBlocked, ErrStale, ErrInternal:
		return code
	}
	return ErrInternal
}

// IsTargetCode reports whether a rejection means the target itself is missing
// or unusable rather than the request failing in flight.
func IsTargetCode(code string) bool {
	return code == ErrInvalidTarget || code == ErrNoResource
}
