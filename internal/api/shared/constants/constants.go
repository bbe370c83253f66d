package constants

const (
	MAX_PAGE_SIZE          = 200
	DEFAULT_PAGE_SIZE      = 50
	DEFAULT_OFFSET         = uint64(0)
	MAX_CANCEL_REASON_SIZE = 512

	// IDEMPOTENCY_KEY_HEADER carries the caller's idempotency key for distribution requests
	IDEMPOTENCY_KEY_HEADER = "Idempotency-Key"
)
