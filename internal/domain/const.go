package domain

const (
	// BasisPointsDenominator is the number of basis points that make up a whole asset
	BasisPointsDenominator = 10000

	// MaxHealthScore is the upper bound of the asset health score
	MaxHealthScore = 100

	// Identifier prefixes
	GRANT_ID_PREFIX = "grt_"
	RUN_ID_PREFIX   = "run_"

	// DERIVED_IDEMPOTENCY_KEY_PREFIX marks keys computed from the asset and period
	DERIVED_IDEMPOTENCY_KEY_PREFIX = "derived:"
)
