package distribution

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// Allocation is one owner's cut of a revenue total
type Allocation struct {
	InvestorID  string
	BasisPoints int
	AmountMinor domain.MinorUnits
	// RoundingAdjusted is set when the owner received one remainder unit
	RoundingAdjusted bool
	Retained         bool
}

// ComputeDistribution splits total across a complete ownership snapshot.
//
// Every owner gets floor(total * bps / 10000). The units lost to flooring are
// handed out one each to the owners with the largest discarded fraction, ties
// going to the lowest investor id. The result is sorted by investor id, sums
// to total exactly, and no owner is more than one unit away from the exact
// proportional amount.
func ComputeDistribution(snapshot []domain.Share, total domain.MinorUnits) ([]Allocation, error) {
	if len(snapshot) == 0 {
		return nil, domain.ErrNoOwners
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total revenue must be positive, got %d", domain.ErrInvalidAmount, total)
	}

	shares := make([]domain.Share, len(snapshot))
	copy(shares, snapshot)
	sort.Slice(shares, func(i, j int) bool {
		return shares[i].InvestorID < shares[j].InvestorID
	})

	sum := 0
	for i, share := range shares {
		if share.InvestorID == "" {
			return nil, fmt.Errorf("%w: empty investor id in snapshot", domain.ErrInvalidInvestor)
		}
		if i > 0 && shares[i-1].InvestorID == share.InvestorID {
			return nil, fmt.Errorf("%w: investor %s appears twice in snapshot", domain.ErrInvalidInvestor, share.InvestorID)
		}
		if err := domain.ValidateBasisPoints(share.BasisPoints); err != nil {
			return nil, err
		}
		sum += share.BasisPoints
	}
	if sum > domain.BasisPointsDenominator {
		return nil, fmt.Errorf("%w: snapshot sums to %s basis points",
			domain.ErrOverAllocation, domain.FormatBasisPoints(sum))
	}
	if sum < domain.BasisPointsDenominator {
		return nil, fmt.Errorf("%w: snapshot sums to %s basis points",
			domain.ErrSnapshotIncomplete, domain.FormatBasisPoints(sum))
	}

	allocations := make([]Allocation, len(shares))
	fractions := make([]uint64, len(shares))
	var floored domain.MinorUnits
	for i, share := range shares {
		amount, fraction := proportion(total, share.BasisPoints)
		allocations[i] = Allocation{
			InvestorID:  share.InvestorID,
			BasisPoints: share.BasisPoints,
			AmountMinor: amount,
			Retained:    share.Retained,
		}
		fractions[i] = fraction
		floored += amount
	}

	remainder := int(total - floored)
	if remainder < 0 || remainder >= len(shares) {
		return nil, fmt.Errorf("%w: remainder %d out of range for %d owners",
			domain.ErrInvariantViolation, remainder, len(shares))
	}

	// shares are already in investor order, so a stable sort keeps the tie-break
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]] > fractions[order[b]]
	})
	for _, idx := range order[:remainder] {
		allocations[idx].AmountMinor++
		allocations[idx].RoundingAdjusted = true
	}

	return allocations, nil
}

// proportion returns floor(total*bps/10000) and the discarded remainder of the division.
// The product is computed in 128 bits so no total can overflow.
func proportion(total domain.MinorUnits, bps int) (domain.MinorUnits, uint64) {
	hi, lo := bits.Mul64(uint64(total), uint64(bps))              //nolint:gosec,G115
	quo, rem := bits.Div64(hi, lo, domain.BasisPointsDenominator) //nolint:gosec,G115
	return domain.MinorUnits(quo), rem                            //nolint:gosec,G115
}
