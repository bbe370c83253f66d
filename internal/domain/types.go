package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AssetCategory represents the kind of physical asset
type AssetCategory string

const (
	AssetCategoryVehicle         AssetCategory = "vehicle"
	AssetCategoryBattery         AssetCategory = "battery"
	AssetCategoryChargingCabinet AssetCategory = "charging_cabinet"
)

// IsValidAssetCategory checks if a category is known
func IsValidAssetCategory(category AssetCategory) bool {
	return category == AssetCategoryVehicle ||
		category == AssetCategoryBattery ||
		category == AssetCategoryChargingCabinet
}

// AssetStatus represents the lifecycle status of an asset
type AssetStatus string

const (
	AssetStatusActive      AssetStatus = "active"
	AssetStatusMaintenance AssetStatus = "maintenance"
	AssetStatusRetired     AssetStatus = "retired"
)

// IsValidAssetStatus checks if a status is known
func IsValidAssetStatus(status AssetStatus) bool {
	return status == AssetStatusActive ||
		status == AssetStatusMaintenance ||
		status == AssetStatusRetired
}

// CanTransitionAssetStatus reports whether an asset may move from one status to another.
// Retired is terminal. Staying in the same non-terminal status is allowed.
func CanTransitionAssetStatus(from, to AssetStatus) bool {
	if !IsValidAssetStatus(from) || !IsValidAssetStatus(to) {
		return false
	}
	if from == AssetStatusRetired {
		return false
	}
	return true
}

// RunStatus represents the state of a distribution run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// MinorUnits is an amount of money in the smallest unit of its currency (kobo, cent)
type MinorUnits int64

// Share is one investor's aggregated holding in an asset at a point in time
type Share struct {
	InvestorID  string
	BasisPoints int
	// Retained marks the unallocated share kept by the treasury account
	Retained bool
}

// Allocation summarizes how much of an asset is owned
type Allocation struct {
	AssetID   string
	Allocated int
	Available int
}

// NewAllocation builds an Allocation from the allocated basis points
func NewAllocation(assetID string, allocated int) Allocation {
	return Allocation{
		AssetID:   assetID,
		Allocated: allocated,
		Available: BasisPointsDenominator - allocated,
	}
}

// ValidateBasisPoints checks that a fraction lies in (0, 10000]
func ValidateBasisPoints(bps int) error {
	if bps <= 0 || bps > BasisPointsDenominator {
		return fmt.Errorf("%w: got %d", ErrInvalidFraction, bps)
	}
	return nil
}

// FormatBasisPoints renders basis points with thousands separators (e.g. 9,500)
func FormatBasisPoints(bps int) string {
	s := strconv.Itoa(bps)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCurrency upper-cases and validates an ISO 4217 style currency code
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if !currencyPattern.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return c, nil
}

// Period is a half-open revenue period [Start, End) in UTC
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod validates and normalizes a period to UTC
func NewPeriod(start, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, fmt.Errorf("%w: start and end are required", ErrInvalidPeriod)
	}
	if !end.After(start) {
		return Period{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidPeriod, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Period{Start: start.UTC(), End: end.UTC()}, nil
}

// ParsePeriod parses a calendar period label. Supported forms are
// "2025" (year), "2025-11" (month), "2025-W45" (ISO week) and "2025-11-03" (day).
func ParsePeriod(label string) (Period, error) {
	label = strings.TrimSpace(label)
	if t, err := time.Parse("2006-01-02", label); err == nil {
		return NewPeriod(t, t.AddDate(0, 0, 1))
	}
	if t, err := time.Parse("2006-01", label); err == nil {
		return NewPeriod(t, t.AddDate(0, 1, 0))
	}
	if t, err := time.Parse("2006", label); err == nil {
		return NewPeriod(t, t.AddDate(1, 0, 0))
	}
	if year, week, ok := parseISOWeek(label); ok {
		start := isoWeekStart(year, week)
		return NewPeriod(start, start.AddDate(0, 0, 7))
	}
	return Period{}, fmt.Errorf("%w: unrecognized period %q", ErrInvalidPeriod, label)
}

var isoWeekPattern = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)

func parseISOWeek(label string) (int, int, bool) {
	m := isoWeekPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, 0, false
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	if week < 1 || week > 53 {
		return 0, 0, false
	}
	// Week 53 only exists in some years
	if _, last := isoWeekStart(year, week).ISOWeek(); last != week {
		return 0, 0, false
	}
	return year, week, true
}

// isoWeekStart returns the Monday starting the given ISO week
func isoWeekStart(year, week int) time.Time {
	// January 4th is always in week 1
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (week-1)*7)
}

// String renders the period as "start/end" in RFC 3339
func (p Period) String() string {
	return p.Start.Format(time.RFC3339) + "/" + p.End.Format(time.RFC3339)
}
