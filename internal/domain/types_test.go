package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionAssetStatus(t *testing.T) {
	tests := []struct {
		name     string
		from     AssetStatus
		to       AssetStatus
		expected bool
	}{
		{name: "active to maintenance", from: AssetStatusActive, to: AssetStatusMaintenance, expected: true},
		{name: "maintenance to active", from: AssetStatusMaintenance, to: AssetStatusActive, expected: true},
		{name: "active to retired", from: AssetStatusActive, to: AssetStatusRetired, expected: true},
		{name: "maintenance to retired", from: AssetStatusMaintenance, to: AssetStatusRetired, expected: true},
		{name: "active to active", from: AssetStatusActive, to: AssetStatusActive, expected: true},
		{name: "retired to active", from: AssetStatusRetired, to: AssetStatusActive, expected: false},
		{name: "retired to maintenance", from: AssetStatusRetired, to: AssetStatusMaintenance, expected: false},
		{name: "retired to retired", from: AssetStatusRetired, to: AssetStatusRetired, expected: false},
		{name: "unknown target", from: AssetStatusActive, to: AssetStatus("sold"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransitionAssetStatus(tt.from, tt.to))
		})
	}
}

func TestValidateBasisPoints(t *testing.T) {
	assert.NoError(t, ValidateBasisPoints(1))
	assert.NoError(t, ValidateBasisPoints(10000))
	assert.ErrorIs(t, ValidateBasisPoints(0), ErrInvalidFraction)
	assert.ErrorIs(t, ValidateBasisPoints(-5), ErrInvalidFraction)
	assert.ErrorIs(t, ValidateBasisPoints(10001), ErrInvalidFraction)
}

func TestFormatBasisPoints(t *testing.T) {
	assert.Equal(t, "0", FormatBasisPoints(0))
	assert.Equal(t, "500", FormatBasisPoints(500))
	assert.Equal(t, "9,500", FormatBasisPoints(9500))
	assert.Equal(t, "10,000", FormatBasisPoints(10000))
	assert.Equal(t, "-1,000", FormatBasisPoints(-1000))
}

func TestOverAllocationError(t *testing.T) {
	err := error(&OverAllocationError{AssetID: "A", Allocated: 9500, Requested: 1000})

	assert.True(t, errors.Is(err, ErrOverAllocation))
	assert.Equal(t, "asset A already has 9,500/10,000 basis points allocated; requested 1,000", err.Error())

	wrapped := fmt.Errorf("failed to create grant: %w", err)
	var oa *OverAllocationError
	require.True(t, errors.As(wrapped, &oa))
	assert.Equal(t, 500, oa.Available())
	assert.True(t, IsValidationError(wrapped))
}

func TestRunError(t *testing.T) {
	err := error(&RunError{RunID: "run_1", Err: fmt.Errorf("%w: disk full", ErrPersistenceFailure)})

	assert.Equal(t, "distribution run run_1 failed", err.Error())
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.False(t, IsValidationError(err))
}

func TestNormalizeCurrency(t *testing.T) {
	c, err := NormalizeCurrency(" ngn ")
	require.NoError(t, err)
	assert.Equal(t, "NGN", c)

	_, err = NormalizeCurrency("naira")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = NormalizeCurrency("")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name        string
		label       string
		start       time.Time
		end         time.Time
		expectError bool
	}{
		{
			name:  "month",
			label: "2025-11",
			start: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "december rolls over the year",
			label: "2025-12",
			start: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "day",
			label: "2025-11-03",
			start: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "year",
			label: "2024",
			start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "iso week",
			label: "2025-W45",
			start: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "iso week one starts in previous year",
			label: "2025-W01",
			start: time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		},
		{
			name:        "week 53 in a 52 week year",
			label:       "2025-W53",
			expectError: true,
		},
		{
			name:        "garbage",
			label:       "november",
			expectError: true,
		},
		{
			name:        "empty",
			label:       "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePeriod(tt.label)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidPeriod)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.start.Equal(p.Start), "start %s", p.Start)
			assert.True(t, tt.end.Equal(p.End), "end %s", p.End)
		})
	}
}

func TestNewPeriod(t *testing.T) {
	lagos := time.FixedZone("WAT", 3600)
	start := time.Date(2025, 11, 1, 1, 0, 0, 0, lagos)
	end := time.Date(2025, 12, 1, 1, 0, 0, 0, lagos)

	p, err := NewPeriod(start, end)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, p.Start.Location())
	assert.Equal(t, "2025-11-01T00:00:00Z/2025-12-01T00:00:00Z", p.String())

	_, err = NewPeriod(end, start)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = NewPeriod(start, start)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = NewPeriod(time.Time{}, end)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
