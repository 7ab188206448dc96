package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
	}{
		{"0.01", true},
		{"50", true},
		{"50.10", true},
		{"0", false},
		{"-5.00", false},
		{"1.005", false},
		{"1000000000000", false},
	}
	for _, tc := range cases {
		err := ValidateAmount(decimal.RequireFromString(tc.raw))
		if tc.ok {
			assert.NoError(t, err, tc.raw)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidAmount, tc.raw)
	}
}

func TestValidateBalanceAllowsZero(t *testing.T) {
	require.NoError(t, ValidateBalance(decimal.Zero))
	assert.ErrorIs(t, ValidateBalance(decimal.RequireFromString("-0.01")), ErrInvalidAmount)
}

func TestNormalizeSnapshot(t *testing.T) {
	snap, err := NormalizeSnapshot(map[string]decimal.Decimal{
		" yape ":        decimal.RequireFromString("12.50"),
		"transferencia": decimal.Zero,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BANK_TRANSFER", "YAPE"}, snap.Codes())
	assert.True(t, snap.Total().Equal(decimal.RequireFromString("12.5")))

	_, err = NormalizeSnapshot(map[string]decimal.Decimal{"yape": decimal.NewFromInt(1), "YAPE": decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeSnapshot(map[string]decimal.Decimal{"PLIN": decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSnapshotValueAndScan(t *testing.T) {
	var nilSnap Snapshot
	v, err := nilSnap.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	src := Snapshot{"YAPE": decimal.RequireFromString("30.00")}
	v, err = src.Value()
	require.NoError(t, err)

	var out Snapshot
	require.NoError(t, out.Scan(v))
	assert.True(t, out["YAPE"].Equal(decimal.NewFromInt(30)))

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
	assert.Error(t, out.Scan(42))
}
