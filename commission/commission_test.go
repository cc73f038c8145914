package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruanggamer/reward-engine/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate_FullChain(t *testing.T) {
	c := NewCalculator(nil)

	shares := c.Calculate(d("10000"), []ledger.AccountID{"c", "b", "a"})

	require.Len(t, shares, 3)
	assert.Equal(t, ledger.AccountID("c"), shares[0].Beneficiary)
	assert.Equal(t, 1, shares[0].Level)
	assert.True(t, shares[0].Amount.Equal(d("2000")))
	assert.True(t, shares[1].Amount.Equal(d("1000")))
	assert.True(t, shares[2].Amount.Equal(d("500")))
	assert.Equal(t, 3, shares[2].Level)
}

func TestCalculate_ShortChain(t *testing.T) {
	c := NewCalculator(nil)

	shares := c.Calculate(d("10000"), []ledger.AccountID{"b"})

	require.Len(t, shares, 1)
	assert.True(t, shares[0].Amount.Equal(d("2000")))
}

func TestCalculate_NoChain(t *testing.T) {
	c := NewCalculator(nil)
	assert.Empty(t, c.Calculate(d("10000"), nil))
}

func TestCalculate_NonPositiveAmount(t *testing.T) {
	c := NewCalculator(nil)
	chain := []ledger.AccountID{"c", "b", "a"}

	assert.Empty(t, c.Calculate(decimal.Zero, chain))
	assert.Empty(t, c.Calculate(d("-5"), chain))
}

func TestCalculate_NeverMoreThanThreeLevels(t *testing.T) {
	// GIVEN: a longer chain and more rates than levels
	c := NewCalculator([]decimal.Decimal{d("0.2"), d("0.1"), d("0.05"), d("0.01")})

	// WHEN
	shares := c.Calculate(d("1000"), []ledger.AccountID{"e", "d", "c", "b", "a"})

	// THEN
	require.Len(t, shares, MaxLevels)
}

func TestCalculate_TruncatesAndSkipsZero(t *testing.T) {
	c := NewCalculator(nil)

	// 0.15 * 0.20 = 0.03, 0.15 * 0.10 = 0.015 -> 0.01, 0.15 * 0.05 = 0.0075 -> 0.00 (skipped)
	shares := c.Calculate(d("0.15"), []ledger.AccountID{"c", "b", "a"})

	require.Len(t, shares, 2)
	assert.True(t, shares[0].Amount.Equal(d("0.03")))
	assert.True(t, shares[1].Amount.Equal(d("0.01")))
}

func TestCalculate_StopsAtEmptyLink(t *testing.T) {
	c := NewCalculator(nil)

	shares := c.Calculate(d("100"), []ledger.AccountID{"c", "", "a"})

	require.Len(t, shares, 1)
	assert.Equal(t, ledger.AccountID("c"), shares[0].Beneficiary)
}

func TestNewCalculator_CopiesRates(t *testing.T) {
	rates := []decimal.Decimal{d("0.5")}
	c := NewCalculator(rates)
	rates[0] = d("0.9")

	assert.True(t, c.Rates()[0].Equal(d("0.5")))
}
