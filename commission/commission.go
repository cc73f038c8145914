/*
Package commission computes referral commission shares.

PURPOSE:
  When an account earns a reward, up to three ancestors in its referrer
  chain receive a percentage of it:

    level 1 (direct referrer)   20%
    level 2                     10%
    level 3                      5%

  The calculator is pure. It neither reads nor writes the ledger; the
  reward dispatcher resolves the chain and applies the shares.

INVARIANTS:
  - At most MaxLevels shares, whatever the chain or rate list length
  - A short chain is normal; missing levels produce no share
  - Shares are truncated to 2 decimal places, never rounded up
  - Zero and negative shares are never emitted

SEE ALSO:
  - ../reward/dispatcher.go: Applies the shares
  - ../settings/settings.go: Configurable rates
*/
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/ledger"
)

// MaxLevels is the deepest level that ever earns commission.
const MaxLevels = ledger.CommissionDepth

// DefaultRates are the level 1..3 rates.
var DefaultRates = []decimal.Decimal{
	decimal.RequireFromString("0.20"),
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.05"),
}

// Share is one beneficiary's commission. Level 1 is the direct referrer.
type Share struct {
	Beneficiary ledger.AccountID
	Level       int
	Amount      decimal.Decimal
}

type Calculator struct {
	rates []decimal.Decimal
}

// NewCalculator copies rates. An empty list selects DefaultRates.
func NewCalculator(rates []decimal.Decimal) *Calculator {
	if len(rates) == 0 {
		rates = DefaultRates
	}
	return &Calculator{rates: append([]decimal.Decimal(nil), rates...)}
}

func (c *Calculator) Rates() []decimal.Decimal {
	return append([]decimal.Decimal(nil), c.rates...)
}

// Calculate returns the shares for amount earned by the account whose
// referrer chain (nearest first) is chain.
func (c *Calculator) Calculate(amount decimal.Decimal, chain []ledger.AccountID) []Share {
	if !amount.IsPositive() {
		return nil
	}

	levels := min(len(chain), len(c.rates), MaxLevels)
	shares := make([]Share, 0, levels)
	for i := 0; i < levels; i++ {
		if chain[i] == "" {
			break
		}
		share := amount.Mul(c.rates[i]).Truncate(2)
		if !share.IsPositive() {
			continue
		}
		shares = append(shares, Share{Beneficiary: chain[i], Level: i + 1, Amount: share})
	}
	return shares
}
