/*
Package settings provides the typed platform configuration.

PURPOSE:
  Replaces the free-form configuration blob with a typed Settings value
  that services resolve once per operation. Values live in the
  system_config table, one JSON value per key.

KEYS:
  commission_rates          [0.20, 0.10, 0.05]
  initial_balance           {"id": 10000} or a single amount
  min_withdrawal            {"id": 50000} or a single amount
  min_withdraw_amount       legacy alias, read only when min_withdrawal is absent
  fallback_min_withdrawal   amount used when no country entry matches
  default_country           country key used when the account's is missing

  Amounts may be JSON numbers or numeric strings. In a map, the key
  "value" is treated as the fallback rather than as a country.

MINIMUM WITHDRAWAL RESOLUTION (first match wins):
  1. MinWithdrawal[account country]
  2. MinWithdrawal[DefaultCountry]
  3. FallbackMinWithdrawal (from min_withdrawal, else min_withdraw_amount)
  4. DefaultMinWithdrawal (50000)

SEE ALSO:
  - provider.go: Concurrency-safe holder with persistence
  - ../reward/withdrawal.go: Uses MinWithdrawalFor
*/
package settings

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ruanggamer/reward-engine/commission"
)

// DefaultMinWithdrawal applies when nothing else is configured.
var DefaultMinWithdrawal = decimal.NewFromInt(50000)

// DefaultCountryCode is the country assumed for accounts without one.
const DefaultCountryCode = "id"

type Settings struct {
	CommissionRates       []decimal.Decimal          `json:"commission_rates"`
	InitialBalance        map[string]decimal.Decimal `json:"initial_balance"`
	MinWithdrawal         map[string]decimal.Decimal `json:"min_withdrawal"`
	FallbackMinWithdrawal decimal.Decimal            `json:"fallback_min_withdrawal"`
	DefaultCountry        string                     `json:"default_country"`
}

// Default returns the settings used before anything is stored.
func Default() Settings {
	return Settings{
		CommissionRates: append([]decimal.Decimal(nil), commission.DefaultRates...),
		InitialBalance:  map[string]decimal.Decimal{},
		MinWithdrawal:   map[string]decimal.Decimal{},
		DefaultCountry:  DefaultCountryCode,
	}
}

// MinWithdrawalFor resolves the minimum for an account's country.
func (s Settings) MinWithdrawalFor(country string) decimal.Decimal {
	if v, ok := s.MinWithdrawal[country]; ok && country != "" {
		return v
	}
	if v, ok := s.MinWithdrawal[s.DefaultCountry]; ok && s.DefaultCountry != "" {
		return v
	}
	if s.FallbackMinWithdrawal.IsPositive() {
		return s.FallbackMinWithdrawal
	}
	return DefaultMinWithdrawal
}

// InitialBalanceFor is the welcome bonus for a new account; zero means none.
func (s Settings) InitialBalanceFor(country string) decimal.Decimal {
	if v, ok := s.InitialBalance[country]; ok && country != "" {
		return v
	}
	if v, ok := s.InitialBalance[s.DefaultCountry]; ok && s.DefaultCountry != "" {
		return v
	}
	return decimal.Zero
}

// Rates returns the commission rates, falling back to the defaults.
func (s Settings) Rates() []decimal.Decimal {
	if len(s.CommissionRates) == 0 {
		return append([]decimal.Decimal(nil), commission.DefaultRates...)
	}
	return append([]decimal.Decimal(nil), s.CommissionRates...)
}

// ErrInvalidSettings wraps every Validate failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate rejects settings that could over-pay or lock out withdrawals.
func (s Settings) Validate() error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

func (s Settings) validate() error {
	if len(s.CommissionRates) > commission.MaxLevels {
		return fmt.Errorf("commission_rates: at most %d levels, got %d", commission.MaxLevels, len(s.CommissionRates))
	}
	total := decimal.Zero
	for i, r := range s.CommissionRates {
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("commission_rates[%d]: %s is outside [0, 1]", i, r)
		}
		total = total.Add(r)
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission_rates: total %s exceeds 1", total)
	}
	for country, v := range s.InitialBalance {
		if v.IsNegative() {
			return fmt.Errorf("initial_balance[%s]: negative amount %s", country, v)
		}
	}
	for country, v := range s.MinWithdrawal {
		if v.IsNegative() {
			return fmt.Errorf("min_withdrawal[%s]: negative amount %s", country, v)
		}
	}
	if s.FallbackMinWithdrawal.IsNegative() {
		return fmt.Errorf("fallback_min_withdrawal: negative amount %s", s.FallbackMinWithdrawal)
	}
	return nil
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.CommissionRates = append([]decimal.Decimal(nil), s.CommissionRates...)
	c.InitialBalance = make(map[string]decimal.Decimal, len(s.InitialBalance))
	for k, v := range s.InitialBalance {
		c.InitialBalance[k] = v
	}
	c.MinWithdrawal = make(map[string]decimal.Decimal, len(s.MinWithdrawal))
	for k, v := range s.MinWithdrawal {
		c.MinWithdrawal[k] = v
	}
	return c
}
