package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	KeyCommissionRates       = "commission_rates"
	KeyInitialBalance        = "initial_balance"
	KeyMinWithdrawal         = "min_withdrawal"
	KeyMinWithdrawAmount     = "min_withdraw_amount"
	KeyFallbackMinWithdrawal = "fallback_min_withdrawal"
	KeyDefaultCountry        = "default_country"
)

// Decode builds Settings from stored key/value rows. Unknown keys are
// ignored. Missing keys keep their Default() values.
func Decode(raw map[string]json.RawMessage) (Settings, error) {
	s := Default()

	if v, ok := raw[KeyDefaultCountry]; ok {
		var country string
		if err := json.Unmarshal(v, &country); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", KeyDefaultCountry, err)
		}
		if country != "" {
			s.DefaultCountry = strings.ToLower(country)
		}
	}

	if v, ok := raw[KeyCommissionRates]; ok {
		rates, err := decodeRates(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", KeyCommissionRates, err)
		}
		s.CommissionRates = rates
	}

	if v, ok := raw[KeyInitialBalance]; ok {
		byCountry, single, err := decodeAmountOrMap(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", KeyInitialBalance, err)
		}
		s.InitialBalance = byCountry
		if single != nil {
			s.InitialBalance[s.DefaultCountry] = *single
		}
	}

	// min_withdrawal wins over min_withdraw_amount unless it is empty
	// (null, "", 0 or {}), in which case the legacy key applies.
	for _, key := range []string{KeyMinWithdrawal, KeyMinWithdrawAmount} {
		v, ok := raw[key]
		if !ok || isEmptyValue(v) {
			continue
		}
		byCountry, single, err := decodeAmountOrMap(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", key, err)
		}
		if len(byCountry) == 0 && (single == nil || single.IsZero()) {
			continue
		}
		s.MinWithdrawal = byCountry
		if single != nil {
			s.FallbackMinWithdrawal = *single
		}
		break
	}

	if v, ok := raw[KeyFallbackMinWithdrawal]; ok {
		amt, err := decodeAmount(v)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", KeyFallbackMinWithdrawal, err)
		}
		s.FallbackMinWithdrawal = amt
	}
	return s, nil
}

// Encode is the inverse of Decode for the typed keys.
func Encode(s Settings) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, 5)
	values := map[string]any{
		KeyCommissionRates:       s.CommissionRates,
		KeyInitialBalance:        s.InitialBalance,
		KeyMinWithdrawal:         s.MinWithdrawal,
		KeyFallbackMinWithdrawal: s.FallbackMinWithdrawal,
		KeyDefaultCountry:        s.DefaultCountry,
	}
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

func isEmptyValue(v json.RawMessage) bool {
	switch string(bytes.TrimSpace(v)) {
	case "", "null", `""`:
		return true
	}
	return false
}

// decodeAmount accepts 50000, "50000", {"value": 50000} and {"id": 50000}.
func decodeAmount(v json.RawMessage) (decimal.Decimal, error) {
	byCountry, single, err := decodeAmountOrMap(v)
	if err != nil {
		return decimal.Zero, err
	}
	if single != nil {
		return *single, nil
	}
	for _, amt := range byCountry {
		return amt, nil
	}
	return decimal.Zero, fmt.Errorf("empty amount object")
}

// decodeAmountOrMap parses either a scalar amount or a country map. The
// "value" key of a map is returned as the scalar.
func decodeAmountOrMap(v json.RawMessage) (map[string]decimal.Decimal, *decimal.Decimal, error) {
	v = bytes.TrimSpace(v)
	byCountry := map[string]decimal.Decimal{}

	if len(v) > 0 && v[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, nil, err
		}
		var single *decimal.Decimal
		for k, raw := range obj {
			amt, err := decodeScalar(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", k, err)
			}
			if k == "value" {
				single = &amt
				continue
			}
			byCountry[strings.ToLower(k)] = amt
		}
		return byCountry, single, nil
	}

	amt, err := decodeScalar(v)
	if err != nil {
		return nil, nil, err
	}
	return byCountry, &amt, nil
}

func decodeScalar(v json.RawMessage) (decimal.Decimal, error) {
	var num json.Number
	if err := json.Unmarshal(v, &num); err == nil {
		return decimal.NewFromString(num.String())
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %s", string(v))
	}
	return decimal.NewFromString(strings.TrimSpace(str))
}

func decodeRates(v json.RawMessage) ([]decimal.Decimal, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, err
	}
	rates := make([]decimal.Decimal, 0, len(items))
	for i, item := range items {
		r, err := decodeScalar(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		rates = append(rates, r)
	}
	return rates, nil
}
