package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func raw(kv map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		out[k] = json.RawMessage(v)
	}
	return out
}

// =============================================================================
// MINIMUM WITHDRAWAL PRECEDENCE
// =============================================================================

func TestMinWithdrawalFor_Precedence(t *testing.T) {
	s := Default()
	s.MinWithdrawal = map[string]decimal.Decimal{"id": d("100000"), "my": d("20")}
	s.FallbackMinWithdrawal = d("75000")

	assert.True(t, s.MinWithdrawalFor("my").Equal(d("20")), "country entry wins")
	assert.True(t, s.MinWithdrawalFor("sg").Equal(d("100000")), "default country next")

	delete(s.MinWithdrawal, "id")
	assert.True(t, s.MinWithdrawalFor("sg").Equal(d("75000")), "fallback next")

	s.FallbackMinWithdrawal = decimal.Zero
	assert.True(t, s.MinWithdrawalFor("sg").Equal(DefaultMinWithdrawal), "built-in default last")
}

func TestDecode_LegacyMinWithdrawalShapes(t *testing.T) {
	tests := []struct {
		name    string
		rows    map[string]string
		country string
		want    string
	}{
		{"number", map[string]string{"min_withdrawal": `60000`}, "id", "60000"},
		{"numeric string", map[string]string{"min_withdrawal": `"70000"`}, "id", "70000"},
		{"id object", map[string]string{"min_withdrawal": `{"id": 80000}`}, "id", "80000"},
		{"value object", map[string]string{"min_withdrawal": `{"value": 90000}`}, "id", "90000"},
		{"legacy alias", map[string]string{"min_withdraw_amount": `{"id": 55000}`}, "id", "55000"},
		{
			"min_withdrawal beats alias",
			map[string]string{"min_withdrawal": `61000`, "min_withdraw_amount": `{"id": 55000}`},
			"id", "61000",
		},
		{
			"empty min_withdrawal falls through to alias",
			map[string]string{"min_withdrawal": `{}`, "min_withdraw_amount": `70000`},
			"id", "70000",
		},
		{
			"zero min_withdrawal falls through to alias",
			map[string]string{"min_withdrawal": `0`, "min_withdraw_amount": `{"id": 65000}`},
			"id", "65000",
		},
		{
			"null min_withdrawal falls through to alias",
			map[string]string{"min_withdrawal": `null`, "min_withdraw_amount": `"52000"`},
			"id", "52000",
		},
		{"nothing configured", map[string]string{}, "id", "50000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode(raw(tt.rows))
			require.NoError(t, err)
			assert.True(t, s.MinWithdrawalFor(tt.country).Equal(d(tt.want)),
				"got %s", s.MinWithdrawalFor(tt.country))
		})
	}
}

func TestDecode_InitialBalance(t *testing.T) {
	s, err := Decode(raw(map[string]string{"initial_balance": `{"id": 10000, "MY": "5"}`}))
	require.NoError(t, err)

	assert.True(t, s.InitialBalanceFor("id").Equal(d("10000")))
	assert.True(t, s.InitialBalanceFor("my").Equal(d("5")))
	assert.True(t, s.InitialBalanceFor("sg").Equal(d("10000")), "unknown country uses default country")
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode(raw(map[string]string{"min_withdrawal": `"lots"`}))
	assert.Error(t, err)

	_, err = Decode(raw(map[string]string{"commission_rates": `{"a": 1}`}))
	assert.Error(t, err)
}

func TestEncodeDecode_PreservesTypedSettings(t *testing.T) {
	s := Default()
	s.CommissionRates = []decimal.Decimal{d("0.3"), d("0.1")}
	s.InitialBalance = map[string]decimal.Decimal{"id": d("10000")}
	s.MinWithdrawal = map[string]decimal.Decimal{"id": d("100000")}
	s.FallbackMinWithdrawal = d("1000")

	encoded, err := Encode(s)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.CommissionRates, 2)
	assert.True(t, decoded.CommissionRates[0].Equal(d("0.3")))
	assert.True(t, decoded.MinWithdrawalFor("id").Equal(d("100000")))
	assert.True(t, decoded.FallbackMinWithdrawal.Equal(d("1000")))
	assert.Equal(t, "id", decoded.DefaultCountry)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())

	s.CommissionRates = []decimal.Decimal{d("0.2"), d("0.1"), d("0.05"), d("0.01")}
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings, "too many levels")

	s.CommissionRates = []decimal.Decimal{d("0.9"), d("0.2")}
	assert.Error(t, s.Validate(), "total above 1")

	s = Default()
	s.MinWithdrawal["id"] = d("-1")
	assert.Error(t, s.Validate())
}

// =============================================================================
// PROVIDER
// =============================================================================

type fakeRepo struct {
	rows    map[string]json.RawMessage
	saveErr error
}

func (f *fakeRepo) LoadConfig(context.Context) (map[string]json.RawMessage, error) {
	return f.rows, nil
}

func (f *fakeRepo) SaveConfig(_ context.Context, values map[string]json.RawMessage) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.rows = values
	return nil
}

func TestProvider_UpdatePersistsAndSwaps(t *testing.T) {
	repo := &fakeRepo{rows: map[string]json.RawMessage{}}
	p := NewProvider(repo)
	ctx := context.Background()

	next := Default()
	next.MinWithdrawal["id"] = d("120000")
	require.NoError(t, p.Update(ctx, next))

	assert.True(t, p.Current().MinWithdrawalFor("id").Equal(d("120000")))

	reloaded := NewProvider(repo)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.Current().MinWithdrawalFor("id").Equal(d("120000")))
}

func TestProvider_FailedSaveKeepsOldSettings(t *testing.T) {
	repo := &fakeRepo{saveErr: errors.New("disk full")}
	p := NewProvider(repo)

	next := Default()
	next.MinWithdrawal["id"] = d("1")
	assert.Error(t, p.Update(context.Background(), next))

	assert.True(t, p.Current().MinWithdrawalFor("id").Equal(DefaultMinWithdrawal))
}

func TestProvider_CurrentIsACopy(t *testing.T) {
	p := NewStaticProvider(Default())

	snap := p.Current()
	snap.MinWithdrawal["id"] = d("1")

	assert.True(t, p.Current().MinWithdrawalFor("id").Equal(DefaultMinWithdrawal))
}
