package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dchest/uniuri"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/ledger"
	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/settings"
)

const (
	referralCodeLength   = 6
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeAttempts = 10

	DefaultCurrency = "IDR"
	WelcomeBonus    = "Welcome Bonus"
)

type Registration struct {
	Email      string
	Phone      string
	Country    string
	Currency   string
	InviteCode string // referral code of the inviting account, optional
}

// Accounts owns account creation and moderation.
type Accounts struct {
	tx       txRunner
	settings *settings.Provider
	notifier Notifier
	logger   *zap.Logger
}

func NewAccounts(store ledger.TxStore, provider *settings.Provider, notifier Notifier, logger *zap.Logger) *Accounts {
	logger = logging.OrNop(logger)
	if provider == nil {
		provider = settings.NewProvider(nil)
	}
	return &Accounts{
		tx:       txRunner{store: store, logger: logger},
		settings: provider,
		notifier: orNop(notifier),
		logger:   logger,
	}
}

// Register creates an account, links its referrer and pays the welcome
// bonus for its country. All of it commits together.
//
// The welcome bonus credits balance only; it is not an earning and pays no
// commission.
func (a *Accounts) Register(ctx context.Context, reg Registration) (*ledger.Account, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ledger.ErrInvalidInput)
	}
	cfg := a.settings.Current()
	country := strings.ToLower(strings.TrimSpace(reg.Country))
	if country == "" {
		country = cfg.DefaultCountry
	}
	currency := strings.ToUpper(strings.TrimSpace(reg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	var out ledger.Account
	err := a.tx.run(ctx, "register", func(st ledger.Store) error {
		if _, err := st.FindAccountByEmail(ctx, email); err == nil {
			return fmt.Errorf("%w: email %s is already registered", ledger.ErrAlreadyExists, email)
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		acc := ledger.Account{
			ID:            ledger.NewAccountID(),
			Email:         email,
			Phone:         strings.TrimSpace(reg.Phone),
			Country:       country,
			Currency:      currency,
			Balance:       decimal.Zero,
			TotalEarnings: decimal.Zero,
			CreatedAt:     now(),
		}

		if code := strings.ToUpper(strings.TrimSpace(reg.InviteCode)); code != "" {
			referrer, err := st.FindAccountByReferralCode(ctx, code)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("%w: unknown invite code %s", ledger.ErrInvalidReferrer, code)
			}
			if err != nil {
				return err
			}
			if err := ledger.ValidateReferrer(ctx, st, acc.ID, referrer.ID); err != nil {
				return err
			}
			acc.ReferrerID = &referrer.ID
		}

		code, err := uniqueReferralCode(ctx, st)
		if err != nil {
			return err
		}
		acc.ReferralCode = code

		if err := st.CreateAccount(ctx, acc); err != nil {
			return err
		}
		if acc.ReferrerID != nil {
			if err := st.IncrementInvitedCount(ctx, *acc.ReferrerID); err != nil {
				return err
			}
		}

		if bonus := cfg.InitialBalanceFor(country); bonus.IsPositive() {
			credited, err := st.AdjustBalance(ctx, acc.ID, bonus, decimal.Zero)
			if err != nil {
				return err
			}
			acc = *credited
			if err := st.AppendTransaction(ctx, ledger.Transaction{
				ID:             ledger.NewTransactionID(),
				AccountID:      acc.ID,
				Kind:           ledger.KindSystemBonus,
				Amount:         bonus,
				Description:    WelcomeBonus,
				Status:         ledger.TxSuccess,
				IdempotencyKey: "welcome:" + string(acc.ID),
				CreatedAt:      now(),
			}); err != nil {
				return err
			}
		}
		out = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("account_id", string(out.ID)),
		zap.String("country", out.Country),
		zap.String("balance", out.Balance.String()),
	}
	if out.ReferrerID != nil {
		fields = append(fields, zap.String("referrer_id", string(*out.ReferrerID)))
	}
	a.logger.Info("account registered", fields...)

	a.notifier.Notify(Event{
		Name:      EventCompleteRegistration,
		EventID:   string(out.ID),
		AccountID: out.ID,
		Email:     out.Email,
		Value:     decimal.Zero,
		Currency:  out.Currency,
	})
	return &out, nil
}

// SetBanned bans or unbans an account. Banned accounts cannot withdraw or
// claim tasks; commissions owed to them are still credited.
func (a *Accounts) SetBanned(ctx context.Context, id ledger.AccountID, banned bool) (*ledger.Account, error) {
	var out *ledger.Account
	err := a.tx.run(ctx, "set_banned", func(st ledger.Store) error {
		if err := st.SetBanned(ctx, id, banned); err != nil {
			return err
		}
		acc, err := st.GetAccount(ctx, id)
		out = acc
		return err
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("account moderation", zap.String("account_id", string(id)), zap.Bool("banned", banned))
	return out, nil
}

func (a *Accounts) Get(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return a.tx.store.GetAccount(ctx, id)
}

func (a *Accounts) List(ctx context.Context) ([]ledger.Account, error) {
	return a.tx.store.ListAccounts(ctx)
}

// Transactions returns an account's ledger rows, oldest first.
func (a *Accounts) Transactions(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	if _, err := a.tx.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return a.tx.store.ListTransactions(ctx, id)
}

func uniqueReferralCode(ctx context.Context, st ledger.AccountStore) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code := randomReferralCode()
		_, err := st.FindAccountByReferralCode(ctx, code)
		if errors.Is(err, ledger.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no free referral code after %d attempts", ledger.ErrConcurrencyConflict, referralCodeAttempts)
}

func randomReferralCode() string {
	return uniuri.NewLenChars(referralCodeLength, []byte(referralCodeAlphabet))
}
