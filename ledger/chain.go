package ledger

import (
	"context"
	"errors"
	"fmt"
)

// CommissionDepth is how many referrer hops earn commission.
const CommissionDepth = 3

// maxReferrerWalk bounds the loop check so corrupt data cannot hang it.
const maxReferrerWalk = 10_000

// ReferrerChain returns up to depth ancestors of id, nearest first.
// The walk stops early at an account without a referrer, at a referrer
// that no longer exists, or when it would revisit an account.
func ReferrerChain(ctx context.Context, accounts AccountReader, id AccountID, depth int) ([]AccountID, error) {
	start, err := accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := make([]AccountID, 0, depth)
	seen := map[AccountID]bool{id: true}
	next := start.ReferrerID

	for len(chain) < depth && next != nil && *next != "" {
		if seen[*next] {
			break
		}
		acc, err := accounts.GetAccount(ctx, *next)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("resolve referrer %s: %w", *next, err)
		}
		seen[acc.ID] = true
		chain = append(chain, acc.ID)
		next = acc.ReferrerID
	}
	return chain, nil
}

// ValidateReferrer rejects a referrer for newID that is newID itself or whose
// ancestry already contains newID. Referrer links are only set at account
// creation, so checking here keeps the graph acyclic.
func ValidateReferrer(ctx context.Context, accounts AccountReader, newID, referrerID AccountID) error {
	if referrerID == newID {
		return fmt.Errorf("%w: self-referral", ErrInvalidReferrer)
	}

	seen := map[AccountID]bool{}
	cur := &referrerID
	for i := 0; cur != nil && *cur != ""; i++ {
		if *cur == newID {
			return fmt.Errorf("%w: referral loop through %s", ErrInvalidReferrer, referrerID)
		}
		if seen[*cur] || i >= maxReferrerWalk {
			return fmt.Errorf("%w: referrer ancestry of %s is cyclic", ErrInvalidReferrer, referrerID)
		}
		seen[*cur] = true

		acc, err := accounts.GetAccount(ctx, *cur)
		if errors.Is(err, ErrNotFound) {
			if *cur == referrerID {
				return fmt.Errorf("%w: unknown referrer %s", ErrInvalidReferrer, referrerID)
			}
			return nil
		}
		if err != nil {
			return err
		}
		cur = acc.ReferrerID
	}
	return nil
}
