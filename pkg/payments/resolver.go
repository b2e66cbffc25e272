package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Identity is a partial identity carried by a webhook event: any subset of
// the internal account id, an email address and the provider customer id.
type Identity struct {
	AccountID  string
	Email      string
	CustomerID string
}

// IsZero reports whether the identity carries nothing to resolve on.
func (id Identity) IsZero() bool {
	return id.AccountID == "" && id.Email == "" && id.CustomerID == ""
}

// strategy is one resolution step: it either finds an exact match or reports
// ErrAccountNotFound so the next strategy runs.
type strategy struct {
	name    string
	resolve func(ctx context.Context, id Identity) (*Account, error)
}

// Resolver locates the internal account for a partial identity using a fixed
// precedence: direct account id, then email (the store tries the legacy field
// variants in order), then provider customer id. Strategies are exact-match
// only; the first match wins.
type Resolver struct {
	store      Store
	strategies []strategy
}

// NewResolver builds a resolver over the given store.
func NewResolver(store Store) *Resolver {
	r := &Resolver{store: store}
	r.strategies = []strategy{
		{name: "account_id", resolve: r.byAccountID},
		{name: "email", resolve: r.byEmail},
		{name: "customer_id", resolve: r.byCustomerID},
	}
	return r
}

// Resolve runs the strategies in order and returns the first match. Returns
// ErrAccountNotFound when every strategy misses; any other error aborts
// resolution (a storage failure must not be mistaken for "no such account").
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*Account, error) {
	if id.IsZero() {
		return nil, ErrAccountNotFound
	}

	for _, s := range r.strategies {
		account, err := s.resolve(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				continue
			}
			return nil, fmt.Errorf("resolve by %s: %w", s.name, err)
		}
		return account, nil
	}

	return nil, ErrAccountNotFound
}

func (r *Resolver) byAccountID(ctx context.Context, id Identity) (*Account, error) {
	if id.AccountID == "" {
		return nil, ErrAccountNotFound
	}
	return r.store.GetAccount(ctx, id.AccountID)
}

func (r *Resolver) byEmail(ctx context.Context, id Identity) (*Account, error) {
	email := strings.TrimSpace(strings.ToLower(id.Email))
	if email == "" {
		return nil, ErrAccountNotFound
	}
	return r.store.FindAccountByEmail(ctx, email)
}

func (r *Resolver) byCustomerID(ctx context.Context, id Identity) (*Account, error) {
	if id.CustomerID == "" {
		return nil, ErrAccountNotFound
	}
	return r.store.FindAccountByCustomerID(ctx, id.CustomerID)
}
