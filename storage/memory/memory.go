// Package memory provides an in-memory implementation of the payments.Store
// interface. This implementation is primarily intended for testing and local
// development; it mirrors the Firestore backend's semantics (merge writes,
// transactional goal progress, unlock set semantics) under a mutex.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lumapage/payments/pkg/payments"
)

// Store implements payments.Store using in-memory maps
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]*payments.Account
	posts         map[string]*payments.Post
	members       map[string]*payments.Member
	ledgers       map[string]*payments.LedgerRecord // keyed by kind/id
	contributions map[string]bool                   // applied goal contribution ids
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		accounts:      make(map[string]*payments.Account),
		posts:         make(map[string]*payments.Post),
		members:       make(map[string]*payments.Member),
		ledgers:       make(map[string]*payments.LedgerRecord),
		contributions: make(map[string]bool),
	}
}

// SeedAccount adds an account record.
func (s *Store) SeedAccount(a *payments.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
}

// SeedPost adds a content record.
func (s *Store) SeedPost(p *payments.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.posts[p.ID] = &cp
}

// GetAccount implements payments.Store
func (s *Store) GetAccount(_ context.Context, id string) (*payments.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, payments.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// FindAccountByEmail implements payments.Store. The primary email field is
// tried before the legacy one, matching the Firestore backend's field order.
func (s *Store) FindAccountByEmail(_ context.Context, email string) (*payments.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(email)
	for _, a := range s.accounts {
		if strings.ToLower(a.Email) == email {
			cp := *a
			return &cp, nil
		}
	}
	for _, a := range s.accounts {
		if a.LegacyEmail != "" && strings.ToLower(a.LegacyEmail) == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, payments.ErrAccountNotFound
}

// FindAccountByCustomerID implements payments.Store
func (s *Store) FindAccountByCustomerID(_ context.Context, customerID string) (*payments.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.CustomerID == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, payments.ErrAccountNotFound
}

// SetAccountCustomerID implements payments.Store
func (s *Store) SetAccountCustomerID(_ context.Context, accountID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return payments.ErrAccountNotFound
	}
	a.CustomerID = customerID
	return nil
}

// GrantUnlock implements payments.Store with set semantics
func (s *Store) GrantUnlock(_ context.Context, accountID, contentID string, kind payments.UnlockKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return payments.ErrAccountNotFound
	}

	if a.HasUnlock(kind, contentID) {
		return nil
	}
	if kind == payments.UnlockDMMedia {
		a.UnlockedMedia = append(a.UnlockedMedia, contentID)
	} else {
		a.UnlockedPosts = append(a.UnlockedPosts, contentID)
	}
	return nil
}

// GetPost implements payments.Store
func (s *Store) GetPost(_ context.Context, id string) (*payments.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, payments.ErrPostNotFound
	}
	cp := *p
	return &cp, nil
}

// AddGoalProgress implements payments.Store. The contribution id check and
// the increment happen under one lock, mirroring the Firestore transaction.
func (s *Store) AddGoalProgress(_ context.Context, postID string, amountCents int64, contributionID string) error {
	if amountCents < 0 {
		return fmt.Errorf("negative contribution amount")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if contributionID != "" && s.contributions[contributionID] {
		return nil // already applied
	}

	p, ok := s.posts[postID]
	if !ok {
		return payments.ErrPostNotFound
	}
	if !p.Goal.Enabled {
		return payments.ErrGoalDisabled
	}

	p.Goal.RaisedCents += amountCents
	if contributionID != "" {
		s.contributions[contributionID] = true
	}
	return nil
}

// CreateMember implements payments.Store. Creation is a no-op when a record
// with the same id already exists, so it never resurrects a cancelled member.
func (s *Store) CreateMember(_ context.Context, m *payments.Member) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("invalid member")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[m.ID]; exists {
		return nil
	}
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

// FindMemberBySubscriptionID implements payments.Store
func (s *Store) FindMemberBySubscriptionID(_ context.Context, subscriptionID string) (*payments.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[subscriptionID]
	if !ok {
		return nil, payments.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

// FindMemberByCustomerID implements payments.Store, returning the most
// recently joined match.
func (s *Store) FindMemberByCustomerID(_ context.Context, customerID string) (*payments.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *payments.Member
	for _, m := range s.members {
		if m.CustomerID != customerID {
			continue
		}
		if latest == nil || m.JoinedAt.After(latest.JoinedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, payments.ErrMemberNotFound
	}
	cp := *latest
	return &cp, nil
}

// ScheduleMemberEnd implements payments.Store
func (s *Store) ScheduleMemberEnd(_ context.Context, memberID string, endsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return payments.ErrMemberNotFound
	}
	endsAtCopy := endsAt
	m.AccessEndsAt = &endsAtCopy
	return nil
}

// CancelMember implements payments.Store
func (s *Store) CancelMember(_ context.Context, memberID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return payments.ErrMemberNotFound
	}
	m.Status = payments.MemberCancelled
	endedAtCopy := endedAt
	m.AccessEndsAt = &endedAtCopy
	return nil
}

// UpsertLedger implements payments.Store
func (s *Store) UpsertLedger(_ context.Context, rec *payments.LedgerRecord) error {
	if rec == nil || rec.ID == "" || rec.Kind == "" {
		return fmt.Errorf("invalid ledger record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.ledgers[ledgerKey(rec.Kind, rec.ID)] = &cp
	return nil
}

// GetLedger implements payments.Store. Absence is not an error.
func (s *Store) GetLedger(_ context.Context, kind payments.LedgerKind, id string) (*payments.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.ledgers[ledgerKey(kind, id)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// LedgerCount returns the number of records in one ledger. Test helper.
func (s *Store) LedgerCount(kind payments.LedgerKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.ledgers {
		if strings.HasPrefix(key, string(kind)+"/") {
			n++
		}
	}
	return n
}

func ledgerKey(kind payments.LedgerKind, id string) string {
	return fmt.Sprintf("%s/%s", kind, id)
}
