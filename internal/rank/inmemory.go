package rank

import (
	"context"
	"sync"
	"time"

	"netrank.org/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. It backs
// tests, the demo mode and local development; production runs on the
// Postgres implementation in internal/store/pg.
type InMemory struct {
	mu        sync.Mutex
	users     map[string]*User
	children  map[string][]string
	purchases map[string][]Purchase
	history   []HistoryRecord
	paid      map[tierKey]bool
	ledger    []LedgerEntry
}

type tierKey struct {
	userID string
	rank   int
}

// NewInMemory creates an empty network.
func NewInMemory() *InMemory {
	return &InMemory{
		users:     make(map[string]*User),
		children:  make(map[string][]string),
		purchases: make(map[string][]Purchase),
		paid:      make(map[tierKey]bool),
	}
}

var _ Service = (*InMemory)(nil)

// AddUser registers a user with an optional sponsor. Sponsor edges are fixed
// at signup by the external registration flow.
func (s *InMemory) AddUser(id string, sponsorID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; ok {
		return
	}
	s.users[id] = &User{ID: id, SponsorID: sponsorID}
	if sponsorID != nil {
		s.children[*sponsorID] = append(s.children[*sponsorID], id)
	}
}

// AddPurchase records a purchase in any status; only ACTIVE ones count.
func (s *InMemory) AddPurchase(userID string, amount int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[userID] = append(s.purchases[userID], Purchase{
		UserID:        userID,
		PackageAmount: amount,
		Status:        status,
	})
}

// GetUser returns a copy of the stored user.
func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// History returns the promotion records for a user, oldest first.
func (s *InMemory) History(userID string) []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryRecord
	for _, h := range s.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out
}

// LedgerEntries returns the wallet entries for a user, oldest first.
func (s *InMemory) LedgerEntries(userID string) []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemory) NetworkSize(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	s.mu.Unlock()

	return CountNetwork(ctx, userID, func(ctx context.Context, parents []string) ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var out []string
		for _, p := range parents {
			out = append(out, s.children[p]...)
		}
		return out, nil
	})
}

func (s *InMemory) ActiveFrontals(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return 0, ErrNotFound
	}
	count := 0
	for _, child := range s.children[userID] {
		if s.highestActiveLocked(child) >= QualifyingPackage {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) Evaluate(ctx context.Context, userID string) (Snapshot, error) {
	network, err := s.NetworkSize(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	frontals, err := s.ActiveFrontals(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	own := s.highestActiveLocked(userID)
	s.mu.Unlock()

	return Snapshot{
		UserID:      userID,
		OwnPackage:  own,
		Frontals:    frontals,
		NetworkSize: network,
		Eligible:    ResolveTier(own, frontals, network),
	}, nil
}

func (s *InMemory) RecalculateOne(ctx context.Context, userID string) (Promotion, error) {
	snap, err := s.Evaluate(ctx, userID)
	if err != nil {
		return Promotion{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return Promotion{}, ErrNotFound
	}

	newRank := u.CurrentRank
	if snap.Eligible > newRank {
		newRank = snap.Eligible
	}
	promo := Promotion{UserID: userID, OldRank: u.CurrentRank, NewRank: newRank}
	if newRank == u.CurrentRank {
		return promo, nil
	}

	u.CurrentRank = newRank
	promo.BonusPaid = s.recordTierLocked(userID, newRank)
	return promo, nil
}

func (s *InMemory) RecalculateAll(ctx context.Context) (SweepReport, error) {
	s.mu.Lock()
	var candidates []string
	for id, u := range s.users {
		if u.CurrentRank > 0 || len(s.children[id]) > 0 || s.highestActiveLocked(id) > 0 {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	report := RunSweep(ctx, candidates, DefaultSweepWorkers, s.RecalculateOne, nil)
	return report, nil
}

func (s *InMemory) SetRankManual(ctx context.Context, userID string, rank int) (Promotion, error) {
	if rank < 0 || rank > MaxRank {
		return Promotion{}, ErrInvalidRank
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return Promotion{}, ErrNotFound
	}

	promo := Promotion{UserID: userID, OldRank: u.CurrentRank, NewRank: rank}
	u.CurrentRank = rank
	if rank > 0 {
		promo.BonusPaid = s.recordTierLocked(userID, rank)
	}
	return promo, nil
}

// highestActiveLocked returns the largest ACTIVE package amount held by a
// user, 0 when none. Caller holds s.mu.
func (s *InMemory) highestActiveLocked(userID string) int64 {
	var max int64
	for _, p := range s.purchases[userID] {
		if p.Status == StatusActive && p.PackageAmount > max {
			max = p.PackageAmount
		}
	}
	return max
}

// recordTierLocked appends a history record for the tier and credits the
// one-time reward unless it was ever paid before. Returns whether the reward
// was paid by this call. Caller holds s.mu.
func (s *InMemory) recordTierLocked(userID string, tierRank int) bool {
	tier, ok := TierByRank(tierRank)
	if !ok {
		return false
	}
	now := time.Now().UTC()
	key := tierKey{userID: userID, rank: tierRank}
	if s.paid[key] {
		s.history = append(s.history, HistoryRecord{
			ID:        ids.New(),
			UserID:    userID,
			Rank:      tierRank,
			CreatedAt: now,
		})
		return false
	}
	s.paid[key] = true
	s.history = append(s.history, HistoryRecord{
		ID:         ids.New(),
		UserID:     userID,
		Rank:       tierRank,
		RewardPaid: true,
		PaidAt:     &now,
		CreatedAt:  now,
	})
	s.ledger = append(s.ledger, LedgerEntry{
		ID:          ids.New(),
		UserID:      userID,
		Category:    CategoryRankBonus,
		Amount:      tier.OneTimeReward,
		Description: BonusDescription(tier),
		CreatedAt:   now,
	})
	return true
}
