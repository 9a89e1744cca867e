package rank

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func sponsor(id string) *string { return &id }

// buildTestTree wires root -> 3 children, each with 2 children of their own.
func buildTestTree(s *InMemory) {
	s.AddUser("root", nil)
	for i := 0; i < 3; i++ {
		child := fmt.Sprintf("c%d", i)
		s.AddUser(child, sponsor("root"))
		for j := 0; j < 2; j++ {
			s.AddUser(fmt.Sprintf("%s-g%d", child, j), sponsor(child))
		}
	}
}

func TestNetworkSizeCountsAllDepths(t *testing.T) {
	s := NewInMemory()
	buildTestTree(s)

	count, err := s.NetworkSize(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	if count != 9 {
		t.Fatalf("expected 9 descendants, got %d", count)
	}
}

func TestNetworkSizeUnknownUser(t *testing.T) {
	s := NewInMemory()
	if _, err := s.NetworkSize(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveFrontalsCountsDistinctUsers(t *testing.T) {
	s := NewInMemory()
	s.AddUser("root", nil)
	s.AddUser("a", sponsor("root"))
	s.AddUser("b", sponsor("root"))
	s.AddUser("grand", sponsor("a"))

	// a holds two qualifying ACTIVE purchases: still one frontal.
	s.AddPurchase("a", QualifyingPackage, StatusActive)
	s.AddPurchase("a", QualifyingPackage*2, StatusActive)
	// b holds only a pending purchase: not a frontal.
	s.AddPurchase("b", QualifyingPackage, "PENDING")
	// grand is depth 2: never a frontal of root.
	s.AddPurchase("grand", QualifyingPackage, StatusActive)

	count, err := s.ActiveFrontals(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 frontal, got %d", count)
	}
}

func TestActiveFrontalsBelowThreshold(t *testing.T) {
	s := NewInMemory()
	s.AddUser("root", nil)
	s.AddUser("a", sponsor("root"))
	s.AddPurchase("a", QualifyingPackage-1, StatusActive)

	count, err := s.ActiveFrontals(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("sub-threshold package counted as frontal: %d", count)
	}
}

// Tier 1 requires 3 frontals, any network size, and an own $300 package.
// Without the own package the other two criteria are not enough.
func TestRecalculateOneFailsOwnPackageCriterion(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	for _, id := range []string{"A", "B", "C"} {
		s.AddUser(id, sponsor("R"))
		s.AddPurchase(id, 30000, StatusActive)
	}

	promo, err := s.RecalculateOne(context.Background(), "R")
	if err != nil {
		t.Fatal(err)
	}
	if promo.OldRank != 0 || promo.NewRank != 0 || promo.BonusPaid {
		t.Fatalf("expected no promotion, got %+v", promo)
	}
	if entries := s.LedgerEntries("R"); len(entries) != 0 {
		t.Fatalf("unexpected ledger entries: %v", entries)
	}
}

func TestRecalculateOnePromotesAndPaysOnce(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	s.AddPurchase("R", 30000, StatusActive)
	for _, id := range []string{"A", "B", "C"} {
		s.AddUser(id, sponsor("R"))
		s.AddPurchase(id, 30000, StatusActive)
	}

	promo, err := s.RecalculateOne(context.Background(), "R")
	if err != nil {
		t.Fatal(err)
	}
	if promo.OldRank != 0 || promo.NewRank != 1 || !promo.BonusPaid {
		t.Fatalf("expected promotion to tier 1 with bonus, got %+v", promo)
	}

	hist := s.History("R")
	if len(hist) != 1 || hist[0].Rank != 1 || !hist[0].RewardPaid || hist[0].PaidAt == nil {
		t.Fatalf("unexpected history: %+v", hist)
	}
	tier1, _ := TierByRank(1)
	entries := s.LedgerEntries("R")
	if len(entries) != 1 || entries[0].Category != CategoryRankBonus || entries[0].Amount != tier1.OneTimeReward {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}

	// Idempotence: a second immediate call changes nothing.
	again, err := s.RecalculateOne(context.Background(), "R")
	if err != nil {
		t.Fatal(err)
	}
	if again.OldRank != 1 || again.NewRank != 1 || again.BonusPaid {
		t.Fatalf("second call not idempotent: %+v", again)
	}
	if len(s.LedgerEntries("R")) != 1 {
		t.Fatalf("second call produced ledger entries")
	}
}

func TestRecalculateOneIsMonotonic(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	if _, err := s.SetRankManual(context.Background(), "R", 4); err != nil {
		t.Fatal(err)
	}

	// Live stats resolve to tier 0; automatic recalculation must not lower.
	promo, err := s.RecalculateOne(context.Background(), "R")
	if err != nil {
		t.Fatal(err)
	}
	if promo.NewRank != 4 {
		t.Fatalf("automatic path lowered rank: %+v", promo)
	}
}

func TestRewardPaidAtMostOnceUnderConcurrency(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	s.AddPurchase("R", 30000, StatusActive)
	for _, id := range []string{"A", "B", "C"} {
		s.AddUser(id, sponsor("R"))
		s.AddPurchase(id, 30000, StatusActive)
	}

	var wg sync.WaitGroup
	N := 50
	paid := make(chan bool, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			promo, err := s.RecalculateOne(context.Background(), "R")
			if err != nil {
				t.Error(err)
				return
			}
			paid <- promo.BonusPaid
		}()
	}
	wg.Wait()
	close(paid)

	paidCount := 0
	for p := range paid {
		if p {
			paidCount++
		}
	}
	if paidCount != 1 {
		t.Fatalf("reward paid %d times", paidCount)
	}
	if entries := s.LedgerEntries("R"); len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
}

func TestManualSetPaysSameTierOnlyOnce(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)

	first, err := s.SetRankManual(context.Background(), "R", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !first.BonusPaid {
		t.Fatalf("first manual assignment should pay: %+v", first)
	}

	// Down and back up: tier 2 was already paid.
	if _, err := s.SetRankManual(context.Background(), "R", 1); err != nil {
		t.Fatal(err)
	}
	second, err := s.SetRankManual(context.Background(), "R", 2)
	if err != nil {
		t.Fatal(err)
	}
	if second.BonusPaid {
		t.Fatalf("tier 2 reward paid twice: %+v", second)
	}

	tier2Paid := 0
	for _, e := range s.LedgerEntries("R") {
		tier2, _ := TierByRank(2)
		if e.Category == CategoryRankBonus && e.Amount == tier2.OneTimeReward {
			tier2Paid++
		}
	}
	if tier2Paid != 1 {
		t.Fatalf("expected one tier-2 credit, got %d", tier2Paid)
	}
}

func TestManualDowngradePreservesHistory(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	if _, err := s.SetRankManual(context.Background(), "R", 3); err != nil {
		t.Fatal(err)
	}

	promo, err := s.SetRankManual(context.Background(), "R", 1)
	if err != nil {
		t.Fatal(err)
	}
	if promo.OldRank != 3 || promo.NewRank != 1 {
		t.Fatalf("unexpected downgrade result: %+v", promo)
	}

	u, err := s.GetUser(context.Background(), "R")
	if err != nil {
		t.Fatal(err)
	}
	if u.CurrentRank != 1 {
		t.Fatalf("expected rank 1, got %d", u.CurrentRank)
	}

	var tier3 *HistoryRecord
	for _, h := range s.History("R") {
		if h.Rank == 3 {
			h := h
			tier3 = &h
		}
	}
	if tier3 == nil || !tier3.RewardPaid {
		t.Fatalf("tier-3 paid history row missing after downgrade")
	}
	// The tier-3 credit stays in the ledger untouched.
	t3, _ := TierByRank(3)
	found := false
	for _, e := range s.LedgerEntries("R") {
		if e.Amount == t3.OneTimeReward {
			found = true
		}
	}
	if !found {
		t.Fatalf("tier-3 ledger credit missing after downgrade")
	}
}

func TestManualSetRejectsOutOfRange(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	if _, err := s.SetRankManual(context.Background(), "R", 6); err != ErrInvalidRank {
		t.Fatalf("expected ErrInvalidRank, got %v", err)
	}
	if _, err := s.SetRankManual(context.Background(), "R", -1); err != ErrInvalidRank {
		t.Fatalf("expected ErrInvalidRank, got %v", err)
	}
	// Rejected before any mutation: no history appears.
	if len(s.History("R")) != 0 {
		t.Fatalf("invalid input left history rows")
	}
}

func TestRecalculateAllCountsAndIsolation(t *testing.T) {
	s := NewInMemory()
	// R qualifies for tier 1.
	s.AddUser("R", nil)
	s.AddPurchase("R", 30000, StatusActive)
	for _, id := range []string{"A", "B", "C"} {
		s.AddUser(id, sponsor("R"))
		s.AddPurchase(id, 30000, StatusActive)
	}
	// idle has nothing: not a candidate.
	s.AddUser("idle", nil)

	report, err := s.RecalculateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Candidates: R (active purchase + referrals) and A, B, C (active purchases).
	if report.Processed != 4 {
		t.Fatalf("expected 4 processed, got %+v", report)
	}
	if report.Updated != 1 || report.BonusPaid != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// A second sweep is a no-op.
	report, err = s.RecalculateAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Updated != 0 || report.BonusPaid != 0 {
		t.Fatalf("second sweep not idempotent: %+v", report)
	}
}

func TestEvaluateSnapshot(t *testing.T) {
	s := NewInMemory()
	s.AddUser("R", nil)
	s.AddPurchase("R", 30000, StatusActive)
	for _, id := range []string{"A", "B", "C"} {
		s.AddUser(id, sponsor("R"))
		s.AddPurchase(id, 30000, StatusActive)
	}

	snap, err := s.Evaluate(context.Background(), "R")
	if err != nil {
		t.Fatal(err)
	}
	want := Snapshot{UserID: "R", OwnPackage: 30000, Frontals: 3, NetworkSize: 3, Eligible: 1}
	if snap != want {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
