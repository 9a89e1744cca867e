package rank

import (
	"errors"
	"time"
)

// Amounts are in minor units (e.g., cents). No floats.

// User is the slice of the platform's user record this engine needs:
// identity, the upline edge, and the persisted rank.
type User struct {
	ID          string  `json:"id"`
	SponsorID   *string `json:"sponsor_id,omitempty"`
	CurrentRank int     `json:"current_rank"` // 0 = none, 1..5 ascending
}

// Purchase is the slice of a package purchase this engine consumes: owner,
// package amount and status. Only ACTIVE purchases count toward rank math.
type Purchase struct {
	UserID        string `json:"user_id"`
	PackageAmount int64  `json:"package_amount"` // minor units
	Status        string `json:"status"`
}

// StatusActive is the purchase status produced by the external approval flow.
const StatusActive = "ACTIVE"

// HistoryRecord is one promotion event. Append-only; at most one record per
// (user, rank) may carry RewardPaid = true.
type HistoryRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Rank       int        `json:"rank"`
	RewardPaid bool       `json:"reward_paid"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// LedgerEntry is an append-only wallet credit/debit. This engine only writes
// entries with Category == CategoryRankBonus and never reads other categories.
type LedgerEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	Amount      int64     `json:"amount"` // minor units, signed
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryRankBonus tags one-time rank achievement credits in the wallet
// ledger. Dashboards must total by this tag and the amount field, never by
// parsing descriptions.
const CategoryRankBonus = "rank_bonus"

// Snapshot is the diagnostic result of an eligibility evaluation: the three
// raw inputs alongside the tier they resolve to.
type Snapshot struct {
	UserID      string `json:"user_id"`
	OwnPackage  int64  `json:"own_package"`  // highest ACTIVE package amount, 0 if none
	Frontals    int    `json:"frontals"`     // qualifying direct referrals
	NetworkSize int    `json:"network_size"` // all transitive referrals
	Eligible    int    `json:"eligible"`     // resolved tier, 0..5
}

// Promotion is the outcome of a single-user recalculation or a manual set.
type Promotion struct {
	UserID    string `json:"user_id"`
	OldRank   int    `json:"old_rank"`
	NewRank   int    `json:"new_rank"`
	BonusPaid bool   `json:"bonus_paid"`
}

// SweepReport aggregates a full recalculation run.
type SweepReport struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	BonusPaid int `json:"bonus_paid"`
	Failed    int `json:"failed"`
}

var (
	ErrNotFound    = errors.New("user not found")
	ErrInvalidRank = errors.New("rank must be between 0 and 5")
)
