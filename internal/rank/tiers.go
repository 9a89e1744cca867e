package rank

import "fmt"

// Tier is one row of the static rank threshold table.
type Tier struct {
	Rank          int    `json:"rank"`
	Title         string `json:"title"`
	MinOwnPackage int64  `json:"min_own_package"` // minor units
	MinFrontals   int    `json:"min_frontals"`
	MinNetwork    int    `json:"min_network"`
	OneTimeReward int64  `json:"one_time_reward"` // minor units
	RewardRateBps int    `json:"reward_rate_bps"` // recurring rate, value only
}

// QualifyingPackage is the minimum ACTIVE package amount for a direct
// referral to count as a frontal. The same constant applies to every tier;
// tiers differ only in how many qualifying frontals they require.
const QualifyingPackage int64 = 30000

// MaxRank is the highest achievable tier.
const MaxRank = 5

// Tiers is ordered ascending by rank. Thresholds are non-decreasing by tier;
// the resolver relies on the table, it does not verify the table.
var Tiers = []Tier{
	{Rank: 1, Title: "Associate", MinOwnPackage: 30000, MinFrontals: 3, MinNetwork: 0, OneTimeReward: 5000, RewardRateBps: 500},
	{Rank: 2, Title: "Builder", MinOwnPackage: 50000, MinFrontals: 5, MinNetwork: 25, OneTimeReward: 15000, RewardRateBps: 600},
	{Rank: 3, Title: "Director", MinOwnPackage: 100000, MinFrontals: 7, MinNetwork: 100, OneTimeReward: 50000, RewardRateBps: 700},
	{Rank: 4, Title: "Executive", MinOwnPackage: 250000, MinFrontals: 10, MinNetwork: 400, OneTimeReward: 200000, RewardRateBps: 800},
	{Rank: 5, Title: "Ambassador", MinOwnPackage: 500000, MinFrontals: 15, MinNetwork: 1500, OneTimeReward: 1000000, RewardRateBps: 1000},
}

// TierByRank returns the tier definition for ranks 1..5.
func TierByRank(rank int) (Tier, bool) {
	for _, t := range Tiers {
		if t.Rank == rank {
			return t, true
		}
	}
	return Tier{}, false
}

// ResolveTier returns the highest tier whose three thresholds are all met,
// or 0 when none are. Evaluation short-circuits from tier 5 down; it is not
// cumulative across tiers.
func ResolveTier(ownPackage int64, frontals, networkSize int) int {
	for i := len(Tiers) - 1; i >= 0; i-- {
		t := Tiers[i]
		if ownPackage >= t.MinOwnPackage && frontals >= t.MinFrontals && networkSize >= t.MinNetwork {
			return t.Rank
		}
	}
	return 0
}

// BonusDescription is the human-readable ledger text for a tier's one-time
// reward. Stable for display; totals are computed from category and amount,
// never from this string.
func BonusDescription(t Tier) string {
	return fmt.Sprintf("Rank %d (%s) achievement bonus", t.Rank, t.Title)
}
