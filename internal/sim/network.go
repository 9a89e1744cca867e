package sim

import (
	"fmt"
	"math/rand"
	"time"

	"netrank.org/internal/rank"
)

// Config shapes a synthetic referral network.
type Config struct {
	Roots  int // independent trees
	Fanout int // direct referrals per user
	Depth  int // levels below each root
	Seed   int64
}

// DefaultConfig produces a network large enough to exercise batched census
// traversal without slowing tests down.
func DefaultConfig() Config {
	return Config{Roots: 2, Fanout: 4, Depth: 3}
}

// Generator builds deterministic synthetic networks for demos and tests.
type Generator struct {
	cfg Config
	rnd *rand.Rand
}

// NewGenerator seeds a generator; a zero seed falls back to the clock.
func NewGenerator(cfg Config) Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.Roots <= 0 {
		cfg.Roots = 1
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 3
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 2
	}
	return Generator{cfg: cfg, rnd: rand.New(rand.NewSource(seed))}
}

// packageAmounts mirror the package catalogue; zero means no purchase.
var packageAmounts = []int64{0, 30000, 30000, 50000, 100000, 250000, 500000}

// Populate fills the in-memory store with a referral forest and randomized
// purchases and returns the root user ids.
func (g Generator) Populate(s *rank.InMemory) []string {
	var roots []string
	serial := 0
	for r := 0; r < g.cfg.Roots; r++ {
		root := fmt.Sprintf("sim-%04d", serial)
		serial++
		s.AddUser(root, nil)
		g.addPurchases(s, root)
		roots = append(roots, root)

		level := []string{root}
		for d := 0; d < g.cfg.Depth; d++ {
			var next []string
			for _, parent := range level {
				parent := parent
				for f := 0; f < g.cfg.Fanout; f++ {
					id := fmt.Sprintf("sim-%04d", serial)
					serial++
					s.AddUser(id, &parent)
					g.addPurchases(s, id)
					next = append(next, id)
				}
			}
			level = next
		}
	}
	return roots
}

func (g Generator) addPurchases(s *rank.InMemory, userID string) {
	amount := packageAmounts[g.rnd.Intn(len(packageAmounts))]
	if amount == 0 {
		return
	}
	status := rank.StatusActive
	// Roughly one purchase in five is still awaiting approval.
	if g.rnd.Intn(5) == 0 {
		status = "PENDING"
	}
	s.AddPurchase(userID, amount, status)
}
