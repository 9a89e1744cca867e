package rank

import (
	"context"
	"sync"
)

// Service defines the rank engine operations.
//
// RecalculateOne and SetRankManual surface their errors directly;
// RecalculateAll isolates per-candidate failures and only reports counts.
type Service interface {
	// GetUser returns the stored user record.
	GetUser(ctx context.Context, userID string) (User, error)
	// NetworkSize counts all transitive referrals below a user, any depth.
	NetworkSize(ctx context.Context, userID string) (int, error)
	// ActiveFrontals counts distinct direct referrals holding a qualifying
	// ACTIVE package.
	ActiveFrontals(ctx context.Context, userID string) (int, error)
	// Evaluate returns the live eligibility snapshot without mutating state.
	Evaluate(ctx context.Context, userID string) (Snapshot, error)
	// RecalculateOne applies a monotonic promotion for one user and pays the
	// tier's one-time reward at most once per (user, tier).
	RecalculateOne(ctx context.Context, userID string) (Promotion, error)
	// RecalculateAll sweeps every candidate user through RecalculateOne.
	RecalculateAll(ctx context.Context) (SweepReport, error)
	// SetRankManual sets a rank unconditionally (downgrades allowed), reusing
	// the exactly-once reward rule. A downgrade does not claw back rewards.
	SetRankManual(ctx context.Context, userID string, rank int) (Promotion, error)
}

// DefaultSweepWorkers bounds concurrent per-user transactions during a sweep
// so a run cannot exhaust the storage connection pool.
const DefaultSweepWorkers = 6

// RunSweep drives recalc over candidates with a bounded worker pool. Each
// candidate runs in its own transaction; a failure is reported to onErr and
// never aborts the rest of the run.
func RunSweep(ctx context.Context, candidates []string, workers int, recalc func(context.Context, string) (Promotion, error), onErr func(userID string, err error)) SweepReport {
	if workers <= 0 {
		workers = DefaultSweepWorkers
	}
	if workers > len(candidates) && len(candidates) > 0 {
		workers = len(candidates)
	}

	var (
		mu     sync.Mutex
		report SweepReport
		wg     sync.WaitGroup
		feed   = make(chan string)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range feed {
				promo, err := recalc(ctx, id)
				mu.Lock()
				report.Processed++
				if err != nil {
					report.Failed++
					mu.Unlock()
					if onErr != nil {
						onErr(id, err)
					}
					continue
				}
				if promo.NewRank != promo.OldRank {
					report.Updated++
				}
				if promo.BonusPaid {
					report.BonusPaid++
				}
				mu.Unlock()
			}
		}()
	}

	for _, id := range candidates {
		select {
		case <-ctx.Done():
			// Stop feeding; in-flight candidates finish on their own.
			close(feed)
			wg.Wait()
			return report
		case feed <- id:
		}
	}
	close(feed)
	wg.Wait()
	return report
}
