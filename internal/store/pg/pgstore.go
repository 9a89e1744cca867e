package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"netrank.org/internal/ids"
	"netrank.org/internal/obs"
	"netrank.org/internal/rank"
)

// Store implements rank.Service on PostgreSQL.
type Store struct {
	db      *sql.DB
	workers int
}

var _ rank.Service = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithSweepWorkers bounds concurrent per-user transactions during sweeps.
func WithSweepWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Open connects to PostgreSQL with pool defaults tuned for sweep traffic.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, workers: rank.DefaultSweepWorkers}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewWithDB wraps an existing handle (tests use this with sqlmock).
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, workers: rank.DefaultSweepWorkers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetUser(ctx context.Context, userID string) (rank.User, error) {
	var u rank.User
	var sponsor sql.NullString
	err := s.db.QueryRowContext(ctx, `select id, sponsor_id, current_rank from users where id = $1`, userID).
		Scan(&u.ID, &sponsor, &u.CurrentRank)
	if errors.Is(err, sql.ErrNoRows) {
		return rank.User{}, rank.ErrNotFound
	}
	if err != nil {
		return rank.User{}, err
	}
	if sponsor.Valid {
		u.SponsorID = &sponsor.String
	}
	return u, nil
}

func (s *Store) NetworkSize(ctx context.Context, userID string) (int, error) {
	if _, err := s.currentRank(ctx, userID); err != nil {
		return 0, err
	}
	return rank.CountNetwork(ctx, userID, s.childIDs)
}

// childIDs resolves one frontier batch to its direct referrals.
func (s *Store) childIDs(ctx context.Context, parents []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select id from users where sponsor_id = any($1)`, parents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ActiveFrontals(ctx context.Context, userID string) (int, error) {
	if _, err := s.currentRank(ctx, userID); err != nil {
		return 0, err
	}
	// Distinct users, not distinct purchases: a frontal with two qualifying
	// packages counts once.
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(distinct p.user_id)
		from users c
		join purchases p on p.user_id = c.id and p.status = $3
		join packages k on k.id = p.package_id
		where c.sponsor_id = $1 and k.amount >= $2
	`, userID, rank.QualifyingPackage, rank.StatusActive).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Evaluate(ctx context.Context, userID string) (rank.Snapshot, error) {
	if _, err := s.currentRank(ctx, userID); err != nil {
		return rank.Snapshot{}, err
	}
	network, err := rank.CountNetwork(ctx, userID, s.childIDs)
	if err != nil {
		return rank.Snapshot{}, err
	}
	frontals, err := s.ActiveFrontals(ctx, userID)
	if err != nil {
		return rank.Snapshot{}, err
	}
	own, err := s.highestActivePackage(ctx, userID)
	if err != nil {
		return rank.Snapshot{}, err
	}
	return rank.Snapshot{
		UserID:      userID,
		OwnPackage:  own,
		Frontals:    frontals,
		NetworkSize: network,
		Eligible:    rank.ResolveTier(own, frontals, network),
	}, nil
}

// RecalculateOne promotes monotonically and pays the tier reward at most
// once. Census and frontal reads run outside the transaction: they may race
// with freshly approved purchases and are simply picked up by the next run.
// The transaction itself locks the user row, so promotions for the same user
// serialize; the partial unique index on rank_history is the system-wide
// backstop for the reward.
func (s *Store) RecalculateOne(ctx context.Context, userID string) (rank.Promotion, error) {
	snap, err := s.Evaluate(ctx, userID)
	if err != nil {
		return rank.Promotion{}, err
	}

	promo, err := s.commitPromotion(ctx, userID, func(current int) (int, bool) {
		next := current
		if snap.Eligible > next {
			next = snap.Eligible
		}
		return next, next != current // reward only on an actual raise
	})
	if err != nil {
		return rank.Promotion{}, err
	}
	return promo, nil
}

func (s *Store) SetRankManual(ctx context.Context, userID string, target int) (rank.Promotion, error) {
	if target < 0 || target > rank.MaxRank {
		return rank.Promotion{}, rank.ErrInvalidRank
	}
	return s.commitPromotion(ctx, userID, func(current int) (int, bool) {
		// Unconditional set, downgrades included. The reward rule still
		// applies whenever a tier is assigned; no clawback on downgrade.
		return target, target > 0
	})
}

// commitPromotion runs the atomic rank transition. decide maps the locked
// current rank to the new rank and whether the tier record/reward logic
// applies.
func (s *Store) commitPromotion(ctx context.Context, userID string, decide func(current int) (int, bool)) (rank.Promotion, error) {
	promo, err := s.promoteTx(ctx, userID, decide)
	if err == nil {
		return promo, nil
	}
	if !isUniqueViolation(err) {
		return rank.Promotion{}, err
	}
	// A concurrent invocation won the race to pay this tier's reward. The
	// losing side re-runs; the existence check now sees the paid row and the
	// outcome degrades to "already paid", never a caller-visible error.
	promo, err = s.promoteTx(ctx, userID, decide)
	if err != nil {
		return rank.Promotion{}, err
	}
	return promo, nil
}

func (s *Store) promoteTx(ctx context.Context, userID string, decide func(current int) (int, bool)) (rank.Promotion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rank.Promotion{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `select current_rank from users where id = $1 for update`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return rank.Promotion{}, rank.ErrNotFound
	}
	if err != nil {
		return rank.Promotion{}, err
	}

	next, recordTier := decide(current)
	promo := rank.Promotion{UserID: userID, OldRank: current, NewRank: next}
	if next == current && !recordTier {
		return promo, nil
	}

	if next != current {
		if _, err := tx.ExecContext(ctx, `update users set current_rank = $2 where id = $1`, userID, next); err != nil {
			return rank.Promotion{}, err
		}
	}

	if recordTier && next > 0 {
		paid, err := s.recordTierTx(ctx, tx, userID, next)
		if err != nil {
			return rank.Promotion{}, err
		}
		promo.BonusPaid = paid
	}

	if err := tx.Commit(); err != nil {
		return rank.Promotion{}, err
	}
	return promo, nil
}

// recordTierTx appends the history row for the reached tier and, when the
// tier was never paid before, credits the one-time reward. The check and the
// writes share the caller's transaction; the partial unique index turns any
// remaining race into a detectable conflict.
func (s *Store) recordTierTx(ctx context.Context, tx *sql.Tx, userID string, tierRank int) (bool, error) {
	tier, ok := rank.TierByRank(tierRank)
	if !ok {
		return false, nil
	}

	var alreadyPaid bool
	err := tx.QueryRowContext(ctx, `
		select exists(select 1 from rank_history where user_id = $1 and rank = $2 and reward_paid)
	`, userID, tierRank).Scan(&alreadyPaid)
	if err != nil {
		return false, err
	}

	if alreadyPaid {
		// Rank re-confirmed; record the event without a duplicate reward.
		_, err := tx.ExecContext(ctx, `
			insert into rank_history(id, user_id, rank, reward_paid)
			values ($1, $2, $3, false)
		`, ids.New(), userID, tierRank)
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into rank_history(id, user_id, rank, reward_paid, paid_at)
		values ($1, $2, $3, true, now())
	`, ids.New(), userID, tierRank); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into wallet_ledger(id, user_id, category, amount, description)
		values ($1, $2, $3, $4, $5)
	`, ids.New(), userID, rank.CategoryRankBonus, tier.OneTimeReward, rank.BonusDescription(tier)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) RecalculateAll(ctx context.Context) (rank.SweepReport, error) {
	candidates, err := s.listCandidates(ctx)
	if err != nil {
		return rank.SweepReport{}, err
	}

	report := rank.RunSweep(ctx, candidates, s.workers, s.RecalculateOne, func(userID string, err error) {
		obs.LogError("rank_candidate_failed", err, map[string]any{"user_id": userID})
	})
	return report, nil
}

// listCandidates excludes accounts that can never be eligible: no ACTIVE
// purchase, no direct referral, no rank to keep.
func (s *Store) listCandidates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select u.id from users u
		where u.current_rank > 0
		   or exists (select 1 from users c where c.sponsor_id = u.id)
		   or exists (select 1 from purchases p where p.user_id = u.id and p.status = $1)
		order by u.id
	`, rank.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) currentRank(ctx context.Context, userID string) (int, error) {
	var current int
	err := s.db.QueryRowContext(ctx, `select current_rank from users where id = $1`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, rank.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return current, nil
}

func (s *Store) highestActivePackage(ctx context.Context, userID string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(max(k.amount), 0)
		from purchases p
		join packages k on k.id = p.package_id
		where p.user_id = $1 and p.status = $2
	`, userID, rank.StatusActive).Scan(&amount)
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// isUniqueViolation reports a PostgreSQL unique_violation (23505), which here
// can only come from the partial unique index guarding paid history rows.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
