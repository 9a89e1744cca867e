package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"netrank.org/internal/rank"
	"netrank.org/internal/sim"
	"netrank.org/internal/store/pg"
)

// sweep runs one full recalculation pass and exits. Meant for cron; the
// -demo flag runs the same pass over a synthetic in-memory network instead.
func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("NETRANK_PG_DSN"), "PostgreSQL DSN")
		workers = flag.Int("workers", rank.DefaultSweepWorkers, "Concurrent recalculations")
		timeout = flag.Duration("timeout", 30*time.Minute, "Overall sweep deadline")
		demo    = flag.Bool("demo", false, "Sweep a synthetic in-memory network")
		seed    = flag.Int64("seed", 0, "Demo network seed (0 = random)")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var svc rank.Service
	if *demo {
		mem := rank.NewInMemory()
		cfg := sim.DefaultConfig()
		cfg.Seed = *seed
		roots := sim.NewGenerator(cfg).Populate(mem)
		log.Printf("demo network: %d trees", len(roots))
		svc = mem
	} else {
		if *dsn == "" {
			log.Fatal("missing DSN: provide via -dsn or NETRANK_PG_DSN (or use -demo)")
		}
		store, err := pg.Open(*dsn, pg.WithSweepWorkers(*workers))
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		svc = store
	}

	start := time.Now()
	report, err := svc.RecalculateAll(ctx)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}
	log.Printf("sweep done in %s: processed=%d updated=%d bonus_paid=%d failed=%d",
		time.Since(start).Round(time.Millisecond),
		report.Processed, report.Updated, report.BonusPaid, report.Failed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}
