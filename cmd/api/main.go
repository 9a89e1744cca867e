package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"netrank.org/internal/httpapi"
	"netrank.org/internal/obs"
	"netrank.org/internal/rank"
	"netrank.org/internal/store/pg"
	"netrank.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	httpAddr := envOr("NETRANK_HTTP_ADDR", ":8080")
	grpcAddr := os.Getenv("NETRANK_GRPC_ADDR")

	var (
		svc   rank.Service
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("NETRANK_PG_DSN"); dsn != "" {
		var opts []pg.Option
		if raw := os.Getenv("NETRANK_SWEEP_WORKERS"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				log.Fatalf("invalid NETRANK_SWEEP_WORKERS %q", raw)
			}
			opts = append(opts, pg.WithSweepWorkers(n))
		}
		store, err := pg.Open(dsn, opts...)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		svc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// No DSN: volatile in-memory engine, for local development only.
		log.Println("NETRANK_PG_DSN not set, running with in-memory storage")
		svc = rank.NewInMemory()
	}

	api := httpapi.New(probe, version, svc, stream.New())

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Generous write timeout: /v1/rank/recalculate holds the request
		// open for the whole sweep.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting netrank-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewHealthServer(probe).Register(grpcSrv)
		log.Printf("gRPC health on %s", grpcAddr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
