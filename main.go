package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plate-auction/internal/auth"
	bidding "plate-auction/internal/biddingService"
	"plate-auction/internal/config"
	"plate-auction/internal/db"
	model "plate-auction/internal/models"
	"plate-auction/internal/repository"
	"plate-auction/internal/server"
	"plate-auction/utils"

	"github.com/jonboulle/clockwork"
)

// store is what the engine needs from a storage backend
type store interface {
	repository.BidLedger
	repository.LotStore
}

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}
	utils.SetLevel(cfg.LogLevel)

	clock := clockwork.NewRealClock()

	st, closeStore, err := openStore(cfg, clock)
	if err != nil {
		utils.Fatal("failed to open storage", map[string]any{"driver": cfg.StorageDriver, "error": err.Error()})
	}
	defer closeStore()

	biddingSvc := bidding.NewBiddingService(st, st, clock, bidding.Options{
		LockTimeout: cfg.LockTimeout,
		MaxAttempts: cfg.MaxAttempts,
	})
	identity := auth.NewProvider(cfg.JWTSecret, clock)

	router := server.SetupRouter(biddingSvc, identity)

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		utils.Info("starting auction server", map[string]any{"address": cfg.ServerAddress, "driver": cfg.StorageDriver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("server failed", map[string]any{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("shutting down server", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.Error("server forced to shutdown", map[string]any{"error": err.Error()})
	}
}

// openStore builds the configured storage backend and returns a function releasing it
func openStore(cfg config.Config, clock clockwork.Clock) (store, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		if err := db.RunMigrations(cfg.MigrationURL, cfg.PostgresConn); err != nil {
			return nil, nil, err
		}
		utils.Info("db migrated successfully", nil)

		pool, err := db.InitDb(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresRepo(pool), pool.Close, nil
	default:
		repo := repository.NewMemoryRepo()
		if cfg.SeedDemoLots {
			prepopulateLots(repo, clock.Now())
		}
		return repo, func() {}, nil
	}
}

// prepopulateLots adds sample lots to the in-memory repo
func prepopulateLots(repo *repository.MemoryRepo, now time.Time) {
	lots := []model.Lot{
		{LotID: "lot1", PlateNumber: "A001AA", Description: "Classic three-letter plate", Deadline: now.Add(7 * 24 * time.Hour), Active: true, OwnerID: "staff"},
		{LotID: "lot2", PlateNumber: "B777BB", Description: "Triple sevens", Deadline: now.Add(30 * 24 * time.Hour), Active: true, OwnerID: "staff"},
		{LotID: "lot3", PlateNumber: "C100CC", Description: "Closed lot", Deadline: now.Add(-24 * time.Hour), Active: false, OwnerID: "staff"},
	}

	for _, lot := range lots {
		repo.AddLot(lot)
	}
	utils.Info("seeded demo lots", map[string]any{"count": len(lots)})
}
