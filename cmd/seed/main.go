package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/config"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/db"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "dev", "info").Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)

	if cfg.StoreDriver != config.StorePostgres {
		logger.Error("seed writes to postgres, set STORE_DRIVER=postgres and POSTGRES_DSN")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	opts := seed.Options{
		Experts:       envInt("SEED_EXPERTS", 20),
		DaysPerExpert: envInt("SEED_DAYS_PER_EXPERT", 3),
		SlotsPerDay:   envInt("SEED_SLOTS_PER_DAY", 4),
	}
	logger.Info("seeding experts", "experts", opts.Experts, "days", opts.DaysPerExpert, "slots_per_day", opts.SlotsPerDay)

	experts, err := seed.Experts(ctx, appointment.NewPgRepository(pool), gofakeit.New(0), opts)
	if err != nil {
		logger.Error("seed experts", "error", err, "created", len(experts))
		os.Exit(1)
	}

	logger.Info("seed complete", "experts", len(experts))
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
