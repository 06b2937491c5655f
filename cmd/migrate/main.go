package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/config"
	"github.com/nimbusid/authapi/internal/migrate"
	"github.com/nimbusid/authapi/internal/obs"
	"github.com/nimbusid/authapi/internal/store/pg"
	"github.com/nimbusid/authapi/migrations"
)

// defaultPrincipals are provisioned by the seed command for local use.
var defaultPrincipals = []struct {
	kind     auth.Kind
	name     string
	email    string
	password string
	role     string
}{
	{kind: auth.KindUser, name: "Test User", email: "user@gmail.com", password: "password"},
	{kind: auth.KindAdmin, name: "Super Admin", email: "admin@gmail.com", password: "password123", role: "super_admin"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	var (
		dsn     = flag.String("dsn", cfg.Database.URL, "PostgreSQL DSN (default DATABASE_URL)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.Log.Level, Dev: cfg.Log.Dev})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if flag.NArg() == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status]")
	}
	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.Pool{MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	mgr := migrate.NewManager(store.DB().DB, migrations.Schema(), migrations.Seeds(), migrate.WithLogger(logger))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
		if err == nil {
			err = seedPrincipals(ctx, store, logger)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}

// seedPrincipals upserts the default accounts, so rerunning resets their passwords.
func seedPrincipals(ctx context.Context, store *pg.Store, logger *zap.Logger) error {
	hasher := auth.BcryptHasher{}
	for _, d := range defaultPrincipals {
		hash, err := hasher.Hash(d.password)
		if err != nil {
			return err
		}
		p := &auth.Principal{
			Kind:         d.kind,
			Name:         d.name,
			Email:        d.email,
			PasswordHash: hash,
			Status:       auth.StatusActive,
			Role:         d.role,
		}
		if err := store.Principals().Upsert(ctx, p); err != nil {
			return fmt.Errorf("seed %s %s: %w", d.kind, d.email, err)
		}
		logger.Info("seeded principal", zap.String("kind", d.kind.String()), zap.String("email", p.Email), zap.String("id", p.ID))
	}
	return nil
}
