package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/dropDatabas3/spawnhub/internal/config"
	"github.com/dropDatabas3/spawnhub/internal/store"
	_ "github.com/dropDatabas3/spawnhub/internal/store/adapters/pg"
	migrations "github.com/dropDatabas3/spawnhub/migrations/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config")
		dsn        = flag.String("dsn", "", "Postgres DSN (overrides storage.dsn)")
	)
	flag.Parse()

	// Positional args: [action]
	action := "up"
	if args := flag.Args(); len(args) >= 1 && args[0] != "" {
		action = strings.ToLower(args[0])
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if cfg.Storage.DSN == "" {
		log.Fatal("storage.dsn is empty (use --dsn or STORAGE_DSN)")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, store.AdapterConfig{Name: "postgres", DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer st.Close()

	exec := st.(store.MigratableStore).MigrationExecutor()
	m := store.NewMigrator(migrations.HubFS, migrations.HubDir)

	switch action {
	case "up":
		res, err := m.Run(ctx, exec)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Printf("Applied %d migration(s), skipped %d (%s).", len(res.Applied), len(res.Skipped), res.Duration)

	case "status":
		all, err := m.ParseMigrations()
		if err != nil {
			log.Fatalf("parse: %v", err)
		}
		applied, err := exec.QueryVersions(ctx)
		if err != nil {
			log.Fatalf("query versions: %v", err)
		}
		done := make(map[int]bool, len(applied))
		for _, v := range applied {
			done[v] = true
		}
		for _, mg := range all {
			mark := "pending"
			if done[mg.Version] {
				mark = "applied"
			}
			fmt.Printf("%04d  %-30s %s\n", mg.Version, mg.Name, mark)
		}

	default:
		log.Fatalf("unknown action %q. Use: up | status", action)
	}
}
