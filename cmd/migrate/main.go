package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/etmpass/notifications-service/pkg/config"
	"github.com/etmpass/notifications-service/pkg/db"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|redo|version|create|validate")
	dir := flag.String("dir", "", "migrations directory; empty uses the migrations built into the binary")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch files
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		if *name == "" {
			fail("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		if err != nil {
			fail(fmt.Sprintf("failed to create migration: %v", err))
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		source, err := migrate.Source(*dir)
		if err == nil {
			err = migrate.ValidateFS(source)
		}
		if err != nil {
			fail(fmt.Sprintf("migration validation failed: %v", err))
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(fmt.Sprintf("failed to load config: %v", err))
	}
	logg := logger.New(logger.Options{
		ServiceName: "notifications-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"cmd":       *cmd,
		"env":       cfg.App.Env,
		"db_driver": cfg.DB.Driver,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	requireResource(ctx, logg, "sql database", err)
	source, err := migrate.Source(*dir)
	requireResource(ctx, logg, "migration source", err)
	runner, err := migrate.NewRunner(sqlDB, cfg.DB.Driver, source)
	requireResource(ctx, logg, "migration runner", err)

	switch *cmd {
	case "up":
		applied, err := runner.Up(ctx)
		requireResource(ctx, logg, "goose up", err)
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
	case "down":
		requireResource(ctx, logg, "goose down", runner.Down(ctx))
	case "redo":
		requireResource(ctx, logg, "goose redo", runner.Redo(ctx))
	case "status":
		requireResource(ctx, logg, "goose status", printStatus(ctx, runner))
	case "version":
		if *version == "" {
			fail("missing -version for version command")
		}
		requireResource(ctx, logg, "goose version", runner.MigrateTo(ctx, *version))
	default:
		fail("unknown -cmd value: " + *cmd)
	}
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	statuses, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return w.Flush()
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "migrate step failed: "+resource, err)
	os.Exit(1)
}
