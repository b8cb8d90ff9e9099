// Command migrate runs schema operations for the Schooldesk database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"schooldesk/internal/config"
	"schooldesk/internal/database"

	"gorm.io/gorm"
)

type command struct {
	help string
	run  func(ctx context.Context, db *gorm.DB, cfg *config.Config, args []string) error
}

var commands = map[string]command{
	"up":     {"apply pending SQL migrations", runUp},
	"auto":   {"run GORM AutoMigrate regardless of DB_SCHEMA_MODE", runAuto},
	"status": {"show the schema plan and pending migrations", runStatus},
	"down":   {"revert the latest migration ([version] must name it)", runDown},
}

func main() {
	flag.Usage = usage
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline for the command")
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	name := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	cmd, ok := commands[name]
	if !ok {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := cmd.run(ctx, db, cfg, flag.Args()[1:]); err != nil {
		log.Fatalf("❌ migrate %s: %v", name, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/migrate/main.go [-timeout 2m] <command> [args]")
	for _, name := range []string{"up", "auto", "status", "down"} {
		fmt.Fprintf(os.Stderr, "  %-7s %s\n", name, commands[name].help)
	}
}

func runUp(ctx context.Context, db *gorm.DB, _ *config.Config, _ []string) error {
	set, err := database.GetMigrations()
	if err != nil {
		return err
	}
	ran, err := database.NewMigrator(db, set).Up(ctx)
	for _, m := range ran {
		log.Printf("✅ applied %s", m)
	}
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		log.Println("schema already up to date")
	}
	return nil
}

func runAuto(ctx context.Context, db *gorm.DB, cfg *config.Config, _ []string) error {
	cfg.DBSchemaMode = database.SchemaModeAuto
	if err := database.ApplySchema(ctx, db, cfg); err != nil {
		return err
	}
	log.Println("✅ automigrations applied")
	return nil
}

func runStatus(ctx context.Context, db *gorm.DB, cfg *config.Config, _ []string) error {
	status, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return err
	}
	log.Printf("mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d",
		status.Mode, status.Environment, status.RunSQL, status.RunAuto, len(status.Applied), len(status.Pending))
	for _, l := range status.Applied {
		log.Printf("applied: %06d_%s at %s", l.Version, l.Name, l.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		log.Printf("pending: %s", m)
	}
	if status.Problem != "" {
		return fmt.Errorf("migration log mismatch: %s", status.Problem)
	}
	return nil
}

func runDown(ctx context.Context, db *gorm.DB, _ *config.Config, args []string) error {
	version := 0
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		version = v
	}
	m, err := database.RollbackMigration(ctx, db, version)
	if err != nil {
		return err
	}
	log.Printf("↩️  rolled back %s", m)
	return nil
}
