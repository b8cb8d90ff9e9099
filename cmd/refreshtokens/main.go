// Command refreshtokens runs one social credential refresh pass and exits.
// It is meant for cron or manual use when the in-process scheduler is disabled.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"schooldesk/internal/bootstrap"
	"schooldesk/internal/config"
	"schooldesk/internal/server"
	"schooldesk/internal/social"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, rdb, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	srv, err := server.NewServerWithDeps(cfg, db, rdb)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := srv.RunTokenRefresh(ctx)
	if errors.Is(err, social.ErrRefreshInProgress) {
		log.Println("A refresh is already running elsewhere, nothing to do")
		return
	}
	if err != nil {
		log.Fatalf("Token refresh failed: %v", err)
	}

	failed := false
	for _, r := range report.Results {
		if r.Error != "" {
			failed = true
			log.Printf("✗ %s: %s (%s)", r.Platform, r.Outcome, r.Error)
			continue
		}
		log.Printf("✓ %s: %s", r.Platform, r.Outcome)
	}
	log.Printf("Refresh finished in %s", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if failed {
		os.Exit(1)
	}
}
