// Command main runs the database seeder for Schooldesk.
package main

import (
	"context"
	"flag"
	"log"

	"schooldesk/internal/config"
	"schooldesk/internal/database"
	"schooldesk/internal/seed"
)

func main() {
	// Parse command line flags
	numSchools := flag.Int("schools", 5, "Number of schools to create")
	numWriters := flag.Int("writers", 3, "Number of writers to create")
	perSchool := flag.Int("submissions", 6, "Submissions per school")
	coins := flag.Int64("coins", 297, "Starting coins granted to each school")
	shouldClean := flag.Bool("clean", true, "Clean demo data before seeding")
	dryRun := flag.Bool("dry-run", false, "Build entities without writing to the database")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d schools, %d writers, %d submissions per school, clean=%v\n",
		*numSchools, *numWriters, *perSchool, *shouldClean)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	_, err = seed.Seed(context.Background(), db, seed.Options{
		NumSchools:           *numSchools,
		NumWriters:           *numWriters,
		SubmissionsPerSchool: *perSchool,
		StartingCoins:        *coins,
		ShouldClean:          *shouldClean,
		DryRun:               *dryRun,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Your database is now populated with demo data.")
	log.Printf("📧 All seeded users have the password: %s", seed.DefaultPassword)
}
