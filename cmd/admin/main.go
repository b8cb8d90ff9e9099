// Package main provides admin management utilities for Schooldesk.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"schooldesk/internal/config"
	"schooldesk/internal/database"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"
	"schooldesk/internal/repository"
	"schooldesk/internal/service"

	"gorm.io/gorm"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin/main.go create-user <email> <name> <role> [school_id]  - Create a user (password from ADMIN_NEW_PASSWORD)")
	fmt.Println("  go run ./cmd/admin/main.go promote <user_id>                              - Promote user to admin")
	fmt.Println("  go run ./cmd/admin/main.go demote <user_id>                               - Demote admin to writer")
	fmt.Println("  go run ./cmd/admin/main.go list-admins                                    - List all admins")
	fmt.Println("  go run ./cmd/admin/main.go grant <school_id> <coins>                      - Credit coins to a school")
	fmt.Println("  go run ./cmd/admin/main.go activate <school_id>                           - Reactivate a school")
	fmt.Println("  go run ./cmd/admin/main.go deactivate <school_id>                         - Deactivate a school")
	fmt.Println("  go run ./cmd/admin/main.go reconcile <school_id>                          - Check a school's ledger")
}

// requireArgs exits with usage when fewer than n positional arguments follow the command.
func requireArgs(n int) {
	if len(os.Args) < n+2 {
		usage()
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "create-user":
		requireArgs(3)
		createUser(ctx, db, cfg)
	case "promote":
		requireArgs(1)
		setRole(db, os.Args[2], models.RoleAdmin)
	case "demote":
		requireArgs(1)
		setRole(db, os.Args[2], models.RoleWriter)
	case "list-admins":
		listAdmins(db)
	case "grant":
		requireArgs(2)
		grant(ctx, db, cfg, os.Args[2], os.Args[3])
	case "activate", "deactivate":
		requireArgs(1)
		setActive(db, os.Args[2], command == "activate")
	case "reconcile":
		requireArgs(1)
		reconcile(ctx, db, cfg, os.Args[2])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
}

func parseUint(raw, what string) uint {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		fmt.Printf("Invalid %s: %s\n", what, raw)
		os.Exit(1)
	}
	return uint(id)
}

func createUser(ctx context.Context, db *gorm.DB, cfg *config.Config) {
	password := os.Getenv("ADMIN_NEW_PASSWORD")
	if password == "" {
		fmt.Println("ADMIN_NEW_PASSWORD must be set")
		os.Exit(1)
	}
	in := service.CreateUserInput{
		Email:    os.Args[2],
		Name:     os.Args[3],
		Role:     os.Args[4],
		Password: password,
	}
	if len(os.Args) > 5 {
		sid := parseUint(os.Args[5], "school ID")
		in.SchoolID = &sid
	}

	auth := service.NewAuthService(repository.NewUserRepository(db), repository.NewSchoolRepository(db), cfg.JWTSecret)
	user, err := auth.CreateUser(ctx, nil, in)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("✅ Created %s user %s (ID: %d)\n", user.Role, user.Email, user.ID)
}

func setRole(db *gorm.DB, userID string, role models.Role) {
	users := repository.NewUserRepository(db)
	user, err := users.SetRole(context.Background(), parseUint(userID, "user ID"), role, nil)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			fmt.Printf("User with ID %s not found\n", userID)
			os.Exit(1)
		}
		log.Fatalf("Failed to update user: %v", err)
	}
	fmt.Printf("✅ %s (ID: %d) is now %s\n", user.Email, user.ID, user.Role)
}

func listAdmins(db *gorm.DB) {
	var admins []models.User
	if err := db.Where("role = ?", models.RoleAdmin).Find(&admins).Error; err != nil {
		log.Fatalf("Failed to fetch admins: %v", err)
	}

	if len(admins) == 0 {
		fmt.Println("No admins found in the system")
		return
	}

	fmt.Println("\n📋 Current Admins:")
	fmt.Println("─────────────────────────────────────")
	for _, admin := range admins {
		fmt.Printf("ID: %d | Name: %s | Email: %s\n", admin.ID, admin.Name, admin.Email)
	}
	fmt.Println("─────────────────────────────────────")
}

func grant(ctx context.Context, db *gorm.DB, cfg *config.Config, schoolID, rawCoins string) {
	coins, err := strconv.ParseInt(rawCoins, 10, 64)
	if err != nil || coins <= 0 {
		fmt.Printf("Invalid coin amount: %s\n", rawCoins)
		os.Exit(1)
	}
	l := ledger.New(db, cfg.LedgerMaxRetries)
	entry, err := l.Grant(ctx, parseUint(schoolID, "school ID"), coins, "", "granted from admin CLI")
	if err != nil {
		log.Fatalf("Failed to grant coins: %v", err)
	}
	fmt.Printf("✅ School %d balance: %d → %d\n", entry.SchoolID, entry.CoinsBefore, entry.CoinsAfter)
}

func setActive(db *gorm.DB, schoolID string, active bool) {
	schools := repository.NewSchoolRepository(db)
	school, err := schools.UpdateProfile(context.Background(), parseUint(schoolID, "school ID"), nil, &active)
	if err != nil {
		log.Fatalf("Failed to update school: %v", err)
	}
	fmt.Printf("✅ School %q (ID: %d) active=%t\n", school.Name, school.ID, school.IsActive)
}

func reconcile(ctx context.Context, db *gorm.DB, cfg *config.Config, schoolID string) {
	l := ledger.New(db, cfg.LedgerMaxRetries)
	rec, err := l.Reconcile(ctx, parseUint(schoolID, "school ID"))
	if err != nil {
		log.Fatalf("Failed to reconcile: %v", err)
	}
	fmt.Printf("School %d: balance=%d ledger_sum=%d entries=%d balanced=%t\n",
		rec.SchoolID, rec.Balance, rec.LedgerSum, rec.Entries, rec.Balanced)
	if !rec.Balanced {
		fmt.Printf("⚠️  Broken entries: %v\n", rec.BrokenIDs)
		os.Exit(2)
	}
}
