package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"schooldesk/internal/cache"
	"schooldesk/internal/config"
	"schooldesk/internal/database"
	"schooldesk/internal/models"
	"schooldesk/internal/seed"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty development database with demo schools and blogs.
	SeedDemo bool
}

// InitRuntime connects to DB and Redis and optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := ensureDevRootAdmin(cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	if opts.SeedDemo {
		if err := seedIfEmpty(db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, r, nil
}

func seedIfEmpty(db *gorm.DB) error {
	var schools int64
	if err := db.Model(&models.School{}).Count(&schools).Error; err != nil {
		return err
	}
	if schools > 0 {
		return nil
	}
	_, err := seed.Seed(context.Background(), db, seed.Options{StartingCoins: 297})
	return err
}

// ensureDevRootAdmin keeps a known admin account in development databases.
// The account is matched by DEV_ROOT_EMAIL; its role is always restored and
// its name and password are reset only with DEV_ROOT_FORCE_CREDENTIALS.
func ensureDevRootAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}
	if cfg.DevRootPassword == "" {
		return fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}

	email := strings.TrimSpace(strings.ToLower(cfg.DevRootEmail))
	if email == "" {
		email = "root@schooldesk.local"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DevRootPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash root password: %w", err)
	}

	created := false
	err = db.Transaction(func(tx *gorm.DB) error {
		var root models.User
		err := tx.Where("email = ?", email).First(&root).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(&models.User{
				Name:     "Root Admin",
				Email:    email,
				Password: string(hash),
				Role:     models.RoleAdmin,
			}).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{"role": models.RoleAdmin, "school_id": nil}
		if cfg.DevRootForceCredentials {
			updates["name"] = "Root Admin"
			updates["password"] = string(hash)
		}
		return tx.Model(&root).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	if created {
		log.Printf("👤 created development root admin %s", email)
	} else {
		log.Printf("👤 development root admin %s ensured", email)
	}
	return nil
}
