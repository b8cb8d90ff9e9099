package seed

import (
	"context"
	"fmt"
	"log"

	"schooldesk/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumSchools           int
	NumWriters           int
	SubmissionsPerSchool int
	StartingCoins        int64
	ShouldClean          bool
	DryRun               bool
	SkipBcrypt           bool
	MaxDays              int
	RandSeed             int64
}

// Summary counts what a Seed run created.
type Summary struct {
	Schools     int
	Users       int
	Submissions int
	Blogs       int
}

// blogMix is the lifecycle stage given to successive submissions of a school.
// A nil entry leaves the submission without a blog.
var blogMix = []*models.BlogStatus{
	nil,
	statusPtr(models.BlogDraftWriter),
	statusPtr(models.BlogDraftCreated),
	statusPtr(models.BlogReview),
	statusPtr(models.BlogApprovedSchool),
	statusPtr(models.BlogRejected),
}

func statusPtr(s models.BlogStatus) *models.BlogStatus { return &s }

// Seed populates the database with demo schools, staff, submissions and blogs.
// Published blogs are never seeded: publishing needs a real WordPress site and
// a ledger charge.
func Seed(ctx context.Context, db *gorm.DB, opts Options) (*Summary, error) {
	opts = withDefaults(opts)
	log.Printf("🌱 Starting database seeding with %d schools and %d writers...", opts.NumSchools, opts.NumWriters)

	if opts.ShouldClean && !opts.DryRun {
		if err := clearData(db); err != nil {
			log.Printf("⚠️  Warning: could not clear existing data: %v", err)
		}
	}

	f := NewFactory(db, opts)
	summary := &Summary{}

	writers := make([]*models.User, 0, opts.NumWriters)
	for i := 0; i < opts.NumWriters; i++ {
		w, err := f.CreateUser(models.RoleWriter, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create writer: %w", err)
		}
		writers = append(writers, w)
		summary.Users++
	}
	log.Printf("✓ %d writers created", len(writers))

	for i := 0; i < opts.NumSchools; i++ {
		school, err := f.CreateSchool()
		if err != nil {
			return nil, fmt.Errorf("failed to create school: %w", err)
		}
		summary.Schools++
		if err := f.Fund(ctx, school, opts.StartingCoins); err != nil {
			return nil, fmt.Errorf("failed to fund school %d: %w", school.ID, err)
		}

		office, err := f.CreateUser(models.RoleSchool, school)
		if err != nil {
			return nil, fmt.Errorf("failed to create school user: %w", err)
		}
		summary.Users++

		for j := 0; j < opts.SubmissionsPerSchool; j++ {
			sub, err := f.CreateSubmission(school, office)
			if err != nil {
				return nil, fmt.Errorf("failed to create submission: %w", err)
			}
			summary.Submissions++

			status := blogMix[j%len(blogMix)]
			if status == nil || len(writers) == 0 {
				continue
			}
			if _, err := f.CreateBlog(sub, writers[f.rng.Intn(len(writers))], *status); err != nil {
				return nil, fmt.Errorf("failed to create blog: %w", err)
			}
			summary.Blogs++
		}
		log.Printf("✓ school %q seeded with %d coins", school.Name, school.Coins)
	}

	log.Printf("🎉 Seeding completed: %d schools, %d users, %d submissions, %d blogs",
		summary.Schools, summary.Users, summary.Submissions, summary.Blogs)
	return summary, nil
}

func withDefaults(opts Options) Options {
	if opts.NumSchools <= 0 {
		opts.NumSchools = 3
	}
	if opts.NumWriters <= 0 {
		opts.NumWriters = 2
	}
	if opts.SubmissionsPerSchool <= 0 {
		opts.SubmissionsPerSchool = len(blogMix)
	}
	if opts.StartingCoins < 0 {
		opts.StartingCoins = 0
	}
	return opts
}

// clearData removes demo content while keeping admin accounts.
func clearData(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	return db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"social_posts", "blogs", "submissions", "transactions"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		if err := tx.Exec(`DELETE FROM users WHERE role <> ?`, models.RoleAdmin).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM schools`).Error
	})
}
