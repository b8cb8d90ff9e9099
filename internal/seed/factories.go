// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"schooldesk/internal/ai"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the login password given to every seeded account.
const DefaultPassword = "Schooldesk-Demo-1!"

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	opts   Options
	rng    *rand.Rand
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)
	f := &Factory{
		db:     db,
		opts:   opts,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // seeding only
		nextID: 1000,
	}
	if db != nil {
		f.ledger = ledger.New(db, 3)
	}
	return f
}

func (f *Factory) assignID() uint {
	f.nextID++
	return f.nextID
}

func (f *Factory) persist(value interface{}) error {
	if f.opts.DryRun {
		return nil
	}
	return f.db.Create(value).Error
}

// pastTime spreads created_at values across the last MaxDays days.
func (f *Factory) pastTime() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.rng.Intn(maxDays))*24*time.Hour +
		time.Duration(f.rng.Intn(24))*time.Hour +
		time.Duration(f.rng.Intn(60))*time.Minute
	return time.Now().Add(-back)
}

func (f *Factory) passwordHash() string {
	if f.opts.SkipBcrypt {
		return DefaultPassword
	}
	hashed, _ := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	return string(hashed)
}

// CreateSchool persists an active school with a zero balance.
func (f *Factory) CreateSchool(overrides ...func(*models.School)) (*models.School, error) {
	school := &models.School{
		Name:     fmt.Sprintf("%s %s", gofakeit.City(), gofakeit.RandomString([]string{"High School", "Academy", "Primary School", "College"})),
		IsActive: true,
	}
	for _, override := range overrides {
		override(school)
	}
	if f.opts.DryRun {
		school.ID = f.assignID()
		log.Printf("[dry-run] CreateSchool: %s", school.Name)
		return school, nil
	}
	if err := f.persist(school); err != nil {
		return nil, err
	}
	return school, nil
}

// Fund credits a school through the ledger so its history stays reconcilable.
func (f *Factory) Fund(ctx context.Context, school *models.School, coins int64) error {
	if coins <= 0 {
		return nil
	}
	if f.opts.DryRun {
		school.Coins += coins
		return nil
	}
	entry, err := f.ledger.Grant(ctx, school.ID, coins, "seed:"+gofakeit.UUID(), "seed package")
	if err != nil {
		return err
	}
	school.Coins = entry.CoinsAfter
	return nil
}

// CreateUser constructs and persists a user with the given role. School users
// are bound to school.
func (f *Factory) CreateUser(role models.Role, school *models.School, overrides ...func(*models.User)) (*models.User, error) {
	first, last := gofakeit.FirstName(), gofakeit.LastName()
	user := &models.User{
		Email:    strings.ToLower(fmt.Sprintf("%s.%s%d@%s", first, last, gofakeit.Number(100, 999), gofakeit.DomainName())),
		Name:     first + " " + last,
		Password: f.passwordHash(),
		Role:     role,
	}
	if role == models.RoleSchool && school != nil {
		sid := school.ID
		user.SchoolID = &sid
	}
	for _, override := range overrides {
		override(user)
	}
	if f.opts.DryRun {
		user.ID = f.assignID()
		return user, nil
	}
	if err := f.persist(user); err != nil {
		return nil, err
	}
	return user, nil
}

var categories = []models.Category{
	models.CategoryNews,
	models.CategoryAchievement,
	models.CategoryEvent,
	models.CategoryAnnouncement,
	models.CategoryOther,
}

// BuildSubmission constructs a submission for the school without persisting it.
func (f *Factory) BuildSubmission(school *models.School, author *models.User) *models.Submission {
	sub := &models.Submission{
		SchoolID:    school.ID,
		Title:       strings.TrimSuffix(gofakeit.Sentence(6), "."),
		Description: gofakeit.Paragraph(2, 3, 12, "\n\n"),
		Category:    categories[f.rng.Intn(len(categories))],
		Attachments: []string{},
		Status:      models.SubmissionSubmitted,
		CreatedAt:   f.pastTime(),
	}
	if f.rng.Float32() < 0.4 {
		sub.Attachments = append(sub.Attachments, fmt.Sprintf("https://picsum.photos/seed/%s/1200/800", gofakeit.UUID()))
	}
	if author != nil {
		sub.CreatedBy = author.ID
	}
	return sub
}

// CreateSubmission persists a built submission.
func (f *Factory) CreateSubmission(school *models.School, author *models.User, overrides ...func(*models.Submission)) (*models.Submission, error) {
	sub := f.BuildSubmission(school, author)
	for _, override := range overrides {
		override(sub)
	}
	if f.opts.DryRun {
		sub.ID = f.assignID()
		return sub, nil
	}
	if err := f.persist(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// BuildBlog drafts a blog from the submission without persisting it.
func (f *Factory) BuildBlog(sub *models.Submission, writer *models.User, status models.BlogStatus) *models.Blog {
	content := "<p>" + strings.ReplaceAll(sub.Description, "\n\n", "</p><p>") + "</p>"
	blog := &models.Blog{
		SubmissionID:    sub.ID,
		Title:           sub.Title,
		Slug:            ai.Slugify(sub.Title),
		Content:         content,
		Excerpt:         gofakeit.Sentence(14),
		MetaTitle:       sub.Title,
		MetaDescription: gofakeit.Sentence(18),
		SEOKeywords:     []string{gofakeit.Noun(), gofakeit.Noun(), string(sub.Category)},
		Tags:            []string{string(sub.Category), gofakeit.Hobby()},
		ReadingTime:     ai.EstimateReadingTime(content),
		Status:          status,
		CreatedAt:       sub.CreatedAt.Add(time.Duration(f.rng.Intn(48)+1) * time.Hour),
	}
	if writer != nil {
		blog.CreatedBy = writer.ID
	}
	switch status {
	case models.BlogReview, models.BlogApprovedSchool, models.BlogRejected:
		sid := sub.SchoolID
		blog.AssignedSchoolID = &sid
	}
	if status == models.BlogRejected {
		blog.RejectionReason = gofakeit.RandomString([]string{
			"Please use a different photo.",
			"The date of the event is wrong.",
			"Add quotes from the coach.",
		})
	}
	return blog
}

// CreateBlog persists a blog in the given status and projects that status
// onto its submission.
func (f *Factory) CreateBlog(sub *models.Submission, writer *models.User, status models.BlogStatus) (*models.Blog, error) {
	blog := f.BuildBlog(sub, writer, status)
	if projected, ok := models.SubmissionProjection(status); ok {
		sub.Status = projected
	} else if status == models.BlogApprovedSchool || status == models.BlogRejected {
		sub.Status = models.SubmissionReview
	}
	if f.opts.DryRun {
		blog.ID = f.assignID()
		return blog, nil
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(blog).Error; err != nil {
			return err
		}
		return tx.Model(&models.Submission{}).Where("id = ?", sub.ID).Update("status", sub.Status).Error
	})
	if err != nil {
		return nil, err
	}
	return blog, nil
}
