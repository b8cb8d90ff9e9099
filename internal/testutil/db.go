// Package testutil provides shared test fixtures for backend tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"schooldesk/internal/database"
	"schooldesk/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewSQLiteDB opens an isolated in-memory SQLite database with every persistent
// model migrated. Each call gets its own database.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(database.PersistentModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateSchool inserts an active school with the given balance.
func CreateSchool(t testing.TB, db *gorm.DB, name string, coins int64) *models.School {
	t.Helper()
	school := &models.School{Name: name, Coins: coins, IsActive: true}
	if err := db.Create(school).Error; err != nil {
		t.Fatalf("create school: %v", err)
	}
	return school
}

// CreateUser inserts a user with the given role, bound to schoolID when non-zero.
func CreateUser(t testing.TB, db *gorm.DB, email string, role models.Role, schoolID uint) *models.User {
	t.Helper()
	user := &models.User{Email: email, Name: email, Password: "x", Role: role}
	if schoolID != 0 {
		sid := schoolID
		user.SchoolID = &sid
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// CreateSubmission inserts a submission for the school in the given status.
func CreateSubmission(t testing.TB, db *gorm.DB, schoolID uint, status models.SubmissionStatus) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		SchoolID:    schoolID,
		Title:       "Robotics team wins regional final",
		Description: "Our robotics team took first place.",
		Category:    models.CategoryAchievement,
		Status:      status,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

// CreateBlog inserts a blog for the submission in the given status, assigned to
// assignedSchoolID when non-zero.
func CreateBlog(t testing.TB, db *gorm.DB, submissionID uint, status models.BlogStatus, assignedSchoolID uint) *models.Blog {
	t.Helper()
	blog := &models.Blog{
		SubmissionID: submissionID,
		Title:        "Robotics team wins regional final",
		Slug:         "robotics-team-wins-regional-final",
		Content:      "<p>Our robotics team took first place.</p>",
		Excerpt:      "Our robotics team took first place.",
		Status:       status,
	}
	if assignedSchoolID != 0 {
		sid := assignedSchoolID
		blog.AssignedSchoolID = &sid
	}
	if err := db.Create(blog).Error; err != nil {
		t.Fatalf("create blog: %v", err)
	}
	return blog
}

// Balance reads a school's stored coin balance.
func Balance(t testing.TB, db *gorm.DB, schoolID uint) int64 {
	t.Helper()
	var school models.School
	if err := db.First(&school, schoolID).Error; err != nil {
		t.Fatalf("load school: %v", err)
	}
	return school.Coins
}

// Transactions returns a school's ledger entries in insertion order.
func Transactions(t testing.TB, db *gorm.DB, schoolID uint) []models.Transaction {
	t.Helper()
	var out []models.Transaction
	if err := db.Where("school_id = ?", schoolID).Order("id ASC").Find(&out).Error; err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	return out
}
