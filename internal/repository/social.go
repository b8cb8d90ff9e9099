package repository

import (
	"context"
	"errors"

	"schooldesk/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SocialTokenRepository stores one credential row per platform.
type SocialTokenRepository interface {
	Get(ctx context.Context, platform models.Platform) (*models.SocialToken, error)
	List(ctx context.Context) ([]models.SocialToken, error)
	Upsert(ctx context.Context, token *models.SocialToken) error
	Delete(ctx context.Context, platform models.Platform) error
}

type socialTokenRepository struct {
	db *gorm.DB
}

// NewSocialTokenRepository returns a new SocialTokenRepository implementation.
func NewSocialTokenRepository(db *gorm.DB) SocialTokenRepository {
	return &socialTokenRepository{db: db}
}

// Get returns nil, nil when the platform has no stored credential.
func (r *socialTokenRepository) Get(ctx context.Context, platform models.Platform) (*models.SocialToken, error) {
	var token models.SocialToken
	if err := r.db.WithContext(ctx).Where("platform = ?", platform).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &token, nil
}

func (r *socialTokenRepository) List(ctx context.Context) ([]models.SocialToken, error) {
	var tokens []models.SocialToken
	if err := r.db.WithContext(ctx).Order("platform ASC").Find(&tokens).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return tokens, nil
}

// Upsert inserts or replaces the credential for token.Platform. The row is
// matched on platform only, so token.ID is ignored.
func (r *socialTokenRepository) Upsert(ctx context.Context, token *models.SocialToken) error {
	row := *token
	row.ID = 0
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_at", "page_id",
			"person_urn", "organization_urn", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	token.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *socialTokenRepository) Delete(ctx context.Context, platform models.Platform) error {
	if err := r.db.WithContext(ctx).Where("platform = ?", platform).Delete(&models.SocialToken{}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// SocialPostRepository records dispatch attempts.
type SocialPostRepository interface {
	Create(ctx context.Context, post *models.SocialPost) error
	ListByBlog(ctx context.Context, blogID uint) ([]models.SocialPost, error)
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]models.SocialPost, error)
}

type socialPostRepository struct {
	db *gorm.DB
}

// NewSocialPostRepository returns a new SocialPostRepository implementation.
func NewSocialPostRepository(db *gorm.DB) SocialPostRepository {
	return &socialPostRepository{db: db}
}

func (r *socialPostRepository) Create(ctx context.Context, post *models.SocialPost) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *socialPostRepository) ListByBlog(ctx context.Context, blogID uint) ([]models.SocialPost, error) {
	var posts []models.SocialPost
	if err := readDB(r.db).WithContext(ctx).Where("blog_id = ?", blogID).Order("id DESC").Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *socialPostRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]models.SocialPost, error) {
	var posts []models.SocialPost
	if err := r.db.WithContext(ctx).Where("attempt_id = ?", attemptID).Order("id ASC").Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}
