package repository

import (
	"context"

	"schooldesk/internal/models"
	"schooldesk/internal/observability"

	"gorm.io/gorm"
)

// BlogFilter narrows blog listings. Zero values mean "any".
type BlogFilter struct {
	Status           models.BlogStatus
	AssignedSchoolID uint
	SubmissionID     uint
}

// BlogRepository defines persistence operations for blogs.
type BlogRepository interface {
	WithTx(tx *gorm.DB) BlogRepository
	Create(ctx context.Context, blog *models.Blog) error
	GetByID(ctx context.Context, id uint) (*models.Blog, error)
	List(ctx context.Context, filter BlogFilter, limit, offset int) ([]models.Blog, int64, error)
	Save(ctx context.Context, blog *models.Blog) error
	// TransitionFrom applies updates only while the blog is in one of from.
	// It reports false when the blog had already moved on.
	TransitionFrom(ctx context.Context, id uint, from []models.BlogStatus, updates map[string]interface{}) (bool, error)
}

type blogRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewBlogRepository returns a new BlogRepository implementation.
func NewBlogRepository(db *gorm.DB) BlogRepository {
	return &blogRepository{db: db, log: observability.NewRepoLogger("blogs")}
}

func (r *blogRepository) WithTx(tx *gorm.DB) BlogRepository {
	return &blogRepository{db: tx, log: r.log}
}

func (r *blogRepository) Create(ctx context.Context, blog *models.Blog) error {
	if err := r.db.WithContext(ctx).Create(blog).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"blog_id": blog.ID, "status": blog.Status})
	return nil
}

func (r *blogRepository) GetByID(ctx context.Context, id uint) (*models.Blog, error) {
	var blog models.Blog
	if err := r.db.WithContext(ctx).Preload("Submission").First(&blog, id).Error; err != nil {
		return nil, wrapLookup(err, "Blog", id)
	}
	return &blog, nil
}

func (r *blogRepository) List(ctx context.Context, filter BlogFilter, limit, offset int) ([]models.Blog, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.Blog{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AssignedSchoolID != 0 {
		q = q.Where("assigned_school_id = ?", filter.AssignedSchoolID)
	}
	if filter.SubmissionID != 0 {
		q = q.Where("submission_id = ?", filter.SubmissionID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var blogs []models.Blog
	if err := q.Order("updated_at DESC, id DESC").Limit(limit).Offset(offset).Find(&blogs).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return blogs, total, nil
}

// Save persists every column except the association.
func (r *blogRepository) Save(ctx context.Context, blog *models.Blog) error {
	if err := r.db.WithContext(ctx).Omit("Submission").Save(blog).Error; err != nil {
		r.log.LogError(ctx, err, "update")
		return models.NewInternalError(err)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"blog_id": blog.ID, "status": blog.Status})
	return nil
}

func (r *blogRepository) TransitionFrom(ctx context.Context, id uint, from []models.BlogStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Blog{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "transition")
		return false, models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"blog_id": id, "changes": updates})
	return true, nil
}
