package repository

import (
	"context"

	"schooldesk/internal/models"
	"schooldesk/internal/observability"

	"gorm.io/gorm"
)

// SubmissionFilter narrows submission listings. Zero values mean "any".
type SubmissionFilter struct {
	SchoolID   uint
	Status     models.SubmissionStatus
	AssigneeID uint
}

// SubmissionRepository defines persistence operations for submissions.
type SubmissionRepository interface {
	WithTx(tx *gorm.DB) SubmissionRepository
	Create(ctx context.Context, sub *models.Submission) error
	GetByID(ctx context.Context, id uint) (*models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]models.Submission, int64, error)
	SetStatus(ctx context.Context, id uint, status models.SubmissionStatus) error
	Assign(ctx context.Context, id, assigneeID uint) error
}

type submissionRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewSubmissionRepository returns a new SubmissionRepository implementation.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db, log: observability.NewRepoLogger("submissions")}
}

func (r *submissionRepository) WithTx(tx *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: tx, log: r.log}
}

func (r *submissionRepository) Create(ctx context.Context, sub *models.Submission) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"submission_id": sub.ID, "school_id": sub.SchoolID})
	return nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (*models.Submission, error) {
	var sub models.Submission
	if err := r.db.WithContext(ctx).Preload("School").First(&sub, id).Error; err != nil {
		return nil, wrapLookup(err, "Submission", id)
	}
	return &sub, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]models.Submission, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.Submission{})
	if filter.SchoolID != 0 {
		q = q.Where("school_id = ?", filter.SchoolID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AssigneeID != 0 {
		q = q.Where("assignee_id = ?", filter.AssigneeID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var subs []models.Submission
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&subs).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return subs, total, nil
}

func (r *submissionRepository) SetStatus(ctx context.Context, id uint, status models.SubmissionStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Submission", id)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"submission_id": id, "status": status})
	return nil
}

func (r *submissionRepository) Assign(ctx context.Context, id, assigneeID uint) error {
	res := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Update("assignee_id", assigneeID)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Submission", id)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"submission_id": id, "assignee_id": assigneeID})
	return nil
}
