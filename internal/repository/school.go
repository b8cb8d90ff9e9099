package repository

import (
	"context"

	"schooldesk/internal/cache"
	"schooldesk/internal/models"

	"gorm.io/gorm"
)

// SchoolRepository defines persistence operations for schools.
// Balance changes are not made here; they go through the ledger.
type SchoolRepository interface {
	GetByID(ctx context.Context, id uint) (*models.School, error)
	Create(ctx context.Context, school *models.School) error
	UpdateProfile(ctx context.Context, id uint, name *string, active *bool) (*models.School, error)
	List(ctx context.Context, limit, offset int) ([]models.School, int64, error)
}

type schoolRepository struct {
	db *gorm.DB
}

// NewSchoolRepository returns a new SchoolRepository implementation.
func NewSchoolRepository(db *gorm.DB) SchoolRepository {
	return &schoolRepository{db: db}
}

func (r *schoolRepository) GetByID(ctx context.Context, id uint) (*models.School, error) {
	var school models.School
	err := cache.Aside(ctx, cache.SchoolKey(id), &school, cache.SchoolTTL, func() error {
		if err := r.db.WithContext(ctx).First(&school, id).Error; err != nil {
			return wrapLookup(err, "School", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &school, nil
}

func (r *schoolRepository) Create(ctx context.Context, school *models.School) error {
	if err := r.db.WithContext(ctx).Create(school).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// UpdateProfile edits the administrative fields. Coins are never touched.
func (r *schoolRepository) UpdateProfile(ctx context.Context, id uint, name *string, active *bool) (*models.School, error) {
	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if active != nil {
		updates["is_active"] = *active
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&models.School{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, models.NewInternalError(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, models.NewNotFoundError("School", id)
		}
		cache.InvalidateSchool(ctx, id)
	}

	var school models.School
	if err := r.db.WithContext(ctx).First(&school, id).Error; err != nil {
		return nil, wrapLookup(err, "School", id)
	}
	return &school, nil
}

func (r *schoolRepository) List(ctx context.Context, limit, offset int) ([]models.School, int64, error) {
	limit, offset = clampPage(limit, offset)
	db := readDB(r.db).WithContext(ctx)

	var total int64
	if err := db.Model(&models.School{}).Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var schools []models.School
	if err := db.Order("id ASC").Limit(limit).Offset(offset).Find(&schools).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return schools, total, nil
}
