package models

import (
	"time"

	"gorm.io/datatypes"
)

// Category classifies a submitted story idea.
type Category string

const (
	CategoryNews         Category = "news"
	CategoryAchievement  Category = "achievement"
	CategoryEvent        Category = "event"
	CategoryAnnouncement Category = "announcement"
	CategoryOther        Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryNews, CategoryAchievement, CategoryEvent, CategoryAnnouncement, CategoryOther:
		return true
	}
	return false
}

// Submission is a school's raw story idea awaiting drafting.
type Submission struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	SchoolID    uint                        `gorm:"not null;index" json:"school_id"`
	School      *School                     `gorm:"foreignKey:SchoolID" json:"school,omitempty"`
	Title       string                      `gorm:"size:300;not null" json:"title"`
	Description string                      `gorm:"type:text" json:"description"`
	Category    Category                    `gorm:"type:varchar(20);not null" json:"category"`
	Attachments datatypes.JSONSlice[string] `json:"attachments"`
	Status      SubmissionStatus            `gorm:"type:varchar(24);not null;default:'submitted_school';index" json:"status"`
	AssigneeID  *uint                       `gorm:"index" json:"assignee_id,omitempty"`
	CreatedBy   uint                        `json:"created_by"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Submission) TableName() string {
	return "submissions"
}
