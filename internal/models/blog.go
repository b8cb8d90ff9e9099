package models

import (
	"time"

	"gorm.io/datatypes"
)

// Blog is the drafted and edited article derived from a Submission.
// WordPressPostID, WordPressURL and PublishedAt are populated only once
// Status reaches published_wp.
type Blog struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	SubmissionID     uint                        `gorm:"not null;index" json:"submission_id"`
	Submission       *Submission                 `gorm:"foreignKey:SubmissionID" json:"submission,omitempty"`
	Title            string                      `gorm:"size:300;not null" json:"title"`
	Slug             string                      `gorm:"size:320;index" json:"slug"`
	Content          string                      `gorm:"type:text" json:"content"`
	Excerpt          string                      `gorm:"type:text" json:"excerpt"`
	MetaTitle        string                      `gorm:"size:300" json:"meta_title"`
	MetaDescription  string                      `gorm:"size:500" json:"meta_description"`
	SEOKeywords      datatypes.JSONSlice[string] `gorm:"column:seo_keywords" json:"seo_keywords"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	ReadingTime      int                         `json:"reading_time"`
	FeaturedMediaID  *int64                      `json:"featured_media_id,omitempty"`
	FeaturedImageURL string                      `json:"featured_image_url"`
	Status           BlogStatus                  `gorm:"type:varchar(24);not null;index" json:"status"`
	AssignedSchoolID *uint                       `gorm:"index" json:"assigned_school_id,omitempty"`
	RejectionReason  string                      `gorm:"type:text" json:"rejection_reason,omitempty"`
	WordPressPostID  *int64                      `gorm:"column:wordpress_post_id" json:"wordpress_post_id,omitempty"`
	WordPressURL     string                      `gorm:"column:wordpress_url" json:"wordpress_url,omitempty"`
	PublishedAt      *time.Time                  `json:"published_at,omitempty"`
	CreatedBy        uint                        `json:"created_by"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Blog) TableName() string {
	return "blogs"
}

// IsPublished reports whether the blog has been published to WordPress.
func (b *Blog) IsPublished() bool {
	return b.Status == BlogPublishedWP
}
