package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Platform identifies a social network the dispatcher can post to.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
)

// AllPlatforms lists every supported platform in dispatch order.
var AllPlatforms = []Platform{PlatformInstagram, PlatformFacebook, PlatformLinkedIn, PlatformTwitter}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformFacebook, PlatformLinkedIn, PlatformTwitter:
		return true
	}
	return false
}

// SocialToken is the stored credential row for one platform. Platform-specific
// columns are only meaningful for their platform; callers read them through
// the social package's typed credentials rather than directly.
type SocialToken struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Platform        Platform   `gorm:"type:varchar(16);not null;uniqueIndex" json:"platform"`
	AccessToken     string     `gorm:"type:text;not null" json:"-"`
	RefreshToken    string     `gorm:"type:text" json:"-"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	PageID          string     `gorm:"size:64" json:"page_id,omitempty"`
	PersonURN       string     `gorm:"column:person_urn;size:128" json:"person_urn,omitempty"`
	OrganizationURN string     `gorm:"column:organization_urn;size:128" json:"organization_urn,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (SocialToken) TableName() string {
	return "social_tokens"
}

// ExpiresWithin reports whether the token has a known expiry inside window of now.
func (t *SocialToken) ExpiresWithin(now time.Time, window time.Duration) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now.Add(window))
}

// SocialPost records one platform attempt of a dispatch. It is written
// whether or not the attempt succeeded.
type SocialPost struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	BlogID         *uint                       `gorm:"index" json:"blog_id,omitempty"`
	AttemptID      uuid.UUID                   `gorm:"type:uuid;index" json:"attempt_id"`
	Platform       Platform                    `gorm:"type:varchar(16);not null" json:"platform"`
	Caption        string                      `gorm:"type:text;not null" json:"caption"`
	Hashtags       datatypes.JSONSlice[string] `json:"hashtags"`
	IsPublished    bool                        `gorm:"not null;default:false" json:"is_published"`
	ExternalPostID string                      `gorm:"size:128" json:"external_post_id,omitempty"`
	ErrorMessage   string                      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedBy      uint                        `json:"created_by"`
	CreatedAt      time.Time                   `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (SocialPost) TableName() string {
	return "social_posts"
}
