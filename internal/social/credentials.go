// Package social stores platform credentials, posts to social platforms and
// keeps long-lived tokens fresh.
package social

import (
	"time"

	"schooldesk/internal/models"
)

// Credentials is one of FacebookCredentials, LinkedInCredentials,
// InstagramCredentials or TwitterCredentials.
type Credentials interface {
	Platform() models.Platform
	isCredentials()
}

// FacebookCredentials hold a page token.
type FacebookCredentials struct {
	PageID      string
	AccessToken string
}

func (FacebookCredentials) Platform() models.Platform { return models.PlatformFacebook }
func (FacebookCredentials) isCredentials()            {}

// LinkedInCredentials hold an OAuth token pair and the posting identity.
type LinkedInCredentials struct {
	AccessToken     string
	RefreshToken    string
	ExpiresAt       *time.Time
	PersonURN       string
	OrganizationURN string
}

func (LinkedInCredentials) Platform() models.Platform { return models.PlatformLinkedIn }
func (LinkedInCredentials) isCredentials()            {}

// AuthorURN prefers the organization page over the member.
func (c LinkedInCredentials) AuthorURN() string {
	if c.OrganizationURN != "" {
		return c.OrganizationURN
	}
	return c.PersonURN
}

// InstagramCredentials come from process configuration, not the database.
type InstagramCredentials struct {
	AccessToken string
	AccountID   string
}

func (InstagramCredentials) Platform() models.Platform { return models.PlatformInstagram }
func (InstagramCredentials) isCredentials()            {}

// TwitterCredentials is a placeholder; posting to Twitter is simulated.
type TwitterCredentials struct{}

func (TwitterCredentials) Platform() models.Platform { return models.PlatformTwitter }
func (TwitterCredentials) isCredentials()            {}

func facebookFromToken(t *models.SocialToken) FacebookCredentials {
	return FacebookCredentials{PageID: t.PageID, AccessToken: t.AccessToken}
}

func linkedInFromToken(t *models.SocialToken) LinkedInCredentials {
	return LinkedInCredentials{
		AccessToken:     t.AccessToken,
		RefreshToken:    t.RefreshToken,
		ExpiresAt:       t.ExpiresAt,
		PersonURN:       t.PersonURN,
		OrganizationURN: t.OrganizationURN,
	}
}
