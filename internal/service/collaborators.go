package service

import (
	"context"
	"io"

	"schooldesk/internal/models"
	"schooldesk/internal/social"
	"schooldesk/internal/wordpress"
)

// WordPress is the part of the WordPress client the pipeline uses.
type WordPress interface {
	Configured() bool
	EnsureTags(ctx context.Context, names []string) ([]int, error)
	CreatePost(ctx context.Context, post wordpress.Post) (*wordpress.PublishedPost, error)
	UploadMedia(ctx context.Context, filename, contentType string, data io.Reader) (*wordpress.Media, error)
}

// Dispatcher fans a post out to social platforms.
type Dispatcher interface {
	Dispatch(ctx context.Context, in social.DispatchInput) ([]social.DispatchResult, error)
}

// Sharer posts a published blog to social platforms.
type Sharer interface {
	Share(ctx context.Context, blog *models.Blog, createdBy uint, in ShareInput) ([]SocialOutcome, error)
}
