package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"schooldesk/internal/ai"
	"schooldesk/internal/featureflags"
	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"
	"schooldesk/internal/repository"
	"schooldesk/internal/social"

	"golang.org/x/sync/errgroup"
)

// ShareInput describes a social share. An empty caption is generated from the blog.
type ShareInput struct {
	Platforms []string `json:"platforms"`
	Caption   string   `json:"caption"`
	Hashtags  []string `json:"hashtags"`
	ImageURL  string   `json:"image_url"`
}

// SocialOutcome is the per-platform result of a share.
type SocialOutcome struct {
	Platform       models.Platform `json:"platform"`
	Published      bool            `json:"published"`
	ExternalPostID string          `json:"external_post_id,omitempty"`
	Error          string          `json:"error,omitempty"`
	PostID         uint            `json:"post_id,omitempty"`
}

// CredentialAdmin manages stored platform credentials.
type CredentialAdmin interface {
	Status(ctx context.Context) ([]social.PlatformStatus, error)
	SaveFacebook(ctx context.Context, pageID, accessToken string) (*models.SocialToken, error)
	SaveLinkedIn(ctx context.Context, in social.LinkedInInput) (*models.SocialToken, error)
	LinkedInAuthURL(ctx context.Context) (string, error)
	CompleteLinkedInAuth(ctx context.Context, state, code string) (*models.SocialToken, error)
	Disconnect(ctx context.Context, platform models.Platform) error
}

// RefreshRunner runs every credential check once.
type RefreshRunner interface {
	RunAll(ctx context.Context) (*social.RefreshReport, error)
}

type SocialServiceDeps struct {
	Blogs       repository.BlogRepository
	Posts       repository.SocialPostRepository
	Dispatcher  Dispatcher
	Drafter     ai.Drafter
	Flags       *featureflags.Manager
	Notifier    *notifications.Notifier
	Credentials CredentialAdmin
	Refresher   RefreshRunner
	// CaptionTimeout bounds the AI caption generation for one share.
	CaptionTimeout time.Duration
}

// SocialService shares published blogs and administers platform credentials.
type SocialService struct {
	blogs          repository.BlogRepository
	posts          repository.SocialPostRepository
	dispatcher     Dispatcher
	drafter        ai.Drafter
	flags          *featureflags.Manager
	notifier       *notifications.Notifier
	credentials    CredentialAdmin
	refresher      RefreshRunner
	captionTimeout time.Duration
}

func NewSocialService(deps SocialServiceDeps) *SocialService {
	timeout := deps.CaptionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SocialService{
		blogs:          deps.Blogs,
		posts:          deps.Posts,
		dispatcher:     deps.Dispatcher,
		drafter:        deps.Drafter,
		flags:          deps.Flags,
		notifier:       deps.Notifier,
		credentials:    deps.Credentials,
		refresher:      deps.Refresher,
		captionTimeout: timeout,
	}
}

// ShareBlog posts an already published blog to the requested platforms.
func (s *SocialService) ShareBlog(ctx context.Context, actor *models.User, blogID uint, in ShareInput) ([]SocialOutcome, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, blogID)
	if err != nil {
		return nil, err
	}
	if !blog.IsPublished() {
		return nil, models.NewInvalidStateError("only published blogs can be shared")
	}
	return s.Share(ctx, blog, actor.ID, in)
}

// Share composes captions for blog and dispatches them. Only invalid input is
// returned as an error; platform failures are reported per outcome.
func (s *SocialService) Share(ctx context.Context, blog *models.Blog, createdBy uint, in ShareInput) ([]SocialOutcome, error) {
	platforms := make([]models.Platform, 0, len(in.Platforms))
	for _, name := range in.Platforms {
		p, err := social.ParsePlatform(name)
		if err != nil {
			return nil, models.NewValidationError(fmt.Sprintf("unknown platform %q", name))
		}
		platforms = append(platforms, p)
	}
	if len(platforms) == 0 {
		return nil, models.NewValidationError("at least one platform is required")
	}
	if s.dispatcher == nil {
		return nil, models.NewConfigurationMissingError("social dispatcher")
	}

	imageURL := strings.TrimSpace(in.ImageURL)
	if imageURL == "" {
		imageURL = blog.FeaturedImageURL
	}
	blogID := blog.ID
	input := social.DispatchInput{
		BlogID:    &blogID,
		Caption:   strings.TrimSpace(in.Caption),
		Hashtags:  in.Hashtags,
		ImageURL:  imageURL,
		Platforms: platforms,
		CreatedBy: createdBy,
	}
	if input.Caption == "" {
		input.Caption = fallbackCaption(blog)
		input.PerPlatform = s.generateCaptions(ctx, blog, platforms)
	}

	results, err := s.dispatcher.Dispatch(ctx, input)
	if err != nil {
		return nil, err
	}

	outcomes := make([]SocialOutcome, 0, len(results))
	published := 0
	for _, r := range results {
		o := SocialOutcome{Platform: r.Platform}
		if r.Post != nil {
			o.PostID = r.Post.ID
			o.ExternalPostID = r.Post.ExternalPostID
		}
		if r.Err != nil {
			o.Error = r.Err.Error()
		} else {
			o.Published = true
			published++
		}
		outcomes = append(outcomes, o)
	}

	if blog.AssignedSchoolID != nil {
		err := s.notifier.PublishSchool(ctx, *blog.AssignedSchoolID, notifications.Event{
			Type:    notifications.EventSocialDispatched,
			BlogID:  blog.ID,
			Message: fmt.Sprintf("%d of %d platforms published", published, len(outcomes)),
		})
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to publish social event", slog.String("error", err.Error()))
		}
	}
	return outcomes, nil
}

// generateCaptions asks the drafter for per-platform copy. Platforms whose
// generation fails fall back to the shared caption.
func (s *SocialService) generateCaptions(ctx context.Context, blog *models.Blog, platforms []models.Platform) map[models.Platform]social.Copy {
	if s.drafter == nil {
		return nil
	}
	var schoolID uint
	if blog.AssignedSchoolID != nil {
		schoolID = *blog.AssignedSchoolID
	}
	if !s.flags.EnabledOr(featureflags.AICaptions, schoolID, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.captionTimeout)
	defer cancel()

	summary := blog.Excerpt
	if summary == "" {
		summary = blog.MetaDescription
	}

	var mu sync.Mutex
	out := make(map[models.Platform]social.Copy, len(platforms))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range platforms {
		g.Go(func() error {
			generated, err := s.drafter.GenerateSocialPost(gctx, blog.Title, summary, string(p))
			if err != nil {
				observability.GlobalLogger.WarnContext(ctx, "caption generation failed, using fallback",
					slog.String("platform", string(p)),
					slog.Uint64("blog_id", uint64(blog.ID)),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if strings.TrimSpace(generated.Caption) == "" {
				return nil
			}
			mu.Lock()
			out[p] = social.Copy{Caption: generated.Caption, Hashtags: generated.Hashtags}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func fallbackCaption(blog *models.Blog) string {
	parts := []string{blog.Title}
	if blog.Excerpt != "" {
		parts = append(parts, blog.Excerpt)
	}
	if blog.WordPressURL != "" {
		parts = append(parts, blog.WordPressURL)
	}
	return strings.Join(parts, "\n\n")
}

func (s *SocialService) ListBlogPosts(ctx context.Context, actor *models.User, blogID uint) ([]models.SocialPost, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, blogID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, blog); err != nil {
		return nil, err
	}
	return s.posts.ListByBlog(ctx, blogID)
}

func (s *SocialService) CredentialStatus(ctx context.Context, actor *models.User) ([]social.PlatformStatus, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.credentials.Status(ctx)
}

// SaveCredentialsInput carries a manually entered credential. Facebook needs
// PageID; LinkedIn needs PersonURN.
type SaveCredentialsInput struct {
	AccessToken     string     `json:"access_token"`
	RefreshToken    string     `json:"refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at"`
	PageID          string     `json:"page_id"`
	PersonURN       string     `json:"person_urn"`
	OrganizationURN string     `json:"organization_urn"`
}

func (s *SocialService) SaveCredentials(ctx context.Context, actor *models.User, platform string, in SaveCredentialsInput) (*models.SocialToken, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	p, err := social.ParsePlatform(platform)
	if err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("unknown platform %q", platform))
	}
	switch p {
	case models.PlatformFacebook:
		return s.credentials.SaveFacebook(ctx, in.PageID, in.AccessToken)
	case models.PlatformLinkedIn:
		return s.credentials.SaveLinkedIn(ctx, social.LinkedInInput{
			AccessToken:     in.AccessToken,
			RefreshToken:    in.RefreshToken,
			ExpiresAt:       in.ExpiresAt,
			PersonURN:       in.PersonURN,
			OrganizationURN: in.OrganizationURN,
		})
	default:
		return nil, models.NewValidationError(fmt.Sprintf("%s credentials are not stored in the database", p))
	}
}

func (s *SocialService) DisconnectPlatform(ctx context.Context, actor *models.User, platform string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	p, err := social.ParsePlatform(platform)
	if err != nil {
		return models.NewValidationError(fmt.Sprintf("unknown platform %q", platform))
	}
	return s.credentials.Disconnect(ctx, p)
}

func (s *SocialService) LinkedInAuthURL(ctx context.Context, actor *models.User) (string, error) {
	if err := requireAdmin(actor); err != nil {
		return "", err
	}
	return s.credentials.LinkedInAuthURL(ctx)
}

// CompleteLinkedInAuth handles the OAuth redirect. The state issued by
// LinkedInAuthURL authenticates the request.
func (s *SocialService) CompleteLinkedInAuth(ctx context.Context, state, code string) (*models.SocialToken, error) {
	if strings.TrimSpace(code) == "" {
		return nil, models.NewValidationError("authorization code is required")
	}
	return s.credentials.CompleteLinkedInAuth(ctx, state, code)
}

// RefreshNow runs the credential refresh job on demand.
func (s *SocialService) RefreshNow(ctx context.Context, actor *models.User) (*social.RefreshReport, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if s.refresher == nil {
		return nil, models.NewConfigurationMissingError("token refresh")
	}
	report, err := s.refresher.RunAll(ctx)
	if errors.Is(err, social.ErrRefreshInProgress) {
		return nil, models.NewInvalidStateError(err.Error())
	}
	return report, err
}
