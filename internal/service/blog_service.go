package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"schooldesk/internal/ai"
	"schooldesk/internal/cache"
	"schooldesk/internal/featureflags"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"
	"schooldesk/internal/repository"
	"schooldesk/internal/validation"
	"schooldesk/internal/wordpress"

	"gorm.io/gorm"
)

// PublishPolicy holds the commercial terms of a publish.
type PublishPolicy struct {
	Cost   int64
	Reward int64
	// CompensateOnFailure reverses the publish entries when WordPress fails.
	CompensateOnFailure bool
	// DefaultPlatforms are used for autoposting when the request names none.
	DefaultPlatforms []models.Platform
}

// BlogServiceDeps wires a BlogService.
type BlogServiceDeps struct {
	DB          *gorm.DB
	Blogs       repository.BlogRepository
	Submissions repository.SubmissionRepository
	Schools     repository.SchoolRepository
	Ledger      *ledger.Ledger
	Drafter     ai.Drafter
	WordPress   WordPress
	Sharer      Sharer
	Flags       *featureflags.Manager
	Notifier    *notifications.Notifier
	Policy      PublishPolicy
}

// BlogService drives a blog through its lifecycle, from draft to WordPress.
type BlogService struct {
	db          *gorm.DB
	blogs       repository.BlogRepository
	submissions repository.SubmissionRepository
	schools     repository.SchoolRepository
	ledger      *ledger.Ledger
	drafter     ai.Drafter
	wordpress   WordPress
	sharer      Sharer
	flags       *featureflags.Manager
	notifier    *notifications.Notifier
	policy      PublishPolicy

	// publishing holds the IDs of blogs with a publish in flight.
	publishing sync.Map
}

func NewBlogService(deps BlogServiceDeps) *BlogService {
	return &BlogService{
		db:          deps.DB,
		blogs:       deps.Blogs,
		submissions: deps.Submissions,
		schools:     deps.Schools,
		ledger:      deps.Ledger,
		drafter:     deps.Drafter,
		wordpress:   deps.WordPress,
		sharer:      deps.Sharer,
		flags:       deps.Flags,
		notifier:    deps.Notifier,
		policy:      deps.Policy,
	}
}

type ManualDraftInput struct {
	SubmissionID uint     `json:"submission_id" validate:"required"`
	Title        string   `json:"title" validate:"required,max=300"`
	Content      string   `json:"content"`
	Excerpt      string   `json:"excerpt"`
	Tags         []string `json:"tags" validate:"max=20,dive,required,max=60"`
}

// UpdateBlogInput carries the editable fields; nil leaves a field unchanged.
type UpdateBlogInput struct {
	Title            *string   `json:"title" validate:"omitempty,min=1,max=300"`
	Slug             *string   `json:"slug" validate:"omitempty,max=320"`
	Content          *string   `json:"content"`
	Excerpt          *string   `json:"excerpt"`
	MetaTitle        *string   `json:"meta_title" validate:"omitempty,max=300"`
	MetaDescription  *string   `json:"meta_description" validate:"omitempty,max=500"`
	SEOKeywords      *[]string `json:"seo_keywords"`
	Tags             *[]string `json:"tags" validate:"omitempty,max=20"`
	FeaturedImageURL *string   `json:"featured_image_url" validate:"omitempty,url"`
}

type ListBlogsInput struct {
	Status           models.BlogStatus
	AssignedSchoolID uint
	SubmissionID     uint
	Limit            int
	Offset           int
}

func (s *BlogService) GetBlog(ctx context.Context, actor *models.User, id uint) (*models.Blog, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, blog); err != nil {
		return nil, err
	}
	return blog, nil
}

func (s *BlogService) ListBlogs(ctx context.Context, actor *models.User, in ListBlogsInput) ([]models.Blog, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, 0, models.NewValidationError("unknown blog status")
	}
	filter := repository.BlogFilter{Status: in.Status, AssignedSchoolID: in.AssignedSchoolID, SubmissionID: in.SubmissionID}
	if !actor.IsStaff() {
		if actor.SchoolID == nil {
			return nil, 0, models.NewForbiddenError("school user is not attached to a school")
		}
		filter.AssignedSchoolID = *actor.SchoolID
	}
	return s.blogs.List(ctx, filter, in.Limit, in.Offset)
}

// canView lets staff see every blog and schools see blogs assigned to them or
// drafted from their submissions.
func canView(actor *models.User, blog *models.Blog) error {
	if actor.IsStaff() {
		return nil
	}
	if blog.AssignedSchoolID != nil && actor.BelongsTo(*blog.AssignedSchoolID) {
		return nil
	}
	if blog.Submission != nil && actor.BelongsTo(blog.Submission.SchoolID) {
		return nil
	}
	return models.NewForbiddenError("you do not have access to this blog")
}

// canEdit: staff while the blog is not terminal, the assigned school only
// while it is under review or approved.
func canEdit(actor *models.User, blog *models.Blog) error {
	if blog.Status.Terminal() {
		return models.NewInvalidStateError(fmt.Sprintf("blog is %s and can no longer be edited", blog.Status))
	}
	if actor.IsStaff() {
		return nil
	}
	if blog.AssignedSchoolID != nil && actor.BelongsTo(*blog.AssignedSchoolID) &&
		(blog.Status == models.BlogReview || blog.Status == models.BlogApprovedSchool) {
		return nil
	}
	return models.NewForbiddenError("you cannot edit this blog")
}

// canDecide allows the assigned school and admins to approve or reject.
func canDecide(actor *models.User, blog *models.Blog) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == models.RoleSchool && blog.AssignedSchoolID != nil && actor.BelongsTo(*blog.AssignedSchoolID) {
		return nil
	}
	return models.NewForbiddenError("only the assigned school or an admin can review this blog")
}

// GenerateDraft asks the AI drafter for a blog written from the submission.
// Regenerating from draft_created creates a new blog; earlier drafts are kept.
func (s *BlogService) GenerateDraft(ctx context.Context, actor *models.User, submissionID uint) (*models.Blog, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubmissionSubmitted && sub.Status != models.SubmissionDraftCreated {
		return nil, models.NewInvalidStateError(fmt.Sprintf("cannot draft a submission in status %s", sub.Status))
	}
	if !s.flags.EnabledOr(featureflags.AIDrafts, sub.SchoolID, true) {
		return nil, models.NewForbiddenError("AI drafting is disabled for this school")
	}
	if s.drafter == nil {
		return nil, models.NewConfigurationMissingError("AI drafting (OPENAI_API_KEY)")
	}

	ctx, span := observability.GetTraceLayer().TraceService(ctx, "BlogService", "GenerateDraft")
	defer span.End()

	draft, err := s.drafter.GenerateBlogDraft(ctx, ai.DraftRequest{
		Title:       sub.Title,
		Description: sub.Description,
		Category:    string(sub.Category),
	})
	if errors.Is(err, ai.ErrNotConfigured) {
		return nil, models.NewConfigurationMissingError("AI drafting (OPENAI_API_KEY)")
	}
	if err != nil {
		observability.FailSpan(span, err)
		return nil, models.NewUpstreamError("draft generation failed", err)
	}

	blog := blogFromDraft(sub, draft, actor.ID)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.blogs.WithTx(tx).Create(ctx, blog); err != nil {
			return err
		}
		if sub.Status.Advances(models.SubmissionDraftCreated) {
			return s.submissions.WithTx(tx).SetStatus(ctx, sub.ID, models.SubmissionDraftCreated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cache.InvalidateBlogLists(ctx)
	s.statusEvent(ctx, sub.SchoolID, blog)
	return blog, nil
}

func blogFromDraft(sub *models.Submission, draft *ai.Draft, createdBy uint) *models.Blog {
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = sub.Title
	}
	slug := strings.TrimSpace(draft.Slug)
	if slug == "" {
		slug = ai.Slugify(title)
	}
	readingTime := draft.ReadingTime
	if readingTime <= 0 {
		readingTime = ai.EstimateReadingTime(draft.Content)
	}
	keywords := draft.SEOKeywords
	if keywords == nil {
		keywords = []string{}
	}
	tags := keywords
	if len(tags) > 5 {
		tags = tags[:5]
	}
	return &models.Blog{
		SubmissionID:    sub.ID,
		Title:           title,
		Slug:            slug,
		Content:         draft.Content,
		Excerpt:         draft.MetaDescription,
		MetaTitle:       draft.MetaTitle,
		MetaDescription: draft.MetaDescription,
		SEOKeywords:     keywords,
		Tags:            append([]string{}, tags...),
		ReadingTime:     readingTime,
		Status:          models.BlogDraftCreated,
		CreatedBy:       createdBy,
	}
}

// CreateManualDraft starts a writer-authored blog in draft_writer.
func (s *BlogService) CreateManualDraft(ctx context.Context, actor *models.User, in ManualDraftInput) (*models.Blog, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	sub, err := s.submissions.GetByID(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubmissionPublishedWP {
		return nil, models.NewInvalidStateError("submission is already published")
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	blog := &models.Blog{
		SubmissionID: sub.ID,
		Title:        in.Title,
		Slug:         ai.Slugify(in.Title),
		Content:      in.Content,
		Excerpt:      in.Excerpt,
		SEOKeywords:  []string{},
		Tags:         tags,
		ReadingTime:  ai.EstimateReadingTime(in.Content),
		Status:       models.BlogDraftWriter,
		CreatedBy:    actor.ID,
	}
	if err := s.blogs.Create(ctx, blog); err != nil {
		return nil, err
	}
	cache.InvalidateBlogLists(ctx)
	return blog, nil
}

// MarkDraftReady moves a writer draft into draft_created.
func (s *BlogService) MarkDraftReady(ctx context.Context, actor *models.User, id uint) (*models.Blog, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, blog, models.BlogDraftCreated, nil)
}

func (s *BlogService) UpdateBlog(ctx context.Context, actor *models.User, id uint, in UpdateBlogInput) (*models.Blog, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canEdit(actor, blog); err != nil {
		return nil, err
	}

	if in.Title != nil {
		blog.Title = strings.TrimSpace(*in.Title)
	}
	if in.Slug != nil {
		blog.Slug = ai.Slugify(*in.Slug)
	}
	if in.Content != nil {
		blog.Content = *in.Content
		blog.ReadingTime = ai.EstimateReadingTime(blog.Content)
	}
	if in.Excerpt != nil {
		blog.Excerpt = *in.Excerpt
	}
	if in.MetaTitle != nil {
		blog.MetaTitle = *in.MetaTitle
	}
	if in.MetaDescription != nil {
		blog.MetaDescription = *in.MetaDescription
	}
	if in.SEOKeywords != nil {
		blog.SEOKeywords = append([]string{}, *in.SEOKeywords...)
	}
	if in.Tags != nil {
		blog.Tags = append([]string{}, *in.Tags...)
	}
	if in.FeaturedImageURL != nil {
		blog.FeaturedImageURL = *in.FeaturedImageURL
		blog.FeaturedMediaID = nil
	}

	if err := s.blogs.Save(ctx, blog); err != nil {
		return nil, err
	}
	cache.InvalidateBlog(ctx, blog.ID)
	return blog, nil
}

// AdvanceToReview assigns a school (the submission's by default) and sends the blog for review.
func (s *BlogService) AdvanceToReview(ctx context.Context, actor *models.User, id uint, schoolID *uint) (*models.Blog, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !blog.Status.CanTransitionTo(models.BlogReview) {
		return nil, models.NewInvalidStateError(fmt.Sprintf("cannot send a %s blog to review", blog.Status))
	}

	var assignee uint
	if blog.Submission != nil {
		assignee = blog.Submission.SchoolID
	}
	if schoolID != nil && *schoolID != 0 {
		assignee = *schoolID
	}
	if assignee == 0 {
		return nil, models.NewValidationError("school_id is required")
	}
	if _, err := activeSchool(ctx, s.schools, assignee); err != nil {
		return nil, err
	}
	return s.transition(ctx, blog, models.BlogReview, map[string]interface{}{"assigned_school_id": assignee})
}

func (s *BlogService) Approve(ctx context.Context, actor *models.User, id uint) (*models.Blog, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canDecide(actor, blog); err != nil {
		return nil, err
	}
	if blog.Status != models.BlogReview {
		return nil, models.NewInvalidStateError(fmt.Sprintf("cannot approve a %s blog", blog.Status))
	}
	return s.transition(ctx, blog, models.BlogApprovedSchool, nil)
}

func (s *BlogService) Reject(ctx context.Context, actor *models.User, id uint, reason string) (*models.Blog, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError("reason is required")
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canDecide(actor, blog); err != nil {
		return nil, err
	}
	if blog.Status != models.BlogReview {
		return nil, models.NewInvalidStateError(fmt.Sprintf("cannot reject a %s blog", blog.Status))
	}
	return s.transition(ctx, blog, models.BlogRejected, map[string]interface{}{"rejection_reason": reason})
}

// transition moves blog to next if it is still in its loaded status, and
// projects the change onto the submission in the same transaction.
func (s *BlogService) transition(ctx context.Context, blog *models.Blog, next models.BlogStatus, extra map[string]interface{}) (*models.Blog, error) {
	if !blog.Status.CanTransitionTo(next) {
		return nil, models.NewInvalidStateError(fmt.Sprintf("cannot move blog from %s to %s", blog.Status, next))
	}
	updates := map[string]interface{}{"status": next, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.blogs.WithTx(tx).TransitionFrom(ctx, blog.ID, []models.BlogStatus{blog.Status}, updates)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewInvalidStateError("blog status changed concurrently")
		}
		subStatus, projects := models.SubmissionProjection(next)
		if !projects {
			return nil
		}
		subs := s.submissions.WithTx(tx)
		sub, err := subs.GetByID(ctx, blog.SubmissionID)
		if err != nil {
			return err
		}
		if sub.Status.Advances(subStatus) {
			return subs.SetStatus(ctx, sub.ID, subStatus)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.blogs.GetByID(ctx, blog.ID)
	if err != nil {
		return nil, err
	}
	cache.InvalidateBlog(ctx, blog.ID)
	if updated.Submission != nil {
		s.statusEvent(ctx, updated.Submission.SchoolID, updated)
	}
	return updated, nil
}

// UploadFeaturedImage stores the image in the WordPress media library and
// attaches it to the blog.
func (s *BlogService) UploadFeaturedImage(ctx context.Context, actor *models.User, id uint, filename, contentType string, data io.Reader) (*models.Blog, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, models.NewValidationError("featured image must be an image")
	}
	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canEdit(actor, blog); err != nil {
		return nil, err
	}
	if s.wordpress == nil || !s.wordpress.Configured() {
		return nil, models.NewConfigurationMissingError("WordPress (WORDPRESS_URL, WORDPRESS_USERNAME, WORDPRESS_APP_PASSWORD)")
	}

	media, err := s.wordpress.UploadMedia(ctx, filename, contentType, data)
	if err != nil {
		return nil, models.NewUpstreamError("featured image upload failed", err)
	}
	mediaID := media.ID
	blog.FeaturedMediaID = &mediaID
	blog.FeaturedImageURL = media.SourceURL
	if err := s.blogs.Save(ctx, blog); err != nil {
		return nil, err
	}
	cache.InvalidateBlog(ctx, blog.ID)
	return blog, nil
}

func (s *BlogService) statusEvent(ctx context.Context, schoolID uint, blog *models.Blog) {
	err := s.notifier.PublishSchool(ctx, schoolID, notifications.Event{
		Type:         notifications.EventBlogStatusChanged,
		SubmissionID: blog.SubmissionID,
		BlogID:       blog.ID,
		Status:       string(blog.Status),
	})
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish blog event", slog.String("error", err.Error()))
	}
}

func wordpressPost(blog *models.Blog, tagIDs []int) wordpress.Post {
	return wordpress.Post{
		Title:         blog.Title,
		Content:       blog.Content,
		Excerpt:       blog.Excerpt,
		Slug:          blog.Slug,
		Tags:          tagIDs,
		FeaturedMedia: blog.FeaturedMediaID,
	}
}
