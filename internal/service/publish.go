package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"schooldesk/internal/cache"
	"schooldesk/internal/featureflags"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"
	"schooldesk/internal/notifications"
	"schooldesk/internal/observability"
	"schooldesk/internal/wordpress"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// PublishInput optionally names the platforms to share to after publishing.
type PublishInput struct {
	Platforms []string `json:"platforms"`
}

// PublishResult is the outcome of a successful publish.
type PublishResult struct {
	Blog    *models.Blog    `json:"blog"`
	Charged bool            `json:"charged"`
	Balance *int64          `json:"balance,omitempty"`
	Social  []SocialOutcome `json:"social,omitempty"`
}

func publishReference(blogID uint) string {
	return fmt.Sprintf("blog:%d", blogID)
}

// Publish charges the school, posts the blog to WordPress and marks it
// published_wp. It runs detached from the caller's cancellation: once the
// ledger has been touched the rest of the sequence always completes.
func (s *BlogService) Publish(ctx context.Context, actor *models.User, id uint, in PublishInput) (*PublishResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.GetTraceLayer().TraceService(ctx, "BlogService", "Publish")
	defer span.End()
	span.SetAttributes(attribute.Int64("blog.id", int64(id)))

	res, err := s.publish(ctx, actor, id, in)
	observability.PublishAttempts.WithLabelValues(publishOutcome(err)).Inc()
	if err != nil {
		observability.FailSpan(span, err)
	}
	return res, err
}

func publishOutcome(err error) string {
	switch models.ErrorCode(err) {
	case "":
		if err == nil {
			return "published"
		}
		return "error"
	case models.CodeInsufficientBalance:
		return "insufficient_balance"
	case models.CodeUpstreamFailure:
		return "upstream_failure"
	case models.CodeForbidden:
		return "forbidden"
	case models.CodeInvalidState:
		return "invalid_state"
	default:
		return "error"
	}
}

func (s *BlogService) publish(ctx context.Context, actor *models.User, id uint, in PublishInput) (*PublishResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validatePlatforms(in.Platforms); err != nil {
		return nil, err
	}
	if _, busy := s.publishing.LoadOrStore(id, struct{}{}); busy {
		return nil, models.NewInvalidStateError("a publish of this blog is already in progress")
	}
	defer s.publishing.Delete(id)

	blog, err := s.blogs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if blog.AssignedSchoolID == nil {
		return nil, models.NewInvalidStateError("blog has no assigned school")
	}
	if !blog.Status.Publishable() {
		return nil, models.NewInvalidStateError(fmt.Sprintf("cannot publish a %s blog", blog.Status))
	}
	schoolID := *blog.AssignedSchoolID
	if !actor.IsStaff() && !(actor.Role == models.RoleSchool && actor.BelongsTo(schoolID)) {
		return nil, models.NewForbiddenError("only the assigned school, a writer or an admin can publish this blog")
	}
	if _, err := activeSchool(ctx, s.schools, schoolID); err != nil {
		return nil, err
	}
	if s.wordpress == nil || !s.wordpress.Configured() {
		return nil, models.NewConfigurationMissingError("WordPress (WORDPRESS_URL, WORDPRESS_USERNAME, WORDPRESS_APP_PASSWORD)")
	}

	charged := !actor.IsAdmin()
	var balance *int64
	if charged {
		after, err := s.charge(ctx, schoolID, blog.ID)
		if err != nil {
			return nil, err
		}
		balance = &after
		cache.Invalidate(ctx, cache.SchoolBalanceKey(schoolID))
	}

	post, err := s.postToWordPress(ctx, blog)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "wordpress publish failed",
			slog.Uint64("blog_id", uint64(blog.ID)),
			slog.Bool("charged", charged),
			slog.String("error", err.Error()),
		)
		if charged && s.policy.CompensateOnFailure {
			s.compensate(ctx, schoolID, blog.ID)
		}
		return nil, models.NewUpstreamError("wordpress publish failed", err)
	}

	now := time.Now()
	postID := post.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.blogs.WithTx(tx).TransitionFrom(ctx, blog.ID,
			[]models.BlogStatus{models.BlogReview, models.BlogApprovedSchool},
			map[string]interface{}{
				"status":            models.BlogPublishedWP,
				"wordpress_post_id": postID,
				"wordpress_url":     post.Link,
				"published_at":      now,
				"updated_at":        now,
			})
		if err != nil {
			return err
		}
		if !ok {
			return models.NewInvalidStateError("blog was published or rejected concurrently")
		}
		return s.submissions.WithTx(tx).SetStatus(ctx, blog.SubmissionID, models.SubmissionPublishedWP)
	})
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "wordpress post created but blog not marked published",
			slog.Uint64("blog_id", uint64(blog.ID)),
			slog.Int64("wordpress_post_id", postID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	blog.Status = models.BlogPublishedWP
	blog.WordPressPostID = &postID
	blog.WordPressURL = post.Link
	blog.PublishedAt = &now
	if blog.Submission != nil {
		blog.Submission.Status = models.SubmissionPublishedWP
	}

	cache.InvalidateBlog(ctx, blog.ID)
	s.publishedEvents(ctx, schoolID, blog, balance)

	observability.GlobalLogger.InfoContext(ctx, "blog published",
		slog.Uint64("blog_id", uint64(blog.ID)),
		slog.Uint64("school_id", uint64(schoolID)),
		slog.Int64("wordpress_post_id", postID),
		slog.Bool("charged", charged),
	)

	result := &PublishResult{Blog: blog, Charged: charged, Balance: balance}
	result.Social = s.autoShare(ctx, blog, actor.ID, schoolID, in.Platforms)
	return result, nil
}

// charge debits the publish cost and credits the reward in one unit. The
// balance check reads the same snapshot the debit writes against, so a
// concurrent spend surfaces as a retried conflict rather than an overdraft.
func (s *BlogService) charge(ctx context.Context, schoolID, blogID uint) (int64, error) {
	ref := publishReference(blogID)
	var after int64
	err := s.ledger.Execute(ctx, func(tx *gorm.DB) error {
		debit, err := s.ledger.Apply(ctx, tx, ledger.Entry{
			SchoolID:    schoolID,
			Type:        models.TransactionDebit,
			Coins:       s.policy.Cost,
			ReferenceID: ref,
			Description: "blog publish",
		})
		if err != nil {
			return err
		}
		if debit.CoinsBefore < s.policy.Cost {
			return models.NewInsufficientBalanceError(debit.CoinsBefore, s.policy.Cost)
		}
		reward, err := s.ledger.Apply(ctx, tx, ledger.Entry{
			SchoolID:    schoolID,
			Type:        models.TransactionReward,
			Coins:       s.policy.Reward,
			ReferenceID: ref,
			Description: "blog publish reward",
		})
		if err != nil {
			return err
		}
		after = reward.CoinsAfter
		return nil
	})
	return after, err
}

// compensate reverses a publish charge after WordPress failed.
func (s *BlogService) compensate(ctx context.Context, schoolID, blogID uint) {
	ref := publishReference(blogID)
	err := s.ledger.Execute(ctx, func(tx *gorm.DB) error {
		if _, err := s.ledger.Apply(ctx, tx, ledger.Entry{
			SchoolID:    schoolID,
			Type:        models.TransactionRefund,
			Coins:       s.policy.Cost,
			ReferenceID: ref,
			Description: "publish failed: cost refunded",
		}); err != nil {
			return err
		}
		_, err := s.ledger.Apply(ctx, tx, ledger.Entry{
			SchoolID:    schoolID,
			Type:        models.TransactionDebit,
			Coins:       s.policy.Reward,
			ReferenceID: ref,
			Description: "publish failed: reward reversed",
		})
		return err
	})
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to compensate publish charge",
			slog.Uint64("school_id", uint64(schoolID)),
			slog.Uint64("blog_id", uint64(blogID)),
			slog.String("error", err.Error()),
		)
		return
	}
	cache.Invalidate(ctx, cache.SchoolBalanceKey(schoolID))
}

func (s *BlogService) postToWordPress(ctx context.Context, blog *models.Blog) (*wordpress.PublishedPost, error) {
	var tagIDs []int
	if len(blog.Tags) > 0 {
		ids, err := s.wordpress.EnsureTags(ctx, blog.Tags)
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "wordpress tag sync failed, publishing without tags",
				slog.Uint64("blog_id", uint64(blog.ID)),
				slog.String("error", err.Error()),
			)
		} else {
			tagIDs = ids
		}
	}
	return s.wordpress.CreatePost(ctx, wordpressPost(blog, tagIDs))
}

func (s *BlogService) publishedEvents(ctx context.Context, schoolID uint, blog *models.Blog, balance *int64) {
	events := []notifications.Event{{
		Type:         notifications.EventBlogPublished,
		SubmissionID: blog.SubmissionID,
		BlogID:       blog.ID,
		Status:       string(blog.Status),
		Message:      blog.WordPressURL,
	}}
	if balance != nil {
		events = append(events, notifications.Event{Type: notifications.EventBalanceChanged, Balance: balance})
	}
	for _, ev := range events {
		if err := s.notifier.PublishSchool(ctx, schoolID, ev); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to publish event",
				slog.String("type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// autopostPlatforms prefers the autopost_platforms flag over the configured
// defaults. Unknown names in the flag are dropped.
func (s *BlogService) autopostPlatforms() []string {
	var out []string
	for _, name := range s.flags.List(featureflags.AutopostPlatforms) {
		if models.Platform(name).Valid() {
			out = append(out, name)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, p := range s.policy.DefaultPlatforms {
		out = append(out, string(p))
	}
	return out
}

// autoShare runs the optional social fan-out. Its failures are logged and
// reported but never fail the publish.
func (s *BlogService) autoShare(ctx context.Context, blog *models.Blog, createdBy, schoolID uint, requested []string) []SocialOutcome {
	if s.sharer == nil {
		return nil
	}
	platforms := requested
	if len(platforms) == 0 {
		if !s.flags.EnabledOr(featureflags.SocialAutopost, schoolID, false) {
			return nil
		}
		platforms = s.autopostPlatforms()
	}
	if len(platforms) == 0 {
		return nil
	}

	outcomes, err := s.sharer.Share(ctx, blog, createdBy, ShareInput{Platforms: platforms})
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "social share after publish failed",
			slog.Uint64("blog_id", uint64(blog.ID)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return outcomes
}

func validatePlatforms(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !models.Platform(name).Valid() {
			return models.NewValidationError(fmt.Sprintf("unknown platform %q", name))
		}
		if seen[name] {
			return models.NewValidationError(fmt.Sprintf("duplicate platform %q", name))
		}
		seen[name] = true
	}
	return nil
}
