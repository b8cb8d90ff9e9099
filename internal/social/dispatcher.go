package social

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"schooldesk/internal/models"
	"schooldesk/internal/observability"
	"schooldesk/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Poster publishes to one platform.
type Poster interface {
	Platform() models.Platform
	Post(ctx context.Context, creds Credentials, text, imageURL string) (string, error)
}

// Resolver returns credentials for a platform.
type Resolver interface {
	Resolve(ctx context.Context, platform models.Platform) (Credentials, error)
}

// Copy is the caption and hashtags for one platform.
type Copy struct {
	Caption  string
	Hashtags []string
}

// DispatchInput describes one fan-out. PerPlatform overrides Caption/Hashtags
// for the platforms it names.
type DispatchInput struct {
	BlogID      *uint
	Caption     string
	Hashtags    []string
	PerPlatform map[models.Platform]Copy
	ImageURL    string
	Platforms   []models.Platform
	CreatedBy   uint
}

// DispatchResult is the outcome for one platform. Post is the recorded row and
// is set even when Err is.
type DispatchResult struct {
	Platform models.Platform
	Post     *models.SocialPost
	Err      error
}

// DispatcherOptions tune a Dispatcher.
type DispatcherOptions struct {
	// Timeout bounds each platform's resolve and post.
	Timeout     time.Duration
	Concurrency int
}

// Dispatcher posts to several platforms at once. One platform failing never
// affects the others.
type Dispatcher struct {
	resolver Resolver
	posts    repository.SocialPostRepository
	posters  map[models.Platform]Poster
	opts     DispatcherOptions
}

// NewDispatcher creates a Dispatcher over the given platform clients.
func NewDispatcher(resolver Resolver, posts repository.SocialPostRepository, posters []Poster, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	byPlatform := make(map[models.Platform]Poster, len(posters))
	for _, p := range posters {
		byPlatform[p.Platform()] = p
	}
	return &Dispatcher{resolver: resolver, posts: posts, posters: byPlatform, opts: opts}
}

func validateInput(in DispatchInput) error {
	if strings.TrimSpace(in.Caption) == "" {
		return models.NewValidationError("caption is required")
	}
	if len(in.Platforms) == 0 {
		return models.NewValidationError("at least one platform is required")
	}
	seen := make(map[models.Platform]bool, len(in.Platforms))
	for _, p := range in.Platforms {
		if !p.Valid() {
			return models.NewValidationError(fmt.Sprintf("unknown platform %q", p))
		}
		if seen[p] {
			return models.NewValidationError(fmt.Sprintf("platform %q listed more than once", p))
		}
		seen[p] = true
	}
	return nil
}

// Dispatch posts to every requested platform and records one SocialPost per
// platform. Results are in request order. The error is non-nil only for invalid input.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) ([]DispatchResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	attemptID := uuid.New()
	ctx, span := observability.GetTraceLayer().TraceService(ctx, "Dispatcher", "Dispatch")
	defer span.End()
	observability.LogAsyncOperationStart(ctx, "social_dispatch", map[string]interface{}{
		"attempt_id": attemptID.String(),
		"platforms":  in.Platforms,
	})
	start := time.Now()

	results := make([]DispatchResult, len(in.Platforms))
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i, platform := range in.Platforms {
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, attemptID, in, platform)
			return nil
		})
	}
	_ = g.Wait()

	published := 0
	for _, r := range results {
		if r.Err == nil {
			published++
		}
	}
	observability.LogAsyncOperationEnd(ctx, "social_dispatch", map[string]interface{}{
		"attempt_id":  attemptID.String(),
		"duration_ms": time.Since(start).Milliseconds(),
		"published":   published,
		"failed":      len(results) - published,
	})
	return results, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, attemptID uuid.UUID, in DispatchInput, platform models.Platform) (result DispatchResult) {
	text := Copy{Caption: in.Caption, Hashtags: in.Hashtags}
	if override, ok := in.PerPlatform[platform]; ok && strings.TrimSpace(override.Caption) != "" {
		text = override
	}

	post := &models.SocialPost{
		BlogID:    in.BlogID,
		AttemptID: attemptID,
		Platform:  platform,
		Caption:   text.Caption,
		Hashtags:  normalizeHashtags(text.Hashtags),
		CreatedBy: in.CreatedBy,
	}
	result = DispatchResult{Platform: platform, Post: post}

	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.ErrorContext(ctx, "panic while posting",
				slog.String("platform", string(platform)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result.Err = fmt.Errorf("%s: internal error", platform)
		}
		d.record(ctx, &result)
	}()

	pctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	creds, err := d.resolver.Resolve(pctx, platform)
	if err != nil {
		result.Err = err
		return result
	}
	poster, ok := d.posters[platform]
	if !ok {
		result.Err = models.NewConfigurationMissingError(fmt.Sprintf("%s client", platform))
		return result
	}
	externalID, err := poster.Post(pctx, creds, ComposeText(text.Caption, post.Hashtags), in.ImageURL)
	if err != nil {
		result.Err = err
		return result
	}
	post.IsPublished = true
	post.ExternalPostID = externalID
	return result
}

// record persists the attempt even when the caller has gone away.
func (d *Dispatcher) record(ctx context.Context, result *DispatchResult) {
	if result.Err != nil {
		result.Post.IsPublished = false
		result.Post.ExternalPostID = ""
		result.Post.ErrorMessage = result.Err.Error()
	}
	observability.SocialPosts.WithLabelValues(string(result.Platform), observability.ResultLabel(result.Err)).Inc()

	if err := d.posts.Create(context.WithoutCancel(ctx), result.Post); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to record social post",
			slog.String("platform", string(result.Platform)),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		t = strings.ReplaceAll(t, " ", "")
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

// ComposeText appends hashtags to the caption on a separate paragraph.
func ComposeText(caption string, hashtags []string) string {
	caption = strings.TrimSpace(caption)
	if len(hashtags) == 0 {
		return caption
	}
	tags := make([]string, len(hashtags))
	for i, t := range hashtags {
		tags[i] = "#" + strings.TrimPrefix(t, "#")
	}
	return caption + "\n\n" + strings.Join(tags, " ")
}
