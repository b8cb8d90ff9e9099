package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"schooldesk/internal/ai"
	"schooldesk/internal/featureflags"
	"schooldesk/internal/ledger"
	"schooldesk/internal/models"
	"schooldesk/internal/repository"
	"schooldesk/internal/social"
	"schooldesk/internal/testutil"
	"schooldesk/internal/wordpress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubWordPress struct {
	mu           sync.Mutex
	unconfigured bool
	createErr    error
	tagsErr      error
	posts        []wordpress.Post
	tagCalls     [][]string
	nextID       int64
}

func (w *stubWordPress) Configured() bool { return !w.unconfigured }

func (w *stubWordPress) EnsureTags(_ context.Context, names []string) ([]int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tagCalls = append(w.tagCalls, names)
	if w.tagsErr != nil {
		return nil, w.tagsErr
	}
	ids := make([]int, len(names))
	for i := range names {
		ids[i] = 100 + i
	}
	return ids, nil
}

func (w *stubWordPress) CreatePost(_ context.Context, post wordpress.Post) (*wordpress.PublishedPost, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return nil, w.createErr
	}
	w.posts = append(w.posts, post)
	w.nextID++
	id := 9000 + w.nextID
	return &wordpress.PublishedPost{ID: id, Link: fmt.Sprintf("https://news.example.org/?p=%d", id)}, nil
}

func (w *stubWordPress) UploadMedia(_ context.Context, filename, _ string, _ io.Reader) (*wordpress.Media, error) {
	return &wordpress.Media{ID: 77, SourceURL: "https://news.example.org/uploads/" + filename}, nil
}

func (w *stubWordPress) postCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.posts)
}

type stubDrafter struct {
	draft      *ai.Draft
	draftErr   error
	captionErr map[string]error
	calls      int
}

func (d *stubDrafter) GenerateBlogDraft(_ context.Context, req ai.DraftRequest) (*ai.Draft, error) {
	d.calls++
	if d.draftErr != nil {
		return nil, d.draftErr
	}
	if d.draft != nil {
		return d.draft, nil
	}
	return &ai.Draft{
		Title:           req.Title,
		MetaTitle:       req.Title,
		MetaDescription: "A short summary.",
		SEOKeywords:     []string{"robotics", "stem"},
		Content:         "<p>" + req.Description + "</p>",
	}, nil
}

func (d *stubDrafter) GenerateSocialPost(_ context.Context, title, _, platform string) (*ai.SocialCopy, error) {
	if err := d.captionErr[platform]; err != nil {
		return nil, err
	}
	return &ai.SocialCopy{Caption: platform + ": " + title, Hashtags: []string{"school"}}, nil
}

type stubSharer struct {
	mu    sync.Mutex
	calls []ShareInput
	err   error
}

func (s *stubSharer) Share(_ context.Context, _ *models.Blog, _ uint, in ShareInput) ([]SocialOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, in)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]SocialOutcome, 0, len(in.Platforms))
	for _, p := range in.Platforms {
		out = append(out, SocialOutcome{Platform: models.Platform(p), Published: true})
	}
	return out, nil
}

type fakeDispatcher struct {
	inputs  []social.DispatchInput
	failFor map[models.Platform]error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, in social.DispatchInput) ([]social.DispatchResult, error) {
	f.inputs = append(f.inputs, in)
	out := make([]social.DispatchResult, 0, len(in.Platforms))
	for i, p := range in.Platforms {
		post := &models.SocialPost{ID: uint(i + 1), Platform: p, Caption: in.Caption}
		res := social.DispatchResult{Platform: p, Post: post, Err: f.failFor[p]}
		if res.Err == nil {
			post.IsPublished = true
			post.ExternalPostID = "ext-" + string(p)
		}
		out = append(out, res)
	}
	return out, nil
}

type pipeline struct {
	db      *gorm.DB
	blogs   repository.BlogRepository
	subs    repository.SubmissionRepository
	schools repository.SchoolRepository
	users   repository.UserRepository
	ledger  *ledger.Ledger
	wp      *stubWordPress
	drafter *stubDrafter
	sharer  *stubSharer
	svc     *BlogService
}

type pipelineOption func(*BlogServiceDeps)

func withPolicy(p PublishPolicy) pipelineOption {
	return func(d *BlogServiceDeps) { d.Policy = p }
}

func withFlags(raw string) pipelineOption {
	return func(d *BlogServiceDeps) { d.Flags = featureflags.NewManager(raw) }
}

func newPipeline(t *testing.T, opts ...pipelineOption) *pipeline {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	p := &pipeline{
		db:      db,
		blogs:   repository.NewBlogRepository(db),
		subs:    repository.NewSubmissionRepository(db),
		schools: repository.NewSchoolRepository(db),
		users:   repository.NewUserRepository(db),
		ledger:  ledger.New(db, 3),
		wp:      &stubWordPress{},
		drafter: &stubDrafter{},
		sharer:  &stubSharer{},
	}
	deps := BlogServiceDeps{
		DB:          db,
		Blogs:       p.blogs,
		Submissions: p.subs,
		Schools:     p.schools,
		Ledger:      p.ledger,
		Drafter:     p.drafter,
		WordPress:   p.wp,
		Sharer:      p.sharer,
		Policy:      PublishPolicy{Cost: 99, Reward: 50},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	p.svc = NewBlogService(deps)
	return p
}

// reviewBlog creates a school funded with coins through the ledger, a school
// user and a blog in status assigned to that school.
func (p *pipeline) reviewBlog(t *testing.T, coins int64, status models.BlogStatus) (*models.School, *models.User, *models.Blog) {
	t.Helper()
	school := testutil.CreateSchool(t, p.db, fmt.Sprintf("School %d", coins), 0)
	if coins > 0 {
		_, err := p.ledger.Grant(context.Background(), school.ID, coins, openingReference, "opening balance")
		require.NoError(t, err)
		school.Coins = coins
	}
	user := testutil.CreateUser(t, p.db, fmt.Sprintf("office-%d@school.example.org", school.ID), models.RoleSchool, school.ID)
	sub := testutil.CreateSubmission(t, p.db, school.ID, models.SubmissionReview)
	blog := testutil.CreateBlog(t, p.db, sub.ID, status, school.ID)
	return school, user, blog
}

func assertCode(t *testing.T, code string, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, models.ErrorCode(err), "error: %v", err)
}

var errUpstream = errors.New("upstream unavailable")

const openingReference = "opening"

// publishEntries drops the opening grant written by reviewBlog.
func publishEntries(entries []models.Transaction) []models.Transaction {
	if len(entries) > 0 && entries[0].ReferenceID == openingReference {
		return entries[1:]
	}
	return entries
}
