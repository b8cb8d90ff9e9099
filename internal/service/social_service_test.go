package service

import (
	"context"
	"testing"
	"time"

	"schooldesk/internal/models"
	"schooldesk/internal/repository"
	"schooldesk/internal/social"
	"schooldesk/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	err    error
	report *social.RefreshReport
}

func (f *fakeRefresher) RunAll(context.Context) (*social.RefreshReport, error) {
	return f.report, f.err
}

func newSocialService(t *testing.T, p *pipeline, dispatcher Dispatcher, refresher RefreshRunner) *SocialService {
	t.Helper()
	return NewSocialService(SocialServiceDeps{
		Blogs:      p.blogs,
		Posts:      repository.NewSocialPostRepository(p.db),
		Dispatcher: dispatcher,
		Drafter:    p.drafter,
		Refresher:  refresher,
	})
}

func publishedBlog(t *testing.T, p *pipeline) *models.Blog {
	t.Helper()
	_, _, blog := p.reviewBlog(t, 0, models.BlogPublishedWP)
	require.NoError(t, p.db.Model(&models.Blog{}).Where("id = ?", blog.ID).Updates(map[string]interface{}{
		"wordpress_url":      "https://news.example.org/robotics",
		"featured_image_url": "https://news.example.org/uploads/robotics.jpg",
	}).Error)
	stored, err := p.blogs.GetByID(context.Background(), blog.ID)
	require.NoError(t, err)
	return stored
}

func TestShare_GeneratesCaptionPerPlatform(t *testing.T) {
	p := newPipeline(t)
	p.drafter.captionErr = map[string]error{"linkedin": errUpstream}
	dispatcher := &fakeDispatcher{failFor: map[models.Platform]error{models.PlatformInstagram: errUpstream}}
	svc := newSocialService(t, p, dispatcher, nil)
	blog := publishedBlog(t, p)

	outcomes, err := svc.Share(context.Background(), blog, 1, ShareInput{Platforms: []string{"facebook", "linkedin", "instagram"}})
	require.NoError(t, err)

	require.Len(t, dispatcher.inputs, 1)
	in := dispatcher.inputs[0]
	assert.Equal(t, blog.FeaturedImageURL, in.ImageURL)
	assert.Contains(t, in.Caption, blog.Title)
	assert.Contains(t, in.Caption, "https://news.example.org/robotics")
	assert.Equal(t, "facebook: "+blog.Title, in.PerPlatform[models.PlatformFacebook].Caption)
	_, hasLinkedIn := in.PerPlatform[models.PlatformLinkedIn]
	assert.False(t, hasLinkedIn, "failed generation falls back to the shared caption")

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].Published)
	assert.Equal(t, "ext-facebook", outcomes[0].ExternalPostID)
	assert.False(t, outcomes[2].Published)
	assert.NotEmpty(t, outcomes[2].Error)
}

func TestShare_ExplicitCaptionSkipsGeneration(t *testing.T) {
	p := newPipeline(t)
	dispatcher := &fakeDispatcher{}
	svc := newSocialService(t, p, dispatcher, nil)
	blog := publishedBlog(t, p)

	_, err := svc.Share(context.Background(), blog, 1, ShareInput{
		Platforms: []string{"Twitter"},
		Caption:   "We did it!",
		Hashtags:  []string{"#robotics"},
		ImageURL:  "https://cdn.example.org/custom.png",
	})
	require.NoError(t, err)
	in := dispatcher.inputs[0]
	assert.Equal(t, "We did it!", in.Caption)
	assert.Nil(t, in.PerPlatform)
	assert.Equal(t, "https://cdn.example.org/custom.png", in.ImageURL)
	assert.Equal(t, []models.Platform{models.PlatformTwitter}, in.Platforms)
}

func TestShare_Validation(t *testing.T) {
	p := newPipeline(t)
	svc := newSocialService(t, p, &fakeDispatcher{}, nil)
	blog := publishedBlog(t, p)

	_, err := svc.Share(context.Background(), blog, 1, ShareInput{})
	assertCode(t, models.CodeValidation, err)
	_, err = svc.Share(context.Background(), blog, 1, ShareInput{Platforms: []string{"myspace"}})
	assertCode(t, models.CodeValidation, err)
}

func TestShareBlog_RequiresPublishedBlogAndStaff(t *testing.T) {
	p := newPipeline(t)
	svc := newSocialService(t, p, &fakeDispatcher{}, nil)
	writer := testutil.CreateUser(t, p.db, "writer@desk.example.org", models.RoleWriter, 0)
	_, schoolUser, draft := p.reviewBlog(t, 0, models.BlogReview)

	_, err := svc.ShareBlog(context.Background(), writer, draft.ID, ShareInput{Platforms: []string{"twitter"}})
	assertCode(t, models.CodeInvalidState, err)

	_, err = svc.ShareBlog(context.Background(), schoolUser, draft.ID, ShareInput{Platforms: []string{"twitter"}})
	assertCode(t, models.CodeForbidden, err)

	blog := publishedBlog(t, p)
	outcomes, err := svc.ShareBlog(context.Background(), writer, blog.ID, ShareInput{Platforms: []string{"twitter"}})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Published)
}

func TestListBlogPosts(t *testing.T) {
	p := newPipeline(t)
	svc := newSocialService(t, p, &fakeDispatcher{}, nil)
	blog := publishedBlog(t, p)
	posts := repository.NewSocialPostRepository(p.db)
	blogID := blog.ID
	require.NoError(t, posts.Create(context.Background(), &models.SocialPost{BlogID: &blogID, Platform: models.PlatformFacebook, Caption: "hello"}))

	writer := testutil.CreateUser(t, p.db, "writer@desk.example.org", models.RoleWriter, 0)
	got, err := svc.ListBlogPosts(context.Background(), writer, blog.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.PlatformFacebook, got[0].Platform)

	_, outsider, _ := p.reviewBlog(t, 7, models.BlogReview)
	_, err = svc.ListBlogPosts(context.Background(), outsider, blog.ID)
	assertCode(t, models.CodeForbidden, err)
}

func TestRefreshNow(t *testing.T) {
	p := newPipeline(t)
	admin := testutil.CreateUser(t, p.db, "admin@desk.example.org", models.RoleAdmin, 0)
	writer := testutil.CreateUser(t, p.db, "writer@desk.example.org", models.RoleWriter, 0)

	report := &social.RefreshReport{StartedAt: time.Now(), FinishedAt: time.Now()}
	svc := newSocialService(t, p, nil, &fakeRefresher{report: report})
	got, err := svc.RefreshNow(context.Background(), admin)
	require.NoError(t, err)
	assert.Same(t, report, got)

	_, err = svc.RefreshNow(context.Background(), writer)
	assertCode(t, models.CodeForbidden, err)

	busy := newSocialService(t, p, nil, &fakeRefresher{err: social.ErrRefreshInProgress})
	_, err = busy.RefreshNow(context.Background(), admin)
	assertCode(t, models.CodeInvalidState, err)
}
