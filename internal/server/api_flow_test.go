package server

import (
	"fmt"
	"net/http"
	"testing"

	"schooldesk/internal/config"
	"schooldesk/internal/models"
	"schooldesk/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiActors struct {
	school     *models.School
	admin      *models.User
	writer     *models.User
	schoolUser *models.User
}

func seedActors(e *testEnv, coins int64) apiActors {
	e.t.Helper()
	school := testutil.CreateSchool(e.t, e.db, "Riverside High", coins)
	return apiActors{
		school:     school,
		admin:      testutil.CreateUser(e.t, e.db, "admin@example.com", models.RoleAdmin, 0),
		writer:     testutil.CreateUser(e.t, e.db, "writer@example.com", models.RoleWriter, 0),
		schoolUser: testutil.CreateUser(e.t, e.db, "office@riverside.example.com", models.RoleSchool, school.ID),
	}
}

// reviewedBlog walks a submission through drafting into review over the API.
func reviewedBlog(e *testEnv, a apiActors) models.Blog {
	e.t.Helper()

	var sub models.Submission
	status := e.do(a.schoolUser, http.MethodPost, "/api/submissions", map[string]interface{}{
		"title":       "Science fair winners",
		"description": "Three students took home medals.",
		"category":    "achievement",
	}, &sub)
	require.Equal(e.t, http.StatusCreated, status)
	assert.Equal(e.t, models.SubmissionSubmitted, sub.Status)
	assert.Equal(e.t, a.school.ID, sub.SchoolID)

	var blog models.Blog
	status = e.do(a.writer, http.MethodPost, "/api/blogs", map[string]interface{}{
		"submission_id": sub.ID,
		"title":         "Science Fair Winners Shine",
		"content":       "<p>Three students took home medals at the county science fair.</p>",
		"tags":          []string{"news", "science"},
	}, &blog)
	require.Equal(e.t, http.StatusCreated, status)
	assert.Equal(e.t, models.BlogDraftWriter, blog.Status)

	path := fmt.Sprintf("/api/blogs/%d", blog.ID)
	require.Equal(e.t, http.StatusOK, e.do(a.writer, http.MethodPost, path+"/ready", nil, &blog))
	assert.Equal(e.t, models.BlogDraftCreated, blog.Status)

	require.Equal(e.t, http.StatusOK, e.do(a.writer, http.MethodPost, path+"/review", nil, &blog))
	assert.Equal(e.t, models.BlogReview, blog.Status)
	require.NotNil(e.t, blog.AssignedSchoolID)
	assert.Equal(e.t, a.school.ID, *blog.AssignedSchoolID)
	return blog
}

func TestAPI_PublishFlowChargesSchool(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.FeatureFlags = "ai_captions=off,social_autopost=on"
	})
	a := seedActors(e, 200)
	blog := reviewedBlog(e, a)
	path := fmt.Sprintf("/api/blogs/%d", blog.ID)

	require.Equal(t, http.StatusOK, e.do(a.schoolUser, http.MethodPost, path+"/approve", nil, &blog))
	assert.Equal(t, models.BlogApprovedSchool, blog.Status)

	var result struct {
		Blog    models.Blog `json:"blog"`
		Charged bool        `json:"charged"`
		Balance *int64      `json:"balance"`
		Social  []struct {
			Platform       string `json:"platform"`
			Published      bool   `json:"published"`
			ExternalPostID string `json:"external_post_id"`
		} `json:"social"`
	}
	require.Equal(t, http.StatusOK, e.do(a.schoolUser, http.MethodPost, path+"/publish", nil, &result))
	assert.Equal(t, models.BlogPublishedWP, result.Blog.Status)
	assert.True(t, result.Charged)
	require.NotNil(t, result.Balance)
	assert.EqualValues(t, 151, *result.Balance)
	assert.NotEmpty(t, result.Blog.WordPressURL)
	assert.Equal(t, 1, e.wp.count())

	require.Len(t, result.Social, 1)
	assert.Equal(t, "twitter", result.Social[0].Platform)
	assert.True(t, result.Social[0].Published)
	assert.Contains(t, result.Social[0].ExternalPostID, "simulated-")

	var balance struct {
		Coins int64 `json:"coins"`
	}
	require.Equal(t, http.StatusOK,
		e.do(a.schoolUser, http.MethodGet, fmt.Sprintf("/api/schools/%d/balance", a.school.ID), nil, &balance))
	assert.EqualValues(t, 151, balance.Coins)

	var history struct {
		Items []models.Transaction `json:"items"`
		Total int64                `json:"total"`
	}
	require.Equal(t, http.StatusOK,
		e.do(a.schoolUser, http.MethodGet, fmt.Sprintf("/api/schools/%d/transactions", a.school.ID), nil, &history))
	assert.EqualValues(t, 2, history.Total)
	types := map[models.TransactionType]int64{}
	for _, tx := range history.Items {
		types[tx.Type] = tx.Coins
	}
	assert.EqualValues(t, 99, types[models.TransactionDebit])
	assert.EqualValues(t, 50, types[models.TransactionReward])

	var posts []models.SocialPost
	require.Equal(t, http.StatusOK, e.do(a.schoolUser, http.MethodGet, path+"/social-posts", nil, &posts))
	require.Len(t, posts, 1)
	assert.Equal(t, models.PlatformTwitter, posts[0].Platform)
	assert.True(t, posts[0].IsPublished)

	var sub models.Submission
	require.Equal(t, http.StatusOK,
		e.do(a.schoolUser, http.MethodGet, fmt.Sprintf("/api/submissions/%d", blog.SubmissionID), nil, &sub))
	assert.Equal(t, models.SubmissionPublishedWP, sub.Status)

	// a second publish is refused by the state machine and does not charge again
	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusConflict, e.do(a.schoolUser, http.MethodPost, path+"/publish", nil, &errBody))
	assert.Equal(t, models.CodeInvalidState, errBody.Code)
	assert.EqualValues(t, 151, testutil.Balance(t, e.db, a.school.ID))
}

func TestAPI_PublishWithInsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 40)
	blog := reviewedBlog(e, a)

	var errBody models.ErrorResponse
	status := e.do(a.schoolUser, http.MethodPost, fmt.Sprintf("/api/blogs/%d/publish", blog.ID), nil, &errBody)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, models.CodeInsufficientBalance, errBody.Code)
	require.NotNil(t, errBody.Balance)
	assert.EqualValues(t, 40, *errBody.Balance)

	assert.Equal(t, 0, e.wp.count())
	assert.EqualValues(t, 40, testutil.Balance(t, e.db, a.school.ID))
	assert.Empty(t, testutil.Transactions(t, e.db, a.school.ID))

	var reloaded models.Blog
	require.Equal(t, http.StatusOK, e.do(a.schoolUser, http.MethodGet, fmt.Sprintf("/api/blogs/%d", blog.ID), nil, &reloaded))
	assert.Equal(t, models.BlogReview, reloaded.Status)
}

func TestAPI_AdminPublishIsFree(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 0)
	blog := reviewedBlog(e, a)

	var result struct {
		Blog    models.Blog `json:"blog"`
		Charged bool        `json:"charged"`
	}
	require.Equal(t, http.StatusOK, e.do(a.admin, http.MethodPost, fmt.Sprintf("/api/blogs/%d/publish", blog.ID), nil, &result))
	assert.False(t, result.Charged)
	assert.Equal(t, models.BlogPublishedWP, result.Blog.Status)
	assert.EqualValues(t, 0, testutil.Balance(t, e.db, a.school.ID))
	assert.Empty(t, testutil.Transactions(t, e.db, a.school.ID))
}

func TestAPI_WordPressFailureRetainsCharge(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 200)
	blog := reviewedBlog(e, a)
	e.wp.setFailing(true)

	var errBody models.ErrorResponse
	status := e.do(a.schoolUser, http.MethodPost, fmt.Sprintf("/api/blogs/%d/publish", blog.ID), nil, &errBody)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, models.CodeUpstreamFailure, errBody.Code)

	assert.EqualValues(t, 151, testutil.Balance(t, e.db, a.school.ID))
	var reloaded models.Blog
	require.NoError(t, e.db.First(&reloaded, blog.ID).Error)
	assert.Equal(t, models.BlogReview, reloaded.Status)
}

func TestAPI_WordPressFailureCompensates(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.PublishFailurePolicy = config.PublishFailureCompensate
	})
	a := seedActors(e, 200)
	blog := reviewedBlog(e, a)
	e.wp.setFailing(true)

	status := e.do(a.schoolUser, http.MethodPost, fmt.Sprintf("/api/blogs/%d/publish", blog.ID), nil, nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.EqualValues(t, 200, testutil.Balance(t, e.db, a.school.ID))
	assert.Len(t, testutil.Transactions(t, e.db, a.school.ID), 4)
}

func TestAPI_RejectRequiresReason(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 200)
	blog := reviewedBlog(e, a)
	path := fmt.Sprintf("/api/blogs/%d/reject", blog.ID)

	var errBody models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, e.do(a.schoolUser, http.MethodPost, path, map[string]string{}, &errBody))
	assert.Equal(t, models.CodeValidation, errBody.Code)

	var rejected models.Blog
	require.Equal(t, http.StatusOK,
		e.do(a.schoolUser, http.MethodPost, path, map[string]string{"reason": "Wrong photo"}, &rejected))
	assert.Equal(t, models.BlogRejected, rejected.Status)
	assert.Equal(t, "Wrong photo", rejected.RejectionReason)
}

func TestAPI_OtherSchoolCannotDecide(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 200)
	blog := reviewedBlog(e, a)

	other := testutil.CreateSchool(t, e.db, "Hillcrest Academy", 500)
	outsider := testutil.CreateUser(t, e.db, "office@hillcrest.example.com", models.RoleSchool, other.ID)

	var errBody models.ErrorResponse
	status := e.do(outsider, http.MethodPost, fmt.Sprintf("/api/blogs/%d/approve", blog.ID), nil, &errBody)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, models.CodeForbidden, errBody.Code)

	status = e.do(outsider, http.MethodGet, fmt.Sprintf("/api/schools/%d/balance", a.school.ID), nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAPI_AdminOnlyRoutes(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 200)

	routes := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/api/admin/users", nil},
		{http.MethodGet, "/api/admin/feature-flags", nil},
		{http.MethodGet, "/api/admin/social/status", nil},
		{http.MethodPost, "/api/schools", map[string]string{"name": "New School"}},
		{http.MethodPost, fmt.Sprintf("/api/schools/%d/grant", a.school.ID), map[string]int{"coins": 100}},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			for _, user := range []*models.User{a.writer, a.schoolUser} {
				assert.Equal(t, http.StatusForbidden, e.do(user, rt.method, rt.path, rt.body, nil), user.Email)
			}
			assert.Equal(t, http.StatusUnauthorized, e.do(nil, rt.method, rt.path, rt.body, nil))
		})
	}
}

func TestAPI_AdminGrantAndReconcile(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 0)

	var entry models.Transaction
	status := e.do(a.admin, http.MethodPost, fmt.Sprintf("/api/schools/%d/grant", a.school.ID),
		map[string]interface{}{"coins": 297, "description": "term package"}, &entry)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.TransactionPurchase, entry.Type)
	assert.EqualValues(t, 297, entry.CoinsAfter)

	var rec struct {
		Balance   int64 `json:"balance"`
		LedgerSum int64 `json:"ledger_sum"`
		Balanced  bool  `json:"balanced"`
	}
	require.Equal(t, http.StatusOK,
		e.do(a.admin, http.MethodGet, fmt.Sprintf("/api/schools/%d/reconcile", a.school.ID), nil, &rec))
	assert.EqualValues(t, 297, rec.Balance)
	assert.EqualValues(t, 297, rec.LedgerSum)
	assert.True(t, rec.Balanced)
}

func TestAPI_SchoolListsOwnSubmissions(t *testing.T) {
	e := newTestEnv(t)
	a := seedActors(e, 0)

	for i := 0; i < 3; i++ {
		status := e.do(a.schoolUser, http.MethodPost, "/api/submissions", map[string]string{
			"title":    fmt.Sprintf("Notice %d", i),
			"category": "announcement",
		}, nil)
		assert.Equal(t, http.StatusCreated, status)
	}

	var list struct {
		Items []models.Submission `json:"items"`
		Total int64               `json:"total"`
	}
	require.Equal(t, http.StatusOK, e.do(a.schoolUser, http.MethodGet, "/api/submissions", nil, &list))
	assert.EqualValues(t, 3, list.Total)
}
