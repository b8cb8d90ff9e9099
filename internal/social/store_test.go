package social

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"schooldesk/internal/models"
	"schooldesk/internal/repository"
	"schooldesk/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFixture struct {
	store    *CredentialStore
	tokens   repository.SocialTokenRepository
	linkedIn *linkedInServer
	graph    *httptest.Server
	graphHit atomic.Int32
	now      time.Time
}

// newStoreFixture points Facebook at a Graph stub that swaps any token for
// "page-token" on page 123, unless the token is "broken".
func newStoreFixture(t *testing.T, cfg StoreConfig) *storeFixture {
	t.Helper()
	f := &storeFixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.graph = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.graphHit.Add(1)
		token := r.URL.Query().Get("access_token")
		if token == "broken" {
			writeJSON(w, http.StatusInternalServerError, `{"error":{"message":"unavailable"}}`)
			return
		}
		switch r.URL.Path {
		case "/123":
			writeJSON(w, http.StatusOK, `{"id":"123","access_token":"page-token"}`)
		case "/me":
			if token == "revoked" {
				writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"Error validating access token"}}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"id":"123"}`)
		default:
			writeJSON(w, http.StatusNotFound, `{}`)
		}
	}))
	t.Cleanup(f.graph.Close)
	f.linkedIn = newLinkedInServer(t)

	db := testutil.NewSQLiteDB(t)
	f.tokens = repository.NewSocialTokenRepository(db)
	f.store = NewCredentialStore(f.tokens, NewFacebookClient(f.graph.URL, f.graph.Client()), f.linkedIn.client(), cfg)
	f.store.now = func() time.Time { return f.now }
	return f
}

func (f *storeFixture) saveLinkedIn(t *testing.T, refreshToken string, expiresIn time.Duration) {
	t.Helper()
	expires := f.now.Add(expiresIn)
	require.NoError(t, f.tokens.Upsert(context.Background(), &models.SocialToken{
		Platform:        models.PlatformLinkedIn,
		AccessToken:     "li-access",
		RefreshToken:    refreshToken,
		ExpiresAt:       &expires,
		PersonURN:       "urn:li:person:abc123",
		OrganizationURN: "urn:li:organization:55",
	}))
}

func TestRefreshLinkedIn_ExpiringSoonIsRefreshed(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	f.saveLinkedIn(t, "li-refresh", 3*24*time.Hour)

	outcome, err := f.store.RefreshLinkedIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)
	assert.Equal(t, int32(1), f.linkedIn.tokenCalls.Load())

	tok, err := f.tokens.Get(context.Background(), models.PlatformLinkedIn)
	require.NoError(t, err)
	assert.Equal(t, "li-access-2", tok.AccessToken)
	assert.Equal(t, "li-refresh", tok.RefreshToken)
	assert.Equal(t, "urn:li:person:abc123", tok.PersonURN)
	assert.Equal(t, "urn:li:organization:55", tok.OrganizationURN)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, tok.ExpiresAt.After(f.now.Add(30*24*time.Hour)))
}

func TestRefreshLinkedIn_FreshTokenMakesNoCall(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	f.saveLinkedIn(t, "li-refresh", 30*24*time.Hour)

	outcome, err := f.store.RefreshLinkedIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFresh, outcome)
	assert.Zero(t, f.linkedIn.tokenCalls.Load())
}

func TestRefreshLinkedIn_WithoutRefreshTokenNeedsReauth(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	f.saveLinkedIn(t, "", 2*24*time.Hour)

	outcome, err := f.store.RefreshLinkedIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReauth, outcome)
	assert.Zero(t, f.linkedIn.tokenCalls.Load())

	tok, err := f.tokens.Get(context.Background(), models.PlatformLinkedIn)
	require.NoError(t, err)
	assert.Equal(t, "li-access", tok.AccessToken)
}

func TestRefreshLinkedIn_NotConfigured(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	outcome, err := f.store.RefreshLinkedIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotConfigured, outcome)
}

func TestResolve_LinkedInExpiredIsRefreshedInline(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	f.saveLinkedIn(t, "li-refresh", -time.Hour)

	creds, err := f.store.Resolve(context.Background(), models.PlatformLinkedIn)
	require.NoError(t, err)
	li := creds.(LinkedInCredentials)
	assert.Equal(t, "li-access-2", li.AccessToken)
	assert.Equal(t, "urn:li:organization:55", li.AuthorURN())
}

func TestResolve_LinkedInExpiredWithoutRefreshToken(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	f.saveLinkedIn(t, "", -time.Hour)

	_, err := f.store.Resolve(context.Background(), models.PlatformLinkedIn)
	assert.Equal(t, models.CodeConfigurationMissing, models.ErrorCode(err))
}

func TestResolve_FacebookPersistsExchangedToken(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	require.NoError(t, f.tokens.Upsert(context.Background(), &models.SocialToken{
		Platform: models.PlatformFacebook, AccessToken: "user-token", PageID: "123",
	}))

	creds, err := f.store.Resolve(context.Background(), models.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, FacebookCredentials{PageID: "123", AccessToken: "page-token"}, creds)

	tok, err := f.tokens.Get(context.Background(), models.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, "page-token", tok.AccessToken)
}

func TestResolve_FacebookExchangeFailureUsesStoredToken(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	require.NoError(t, f.tokens.Upsert(context.Background(), &models.SocialToken{
		Platform: models.PlatformFacebook, AccessToken: "broken", PageID: "123",
	}))

	creds, err := f.store.Resolve(context.Background(), models.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, "broken", creds.(FacebookCredentials).AccessToken)
}

func TestResolve_MissingCredentials(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})

	for _, p := range []models.Platform{models.PlatformInstagram, models.PlatformFacebook, models.PlatformLinkedIn} {
		_, err := f.store.Resolve(context.Background(), p)
		assert.Equal(t, models.CodeConfigurationMissing, models.ErrorCode(err), "platform %s", p)
	}

	creds, err := f.store.Resolve(context.Background(), models.PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformTwitter, creds.Platform())

	_, err = f.store.Resolve(context.Background(), "myspace")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestResolve_InstagramFromEnvironment(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{InstagramAccessToken: "ig-token", InstagramAccountID: "ig-1"})

	creds, err := f.store.Resolve(context.Background(), models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, InstagramCredentials{AccessToken: "ig-token", AccountID: "ig-1"}, creds)
}

func TestValidateFacebook(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	ctx := context.Background()

	outcome, err := f.store.ValidateFacebook(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotConfigured, outcome)

	require.NoError(t, f.tokens.Upsert(ctx, &models.SocialToken{Platform: models.PlatformFacebook, AccessToken: "page-token", PageID: "123"}))
	outcome, err = f.store.ValidateFacebook(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeValid, outcome)

	require.NoError(t, f.tokens.Upsert(ctx, &models.SocialToken{Platform: models.PlatformFacebook, AccessToken: "revoked", PageID: "123"}))
	outcome, err = f.store.ValidateFacebook(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsReauth, outcome)
}

func TestSaveFacebook_ExchangesToken(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})

	tok, err := f.store.SaveFacebook(context.Background(), " 123 ", "user-token")
	require.NoError(t, err)
	assert.Equal(t, "page-token", tok.AccessToken)
	assert.Equal(t, "123", tok.PageID)

	_, err = f.store.SaveFacebook(context.Background(), "", "user-token")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestSaveLinkedIn_RequiresTokenAndPersonURN(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	ctx := context.Background()

	_, err := f.store.SaveLinkedIn(ctx, LinkedInInput{AccessToken: "t"})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	_, err = f.store.SaveLinkedIn(ctx, LinkedInInput{AccessToken: "t", PersonURN: "abc"})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	tok, err := f.store.SaveLinkedIn(ctx, LinkedInInput{AccessToken: "t", PersonURN: "urn:li:person:abc"})
	require.NoError(t, err)
	assert.Equal(t, models.PlatformLinkedIn, tok.Platform)
}

func TestLinkedInOAuthFlow(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	ctx := context.Background()
	f.saveLinkedIn(t, "", time.Hour)

	authURL, err := f.store.LinkedInAuthURL(ctx)
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	_, err = f.store.CompleteLinkedInAuth(ctx, "forged", "auth-code")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	tok, err := f.store.CompleteLinkedInAuth(ctx, state, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "li-access", tok.AccessToken)
	assert.Equal(t, "li-refresh", tok.RefreshToken)
	assert.Equal(t, "urn:li:person:abc123", tok.PersonURN)
	assert.Equal(t, "urn:li:organization:55", tok.OrganizationURN)

	// States are single use.
	_, err = f.store.CompleteLinkedInAuth(ctx, state, "auth-code")
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestLinkedInAuthURL_RequiresOAuthConfig(t *testing.T) {
	store := NewCredentialStore(nil, nil, NewLinkedInClient(LinkedInConfig{}), StoreConfig{})
	_, err := store.LinkedInAuthURL(context.Background())
	assert.Equal(t, models.CodeConfigurationMissing, models.ErrorCode(err))
}

func TestDisconnect(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{})
	ctx := context.Background()
	f.saveLinkedIn(t, "li-refresh", time.Hour)

	require.NoError(t, f.store.Disconnect(ctx, models.PlatformLinkedIn))
	tok, err := f.tokens.Get(ctx, models.PlatformLinkedIn)
	require.NoError(t, err)
	assert.Nil(t, tok)

	err = f.store.Disconnect(ctx, models.PlatformInstagram)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
}

func TestStatus(t *testing.T) {
	f := newStoreFixture(t, StoreConfig{InstagramAccessToken: "ig", InstagramAccountID: "1"})
	ctx := context.Background()
	f.saveLinkedIn(t, "", 2*24*time.Hour)

	statuses, err := f.store.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(models.AllPlatforms))

	byPlatform := map[models.Platform]PlatformStatus{}
	for _, s := range statuses {
		byPlatform[s.Platform] = s
	}
	assert.True(t, byPlatform[models.PlatformInstagram].Configured)
	assert.Equal(t, "environment", byPlatform[models.PlatformInstagram].Source)
	assert.False(t, byPlatform[models.PlatformFacebook].Configured)
	assert.True(t, byPlatform[models.PlatformLinkedIn].Configured)
	assert.True(t, byPlatform[models.PlatformLinkedIn].NeedsReauth)
	assert.Equal(t, "urn:li:organization:55", byPlatform[models.PlatformLinkedIn].AuthorURN)
	assert.True(t, byPlatform[models.PlatformTwitter].Configured)
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" LinkedIn ")
	require.NoError(t, err)
	assert.Equal(t, models.PlatformLinkedIn, p)

	_, err = ParsePlatform("myspace")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}
