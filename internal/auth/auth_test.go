package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth() *Auth {
	return New("actions-secret", "user-secret", "dorm-key")
}

func TestCrawlerTokenRoundTrip(t *testing.T) {
	a := newTestAuth()

	token, err := a.SignCrawlerToken("job-1", []string{ScopeClaim, ScopeIngest}, 10*time.Minute)
	require.NoError(t, err)

	claims, err := a.VerifyCrawlerToken(token)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claims.JobID)
	assert.True(t, claims.HasScope(ScopeClaim))
	assert.True(t, claims.HasScope(ScopeIngest))
	assert.False(t, claims.HasScope("admin"))
}

func TestCrawlerTokenExpired(t *testing.T) {
	a := newTestAuth()

	// Past the verification leeway.
	token, err := a.SignCrawlerToken("job-1", []string{ScopeClaim}, -2*time.Minute)
	require.NoError(t, err)

	_, err = a.VerifyCrawlerToken(token)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestCrawlerTokenWrongSecret(t *testing.T) {
	a := newTestAuth()
	other := New("different-secret", "user-secret", "dorm-key")

	token, err := a.SignCrawlerToken("job-1", []string{ScopeClaim}, 10*time.Minute)
	require.NoError(t, err)

	_, err = other.VerifyCrawlerToken(token)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestUserTokenRoundTrip(t *testing.T) {
	a := newTestAuth()

	token, err := a.SignUserToken("user-1", "a@example.com", 7*24*time.Hour)
	require.NoError(t, err)

	claims, err := a.VerifyUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UID)
	assert.Equal(t, "a@example.com", claims.Email)

	// User tokens are not crawler tokens.
	_, err = a.VerifyCrawlerToken(token)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.Contains(t, hash, "pbkdf2$10000$")

	assert.True(t, VerifyPassword("hunter2", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("hunter2", "garbage"))
	assert.False(t, VerifyPassword("hunter2", "pbkdf2$abc$x$y"))

	// Salted: same password, different hashes.
	hash2, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
}

func TestHashedDir(t *testing.T) {
	a := newTestAuth()

	h1 := a.HashedDir("campus:1:2:301")
	h2 := a.HashedDir("campus:1:2:301")
	h3 := a.HashedDir("campus:1:2:302")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64) // hex SHA-256

	// Different key, different pseudonym.
	other := New("actions-secret", "user-secret", "other-key")
	assert.NotEqual(t, h1, other.HashedDir("campus:1:2:301"))
}

func TestRequireCrawlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestAuth()

	router := gin.New()
	router.POST("/claim", a.RequireCrawler(ScopeClaim), func(c *gin.Context) {
		claims := CrawlerClaimsFrom(c)
		c.JSON(http.StatusOK, gin.H{"job_id": claims.JobID})
	})

	do := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/claim", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// Missing header.
	assert.Equal(t, http.StatusUnauthorized, do("").Code)

	// Garbage token.
	assert.Equal(t, http.StatusUnauthorized, do("Bearer nope").Code)

	// Token without the required scope.
	ingestOnly, err := a.SignCrawlerToken("job-1", []string{ScopeIngest}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do("Bearer "+ingestOnly).Code)

	// Valid token.
	ok, err := a.SignCrawlerToken("job-1", []string{ScopeClaim}, time.Minute)
	require.NoError(t, err)
	resp := do("Bearer " + ok)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "job-1")
}
