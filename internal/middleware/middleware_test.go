package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type stubAuthenticator struct {
	identities map[string]*models.Identity
	users      map[string]*models.User
}

func (s *stubAuthenticator) ValidateToken(ctx context.Context, token string) (*models.Identity, error) {
	identity, ok := s.identities[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return identity, nil
}

func (s *stubAuthenticator) LookupIdentity(ctx context.Context, pk string) (*models.User, error) {
	return s.users[pk], nil
}

type recordingObserver struct {
	paths []string
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.paths = append(r.paths, path)
}

func newAuthRouter(auth TokenAuthenticator, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWT(auth, "adminToken", "studentToken"), RequireRoles(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, IdentityFromContext(c).Identifier)
	})
	return r
}

func testAuthenticator() *stubAuthenticator {
	return &stubAuthenticator{
		identities: map[string]*models.Identity{
			"admin-token":   {Role: models.RoleAdmin, Identifier: "root@example.com", PK: "ADMIN#root@example.com"},
			"student-token": {Role: models.RoleStudent, Identifier: "USN1", PK: "STUDENT#USN1"},
			"ghost-token":   {Role: models.RoleAdmin, Identifier: "gone@example.com", PK: "ADMIN#gone@example.com"},
		},
		users: map[string]*models.User{
			"ADMIN#root@example.com": {PK: "ADMIN#root@example.com"},
			"STUDENT#USN1":           {PK: "STUDENT#USN1"},
		},
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.NotEmpty(t, envelope.Errors)
	return envelope.Errors[0].Code
}

func TestJWTAcceptsBearerAndCookie(t *testing.T) {
	r := newAuthRouter(testAuthenticator(), models.RoleAdmin, models.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "root@example.com", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "studentToken", Value: "student-token"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USN1", w.Body.String())
}

func TestJWTRejections(t *testing.T) {
	r := newAuthRouter(testAuthenticator(), models.RoleAdmin)

	cases := map[string]string{
		"":                   "UNAUTHORIZED",
		"Token admin-token":  "UNAUTHORIZED",
		"Bearer bogus":       "UNAUTHORIZED",
		"Bearer ghost-token": "UNAUTHORIZED",
	}
	for header, code := range cases {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Equal(t, code, errorCode(t, w.Body.Bytes()), header)
	}
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	r := newAuthRouter(testAuthenticator(), models.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer student-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w.Body.Bytes()))
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/timetable/weekly/:section", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/timetable/weekly/3A", "/timetable/weekly/4B", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, []string{"/timetable/weekly/:section", "/timetable/weekly/:section", "unmatched"}, observer.paths)
}

func TestResponseMetaRecordsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/view", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/view", nil))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, true, meta[cacheHitKey])
}
