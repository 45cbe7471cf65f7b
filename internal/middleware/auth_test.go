package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/auth"
	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/session"
)

type fakeUserLoader struct {
	users map[string]*models.UserWithMemberships
	err   error
}

func (f *fakeUserLoader) GetUserWithMemberships(_ context.Context, userID string) (*models.UserWithMemberships, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[userID], nil
}

func authTestRouter(loader *fakeUserLoader) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(loader))
	r.GET("/protected", func(c *gin.Context) {
		caps, _ := c.Get(ContextCapabilitiesKey)
		c.JSON(http.StatusOK, gin.H{
			"user_id":      c.GetString(ContextUserIDKey),
			"identity_id":  c.GetString(ContextIdentityIDKey),
			"capabilities": caps,
		})
	})
	return r
}

func activeUser(role string) *models.UserWithMemberships {
	return &models.UserWithMemberships{
		User: models.User{ID: "u1", IdentityID: "idp_u1", Email: "u1@example.com", Role: role, Active: true},
	}
}

func doAuthRequest(t *testing.T, r *gin.Engine, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	r := authTestRouter(&fakeUserLoader{})
	if w := doAuthRequest(t, r, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareWrongScheme(t *testing.T) {
	r := authTestRouter(&fakeUserLoader{})
	if w := doAuthRequest(t, r, "Basic abc123"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	r := authTestRouter(&fakeUserLoader{})
	if w := doAuthRequest(t, r, "Bearer not-a-token"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	loader := &fakeUserLoader{users: map[string]*models.UserWithMemberships{
		"u1": activeUser(session.RoleOrgAdmin),
	}}
	r := authTestRouter(loader)

	token, err := auth.GenerateJWT("u1", "idp_u1", "u1@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error: %v", err)
	}

	w := doAuthRequest(t, r, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddlewareUnknownUser(t *testing.T) {
	r := authTestRouter(&fakeUserLoader{users: map[string]*models.UserWithMemberships{}})

	token, err := auth.GenerateJWT("ghost", "idp_ghost", "ghost@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error: %v", err)
	}
	if w := doAuthRequest(t, r, "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown user, got %d", w.Code)
	}
}

func TestAuthMiddlewareDeactivatedUser(t *testing.T) {
	user := activeUser(session.RoleOrgAdmin)
	user.Active = false
	r := authTestRouter(&fakeUserLoader{users: map[string]*models.UserWithMemberships{"u1": user}})

	token, err := auth.GenerateJWT("u1", "idp_u1", "u1@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error: %v", err)
	}
	if w := doAuthRequest(t, r, "Bearer "+token); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for deactivated user, got %d", w.Code)
	}
}

func TestAuthMiddlewareLoaderError(t *testing.T) {
	r := authTestRouter(&fakeUserLoader{err: errors.New("db down")})

	token, err := auth.GenerateJWT("u1", "idp_u1", "u1@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error: %v", err)
	}
	if w := doAuthRequest(t, r, "Bearer "+token); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on loader failure, got %d", w.Code)
	}
}
