package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeSettings struct {
	values map[string]string
	err    error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: make(map[string]string)}
}

func (s *fakeSettings) Get(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.values[key], nil
}

func (s *fakeSettings) Set(_ context.Context, key, value string) error {
	if s.err != nil {
		return s.err
	}
	s.values[key] = value
	return nil
}

func (s *fakeSettings) IsOnboardingCompleted(_ context.Context) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.values[repositories.SettingOnboardingCompleted] == "true", nil
}

type fakeUsers struct {
	byEmail map[string]*models.User
	patched map[string]repositories.UserPatch
	err     error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byEmail: make(map[string]*models.User),
		patched: make(map[string]repositories.UserPatch),
	}
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byEmail[email], nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, userID string, patch repositories.UserPatch) error {
	if f.err != nil {
		return f.err
	}
	f.patched[userID] = patch
	return nil
}

type fakeInvalidator struct {
	invalidated []string
	err         error
}

func (f *fakeInvalidator) InvalidateSessionCache(_ context.Context, identityID string) error {
	f.invalidated = append(f.invalidated, identityID)
	return f.err
}

func testRouter(settings *fakeSettings, users *fakeUsers, cache *fakeInvalidator) *gin.Engine {
	h := NewHandlers(settings, users, cache)
	r := gin.New()
	r.GET("/v1/onboarding/status", h.StatusHandler())
	r.POST("/v1/onboarding/validate-token", h.ValidateTokenHandler())
	r.POST("/v1/onboarding/admin", h.ConfigureAdminHandler())
	r.POST("/v1/onboarding/complete", h.CompleteHandler())
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFresh(t *testing.T) {
	r := testRouter(newFakeSettings(), newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodGet, "/v1/onboarding/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Completed bool `json:"onboarding_completed"`
		Admin     bool `json:"admin_configured"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Completed || resp.Admin {
		t.Errorf("fresh install should report nothing configured: %+v", resp)
	}
}

func TestValidateToken(t *testing.T) {
	r := testRouter(newFakeSettings(), newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodPost, "/v1/onboarding/validate-token", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestConfigureAdminPromotes(t *testing.T) {
	settings := newFakeSettings()
	users := newFakeUsers()
	users.byEmail["ada@example.com"] = &models.User{
		ID: "u1", IdentityID: "idn_1", Email: "ada@example.com",
	}
	cache := &fakeInvalidator{}
	r := testRouter(settings, users, cache)

	w := doJSON(t, r, http.MethodPost, "/v1/onboarding/admin", map[string]any{
		"email": "Ada@Example.com",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	patch, ok := users.patched["u1"]
	if !ok || patch.Role == nil || *patch.Role != "super_admin" {
		t.Fatalf("patch = %+v, want Role=super_admin", patch)
	}
	if settings.values[repositories.SettingOnboardingAdminEmail] != "ada@example.com" {
		t.Errorf("admin email setting = %q", settings.values[repositories.SettingOnboardingAdminEmail])
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "idn_1" {
		t.Errorf("invalidated = %v, want [idn_1]", cache.invalidated)
	}
}

func TestConfigureAdminUnknownEmail(t *testing.T) {
	r := testRouter(newFakeSettings(), newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodPost, "/v1/onboarding/admin", map[string]any{
		"email": "ghost@example.com",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConfigureAdminRequiresValidEmail(t *testing.T) {
	r := testRouter(newFakeSettings(), newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodPost, "/v1/onboarding/admin", map[string]any{
		"email": "not-an-email",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCompleteRequiresAdmin(t *testing.T) {
	settings := newFakeSettings()
	r := testRouter(settings, newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodPost, "/v1/onboarding/complete", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without an admin", w.Code)
	}
	if settings.values[repositories.SettingOnboardingCompleted] == "true" {
		t.Error("onboarding must not complete without an admin")
	}
}

func TestCompleteMarksFinished(t *testing.T) {
	settings := newFakeSettings()
	settings.values[repositories.SettingOnboardingAdminEmail] = "ada@example.com"
	r := testRouter(settings, newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodPost, "/v1/onboarding/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if settings.values[repositories.SettingOnboardingCompleted] != "true" {
		t.Error("completed flag not persisted")
	}

	// Status now reflects completion.
	w = doJSON(t, r, http.MethodGet, "/v1/onboarding/status", nil)
	var resp struct {
		Completed bool `json:"onboarding_completed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Completed {
		t.Error("status should report completion")
	}
}

func TestSettingsErrorsSurface(t *testing.T) {
	settings := newFakeSettings()
	settings.err = errors.New("db down")
	r := testRouter(settings, newFakeUsers(), &fakeInvalidator{})

	w := doJSON(t, r, http.MethodGet, "/v1/onboarding/status", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
