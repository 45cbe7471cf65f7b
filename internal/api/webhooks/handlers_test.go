package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compliance-hub/compliance-hub/internal/db/models"
	"github.com/compliance-hub/compliance-hub/internal/db/repositories"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

const testSecret = "whsec_dGVzdC1zaWduaW5nLWtleQ=="

type fakeUserStore struct {
	users   map[string]*models.User
	patched map[string]repositories.UserPatch
	err     error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:   make(map[string]*models.User),
		patched: make(map[string]repositories.UserPatch),
	}
}

func (f *fakeUserStore) GetUserByIdentityID(_ context.Context, identityID string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.IdentityID == identityID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) UpdateUser(_ context.Context, userID string, patch repositories.UserPatch) error {
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
	if f.err != nil {
		return f.err
	}
	f.invalidated = append(f.invalidated, identityID)
	return nil
}

func webhookRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/v1/webhooks/identity", h.HandleEvent())
	return r
}

func newTestHandlers(users *fakeUserStore, cache *fakeInvalidator, now time.Time) *Handlers {
	h := NewHandlers(testSecret, users, cache)
	h.now = func() time.Time { return now }
	return h
}

func sign(t *testing.T, id, timestamp string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, signingKey(testSecret))
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, r *gin.Engine, body []byte, at time.Time) *httptest.ResponseRecorder {
	t.Helper()
	timestamp := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("webhook-id", "msg_1")
	req.Header.Set("webhook-timestamp", timestamp)
	req.Header.Set("webhook-signature", sign(t, "msg_1", timestamp, body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUserUpdatedInvalidatesSession(t *testing.T) {
	now := time.Now()
	cache := &fakeInvalidator{}
	h := newTestHandlers(newFakeUserStore(), cache, now)
	r := webhookRouter(h)

	body := []byte(`{"type":"user.updated","data":{"id":"idn_1"}}`)
	w := deliver(t, r, body, now)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "idn_1" {
		t.Errorf("invalidated = %v, want [idn_1]", cache.invalidated)
	}
}

func TestMembershipEventInvalidatesMember(t *testing.T) {
	now := time.Now()
	cache := &fakeInvalidator{}
	h := newTestHandlers(newFakeUserStore(), cache, now)
	r := webhookRouter(h)

	body := []byte(`{"type":"organizationMembership.deleted","data":{"public_user_data":{"user_id":"idn_7"}}}`)
	w := deliver(t, r, body, now)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "idn_7" {
		t.Errorf("invalidated = %v, want [idn_7]", cache.invalidated)
	}
}

func TestUserDeletedDeactivatesRecord(t *testing.T) {
	now := time.Now()
	users := newFakeUserStore()
	users.users["u1"] = &models.User{ID: "u1", IdentityID: "idn_1", Active: true}
	cache := &fakeInvalidator{}
	h := newTestHandlers(users, cache, now)
	r := webhookRouter(h)

	body := []byte(`{"type":"user.deleted","data":{"id":"idn_1"}}`)
	w := deliver(t, r, body, now)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	patch, ok := users.patched["u1"]
	if !ok || patch.Active == nil || *patch.Active {
		t.Errorf("patch = %+v, want Active=false", patch)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "idn_1" {
		t.Errorf("invalidated = %v, want [idn_1]", cache.invalidated)
	}
}

func TestUserDeletedUnknownRecordStillAcknowledged(t *testing.T) {
	now := time.Now()
	users := newFakeUserStore()
	cache := &fakeInvalidator{}
	r := webhookRouter(newTestHandlers(users, cache, now))

	body := []byte(`{"type":"user.deleted","data":{"id":"idn_ghost"}}`)
	if w := deliver(t, r, body, now); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(users.patched) != 0 {
		t.Errorf("patched = %v, want none", users.patched)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	now := time.Now()
	cache := &fakeInvalidator{}
	r := webhookRouter(newTestHandlers(newFakeUserStore(), cache, now))

	body := []byte(`{"type":"user.updated","data":{"id":"idn_1"}}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("webhook-id", "msg_1")
	req.Header.Set("webhook-timestamp", timestamp)
	req.Header.Set("webhook-signature", "v1,bm90LXRoZS1yaWdodC1zaWduYXR1cmU=")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("invalidated = %v, want none", cache.invalidated)
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	now := time.Now()
	cache := &fakeInvalidator{}
	r := webhookRouter(newTestHandlers(newFakeUserStore(), cache, now))

	body := []byte(`{"type":"user.updated","data":{"id":"idn_1"}}`)
	w := deliver(t, r, body, now.Add(-10*time.Minute))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("invalidated = %v, want none", cache.invalidated)
	}
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	now := time.Now()
	cache := &fakeInvalidator{}
	r := webhookRouter(newTestHandlers(newFakeUserStore(), cache, now))

	body := []byte(`{"type":"email.created","data":{"id":"eml_1"}}`)
	w := deliver(t, r, body, now)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("invalidated = %v, want none", cache.invalidated)
	}
}

func TestInvalidationFailureStillAcknowledged(t *testing.T) {
	now := time.Now()
	cache := &fakeInvalidator{err: context.DeadlineExceeded}
	r := webhookRouter(newTestHandlers(newFakeUserStore(), cache, now))

	body := []byte(`{"type":"user.updated","data":{"id":"idn_1"}}`)
	if w := deliver(t, r, body, now); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUnconfiguredSecretUnavailable(t *testing.T) {
	h := NewHandlers("", newFakeUserStore(), &fakeInvalidator{})
	r := webhookRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/identity", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
